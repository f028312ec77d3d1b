package admin

import (
	"context"

	"github.com/victorgomez09/garagedesk/internal/database"
	"github.com/victorgomez09/garagedesk/internal/garage"
)

// Store is the garage persistence served by the API. *database.DB
// implements it.
type Store interface {
	Ping(ctx context.Context) error
	Dashboard(ctx context.Context) (*garage.Dashboard, error)

	CreateCustomer(ctx context.Context, c *garage.Customer) error
	GetCustomer(ctx context.Context, id int64) (*garage.Customer, error)
	ListCustomers(ctx context.Context, opts garage.ListOptions) ([]garage.Customer, error)
	UpdateCustomer(ctx context.Context, c *garage.Customer) error
	DeleteCustomer(ctx context.Context, id int64) error

	CreateVehicle(ctx context.Context, v *garage.Vehicle) error
	GetVehicle(ctx context.Context, id int64) (*garage.Vehicle, error)
	ListVehicles(ctx context.Context, customerID int64, opts garage.ListOptions) ([]garage.Vehicle, error)
	UpdateVehicle(ctx context.Context, v *garage.Vehicle) error
	DeleteVehicle(ctx context.Context, id int64) error

	CreateTechnician(ctx context.Context, t *garage.Technician) error
	GetTechnician(ctx context.Context, id int64) (*garage.Technician, error)
	ListTechnicians(ctx context.Context, opts garage.ListOptions) ([]garage.Technician, error)
	UpdateTechnician(ctx context.Context, t *garage.Technician) error
	DeleteTechnician(ctx context.Context, id int64) error

	CreateService(ctx context.Context, s *garage.Service) error
	GetService(ctx context.Context, id int64) (*garage.Service, error)
	ListServices(ctx context.Context, f database.ServiceFilter, opts garage.ListOptions) ([]garage.Service, error)
	UpdateService(ctx context.Context, s *garage.Service) error
	DeleteService(ctx context.Context, id int64) error

	CreateBooking(ctx context.Context, b *garage.Booking) error
	GetBooking(ctx context.Context, id int64) (*garage.Booking, error)
	ListBookings(ctx context.Context, status string, opts garage.ListOptions) ([]garage.Booking, error)
	UpdateBooking(ctx context.Context, b *garage.Booking) error
	DeleteBooking(ctx context.Context, id int64) error

	CreatePart(ctx context.Context, p *garage.Part) error
	GetPart(ctx context.Context, id int64) (*garage.Part, error)
	ListParts(ctx context.Context, lowStockOnly bool, opts garage.ListOptions) ([]garage.Part, error)
	UpdatePart(ctx context.Context, p *garage.Part) error
	DeletePart(ctx context.Context, id int64) error

	CreatePayment(ctx context.Context, p *garage.Payment) error
	GetPayment(ctx context.Context, id int64) (*garage.Payment, error)
	ListPayments(ctx context.Context, opts garage.ListOptions) ([]garage.Payment, error)
	UpdatePayment(ctx context.Context, p *garage.Payment) error
	DeletePayment(ctx context.Context, id int64) error
}

var _ Store = (*database.DB)(nil)
