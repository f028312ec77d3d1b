package admin

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/victorgomez09/garagedesk/internal/apierr"
	"github.com/victorgomez09/garagedesk/internal/database"
	"github.com/victorgomez09/garagedesk/internal/garage"
)

func (a *AdminAPI) registerResources() {
	s := a.store

	(&resource[garage.Customer]{
		name:  "customer",
		path:  "/api/customers",
		blank: func() *garage.Customer { return &garage.Customer{} },
		list: func(r *http.Request, opts garage.ListOptions) ([]garage.Customer, error) {
			return s.ListCustomers(r.Context(), opts)
		},
		get:    s.GetCustomer,
		create: s.CreateCustomer,
		update: s.UpdateCustomer,
		remove: s.DeleteCustomer,
		setID:  func(c *garage.Customer, id int64) { c.ID = id },
		getID:  func(c *garage.Customer) int64 { return c.ID },
		label:  func(c *garage.Customer) string { return c.Name },
	}).register(a)

	(&resource[garage.Vehicle]{
		name:  "vehicle",
		path:  "/api/vehicles",
		blank: func() *garage.Vehicle { return &garage.Vehicle{} },
		list: func(r *http.Request, opts garage.ListOptions) ([]garage.Vehicle, error) {
			customerID, err := queryID(r, "customer_id")
			if err != nil {
				return nil, err
			}
			return s.ListVehicles(r.Context(), customerID, opts)
		},
		get:    s.GetVehicle,
		create: s.CreateVehicle,
		update: s.UpdateVehicle,
		remove: s.DeleteVehicle,
		setID:  func(v *garage.Vehicle, id int64) { v.ID = id },
		getID:  func(v *garage.Vehicle) int64 { return v.ID },
		label: func(v *garage.Vehicle) string {
			return fmt.Sprintf("%s %s (%s)", v.Make, v.Model, v.LicensePlate)
		},
	}).register(a)

	(&resource[garage.Technician]{
		name: "technician",
		path: "/api/technicians",
		// new technicians are active unless the request says otherwise
		blank: func() *garage.Technician { return &garage.Technician{Active: true} },
		list: func(r *http.Request, opts garage.ListOptions) ([]garage.Technician, error) {
			return s.ListTechnicians(r.Context(), opts)
		},
		get:    s.GetTechnician,
		create: s.CreateTechnician,
		update: s.UpdateTechnician,
		remove: s.DeleteTechnician,
		setID:  func(t *garage.Technician, id int64) { t.ID = id },
		getID:  func(t *garage.Technician) int64 { return t.ID },
		label:  func(t *garage.Technician) string { return t.Name },
		changes: func(before, after *garage.Technician) string {
			if before.Active != after.Active {
				return "active=" + strconv.FormatBool(after.Active)
			}
			return ""
		},
	}).register(a)

	(&resource[garage.Service]{
		name:  "service",
		path:  "/api/services",
		blank: func() *garage.Service { return &garage.Service{} },
		list: func(r *http.Request, opts garage.ListOptions) ([]garage.Service, error) {
			var f database.ServiceFilter
			var err error
			if f.VehicleID, err = queryID(r, "vehicle_id"); err != nil {
				return nil, err
			}
			if f.TechnicianID, err = queryID(r, "technician_id"); err != nil {
				return nil, err
			}
			f.Status = r.URL.Query().Get("status")
			return s.ListServices(r.Context(), f, opts)
		},
		get:    s.GetService,
		create: s.CreateService,
		update: s.UpdateService,
		remove: s.DeleteService,
		setID:  func(v *garage.Service, id int64) { v.ID = id },
		getID:  func(v *garage.Service) int64 { return v.ID },
		label:  func(v *garage.Service) string { return fmt.Sprintf("%s for vehicle #%d", v.ServiceType, v.VehicleID) },
		changes: func(before, after *garage.Service) string {
			var parts []string
			if before.Status != after.Status {
				parts = append(parts, "status="+after.Status)
			}
			if !sameID(before.TechnicianID, after.TechnicianID) {
				parts = append(parts, "technician="+idString(after.TechnicianID))
			}
			if before.CostCents != after.CostCents {
				parts = append(parts, "cost="+garage.FormatCents(after.CostCents))
			}
			return strings.Join(parts, ", ")
		},
	}).register(a)

	(&resource[garage.Booking]{
		name:  "booking",
		path:  "/api/bookings",
		blank: func() *garage.Booking { return &garage.Booking{} },
		list: func(r *http.Request, opts garage.ListOptions) ([]garage.Booking, error) {
			status := r.URL.Query().Get("status")
			if err := a.validator.Var("status", status, "omitempty,oneof=pending confirmed completed cancelled"); err != nil {
				return nil, err
			}
			return s.ListBookings(r.Context(), status, opts)
		},
		get:    s.GetBooking,
		create: s.CreateBooking,
		update: s.UpdateBooking,
		remove: s.DeleteBooking,
		setID:  func(b *garage.Booking, id int64) { b.ID = id },
		getID:  func(b *garage.Booking) int64 { return b.ID },
		label: func(b *garage.Booking) string {
			return fmt.Sprintf("%s on %s at %s", b.ServiceType, b.BookingDate, b.BookingTime)
		},
		changes: func(before, after *garage.Booking) string {
			if before.Status != after.Status {
				return "status=" + after.Status
			}
			return ""
		},
	}).register(a)

	(&resource[garage.Part]{
		name:  "part",
		path:  "/api/parts",
		blank: func() *garage.Part { return &garage.Part{} },
		list: func(r *http.Request, opts garage.ListOptions) ([]garage.Part, error) {
			lowStock := false
			if v := r.URL.Query().Get("low_stock"); v != "" {
				b, err := strconv.ParseBool(v)
				if err != nil {
					return nil, apierr.Invalid("low_stock", "must be true or false")
				}
				lowStock = b
			}
			return s.ListParts(r.Context(), lowStock, opts)
		},
		get:    s.GetPart,
		create: s.CreatePart,
		update: s.UpdatePart,
		remove: s.DeletePart,
		setID:  func(p *garage.Part, id int64) { p.ID = id },
		getID:  func(p *garage.Part) int64 { return p.ID },
		label:  func(p *garage.Part) string { return p.Name },
		changes: func(before, after *garage.Part) string {
			if before.StockQuantity != after.StockQuantity {
				return fmt.Sprintf("stock %d -> %d", before.StockQuantity, after.StockQuantity)
			}
			return ""
		},
	}).register(a)

	(&resource[garage.Payment]{
		name:  "payment",
		path:  "/api/payments",
		blank: func() *garage.Payment { return &garage.Payment{} },
		list: func(r *http.Request, opts garage.ListOptions) ([]garage.Payment, error) {
			return s.ListPayments(r.Context(), opts)
		},
		get:    s.GetPayment,
		create: s.CreatePayment,
		update: s.UpdatePayment,
		remove: s.DeletePayment,
		setID:  func(p *garage.Payment, id int64) { p.ID = id },
		getID:  func(p *garage.Payment) int64 { return p.ID },
		label: func(p *garage.Payment) string {
			return fmt.Sprintf("%s %s via %s", p.TransactionID, garage.FormatCents(p.AmountCents), p.Method)
		},
		changes: func(before, after *garage.Payment) string {
			if before.Status != after.Status {
				return "status=" + after.Status
			}
			return ""
		},
	}).register(a)
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func idString(p *int64) string {
	if p == nil {
		return "none"
	}
	return "#" + strconv.FormatInt(*p, 10)
}
