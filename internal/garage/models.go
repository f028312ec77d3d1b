// Package garage holds the back-office entities and the rules that apply to
// them independent of storage.
package garage

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/victorgomez09/garagedesk/internal/apierr"
)

// Service job states.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
	StatusConfirmed  = "confirmed"
)

// Payment states and methods.
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
	PaymentRefunded  = "refunded"

	MethodCash         = "Cash"
	MethodCard         = "Card"
	MethodMPesa        = "M-Pesa"
	MethodBankTransfer = "Bank Transfer"
)

type Customer struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name" validate:"required,max=100"`
	Email     string    `json:"email,omitempty" validate:"omitempty,email,max=254"`
	Phone     string    `json:"phone,omitempty" validate:"omitempty,phone"`
	Address   string    `json:"address,omitempty" validate:"max=500"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Vehicle struct {
	ID           int64     `json:"id"`
	CustomerID   int64     `json:"customer_id" validate:"required,gt=0"`
	Make         string    `json:"make" validate:"required,max=50"`
	Model        string    `json:"model" validate:"required,max=50"`
	Year         int       `json:"year" validate:"gte=1900,lte=2100"`
	LicensePlate string    `json:"license_plate" validate:"required,max=20"`
	VIN          string    `json:"vin,omitempty" validate:"max=17"`
	Color        string    `json:"color,omitempty" validate:"max=30"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Technician struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name" validate:"required,max=100"`
	Specialty string    `json:"specialty,omitempty" validate:"max=100"`
	Phone     string    `json:"phone,omitempty" validate:"omitempty,phone"`
	Active    bool      `json:"active"`
	OpenJobs  int       `json:"open_jobs"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Service is a job performed on a vehicle.
type Service struct {
	ID           int64      `json:"id"`
	VehicleID    int64      `json:"vehicle_id" validate:"required,gt=0"`
	TechnicianID *int64     `json:"technician_id,omitempty"`
	ServiceType  string     `json:"service_type" validate:"required,max=100"`
	Description  string     `json:"description,omitempty" validate:"max=1000"`
	CostCents    int64      `json:"cost_cents" validate:"gte=0"`
	Status       string     `json:"status" validate:"omitempty,oneof=pending in_progress completed cancelled"`
	ServiceDate  string     `json:"service_date,omitempty" validate:"omitempty,date"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Notes        string     `json:"notes,omitempty" validate:"max=1000"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Normalize fills defaults and stamps CompletedAt when the job is completed.
func (s *Service) Normalize(now time.Time) {
	if s.Status == "" {
		s.Status = StatusPending
	}
	if s.Status == StatusCompleted {
		if s.CompletedAt == nil {
			t := now.UTC()
			s.CompletedAt = &t
		}
	} else {
		s.CompletedAt = nil
	}
}

// Part is an inventory item.
type Part struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name" validate:"required,max=100"`
	Category      string    `json:"category,omitempty" validate:"max=50"`
	SKU           string    `json:"sku,omitempty" validate:"max=50"`
	StockQuantity int       `json:"stock_quantity" validate:"gte=0"`
	PriceCents    int64     `json:"price_cents" validate:"gte=0"`
	MinStock      int       `json:"min_stock" validate:"gte=0"`
	Description   string    `json:"description,omitempty" validate:"max=500"`
	LowStock      bool      `json:"low_stock"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// IsLowStock reports whether stock has fallen to the reorder threshold.
func (p *Part) IsLowStock() bool { return p.StockQuantity <= p.MinStock }

type Booking struct {
	ID          int64     `json:"id"`
	CustomerID  int64     `json:"customer_id" validate:"required,gt=0"`
	VehicleID   *int64    `json:"vehicle_id,omitempty"`
	ServiceType string    `json:"service_type" validate:"required,max=100"`
	BookingDate string    `json:"booking_date" validate:"required,date"`
	BookingTime string    `json:"booking_time" validate:"required,clock"`
	Status      string    `json:"status" validate:"omitempty,oneof=pending confirmed completed cancelled"`
	Notes       string    `json:"notes,omitempty" validate:"max=1000"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Normalize fills defaults and rejects bookings dated before today.
// Only new bookings are date-checked; updates may keep a past date.
func (b *Booking) Normalize(now time.Time, isNew bool) error {
	if b.Status == "" {
		b.Status = StatusPending
	}
	if !isNew {
		return nil
	}
	day, err := time.Parse(time.DateOnly, b.BookingDate)
	if err != nil {
		return apierr.Invalid("booking_date", "must be a date in YYYY-MM-DD format")
	}
	today := now.UTC().Truncate(24 * time.Hour)
	if day.Before(today) {
		return apierr.Invalid("booking_date", "cannot be in the past")
	}
	return nil
}

type Payment struct {
	ID            int64     `json:"id"`
	BookingID     *int64    `json:"booking_id,omitempty"`
	ServiceID     *int64    `json:"service_id,omitempty"`
	AmountCents   int64     `json:"amount_cents" validate:"gt=0"`
	Method        string    `json:"method" validate:"required,oneof=Cash Card M-Pesa 'Bank Transfer'"`
	Status        string    `json:"status" validate:"omitempty,oneof=pending completed failed refunded"`
	TransactionID string    `json:"transaction_id,omitempty" validate:"max=64"`
	PhoneNumber   string    `json:"phone_number,omitempty" validate:"omitempty,phone"`
	PaidAt        time.Time `json:"paid_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// Normalize fills defaults and enforces cross-field rules.
func (p *Payment) Normalize(now time.Time) error {
	if p.BookingID == nil && p.ServiceID == nil {
		return apierr.Invalid("booking_id", "booking_id or service_id is required")
	}
	if p.Method == MethodMPesa && strings.TrimSpace(p.PhoneNumber) == "" {
		return apierr.Invalid("phone_number", "is required for M-Pesa payments")
	}
	if p.Status == "" {
		p.Status = PaymentCompleted
	}
	if p.TransactionID == "" {
		p.TransactionID = "TXN-" + strings.ToUpper(uuid.NewString()[:8])
	}
	if p.PaidAt.IsZero() {
		p.PaidAt = now.UTC()
	}
	return nil
}

// FormatCents renders an amount in minor units as "1234.50".
func FormatCents(c int64) string {
	sign := ""
	if c < 0 {
		sign, c = "-", -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}

// ListOptions pages a listing. Limit is clamped by the store.
type ListOptions struct {
	Limit  int
	Offset int
}

// Dashboard is the back-office summary. Service revenue sums completed
// jobs; payments received sums completed payments.
type Dashboard struct {
	TotalCustomers      int       `json:"total_customers"`
	TotalVehicles       int       `json:"total_vehicles"`
	TotalTechnicians    int       `json:"total_technicians"`
	PendingServices     int       `json:"pending_services"`
	PendingBookings     int       `json:"pending_bookings"`
	LowStockParts       int       `json:"low_stock_parts"`
	PendingPayments     int       `json:"pending_payments"`
	ServiceRevenueCents int64     `json:"service_revenue_cents"`
	PaymentsCents       int64     `json:"payments_received_cents"`
	RecentBookings      []Booking `json:"recent_bookings"`
}
