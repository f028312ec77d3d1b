package database

import (
	"context"

	"github.com/victorgomez09/garagedesk/internal/garage"
)

// Dashboard collects the back-office summary counters.
func (d *DB) Dashboard(ctx context.Context) (*garage.Dashboard, error) {
	var s garage.Dashboard
	err := d.queryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM customers),
			(SELECT COUNT(*) FROM vehicles),
			(SELECT COUNT(*) FROM technicians WHERE active = ?),
			(SELECT COUNT(*) FROM services WHERE status IN ('pending', 'in_progress')),
			(SELECT COUNT(*) FROM bookings WHERE status = 'pending'),
			(SELECT COUNT(*) FROM parts WHERE stock_quantity <= min_stock),
			(SELECT COUNT(*) FROM payments WHERE status = 'pending'),
			CAST(COALESCE((SELECT SUM(cost_cents) FROM services WHERE status = 'completed'), 0) AS BIGINT),
			CAST(COALESCE((SELECT SUM(amount_cents) FROM payments WHERE status = 'completed'), 0) AS BIGINT)`, true).Scan(
		&s.TotalCustomers, &s.TotalVehicles, &s.TotalTechnicians, &s.PendingServices, &s.PendingBookings,
		&s.LowStockParts, &s.PendingPayments, &s.ServiceRevenueCents, &s.PaymentsCents)
	if err != nil {
		return nil, wrapErr("dashboard", err)
	}

	rows, err := d.query(ctx, `SELECT `+bookingColumns+` FROM bookings ORDER BY created_at DESC, id DESC LIMIT 5`)
	if err != nil {
		return nil, wrapErr("dashboard", err)
	}
	defer rows.Close()

	s.RecentBookings = []garage.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, wrapErr("dashboard", err)
		}
		s.RecentBookings = append(s.RecentBookings, *b)
	}
	return &s, wrapErr("dashboard", rows.Err())
}
