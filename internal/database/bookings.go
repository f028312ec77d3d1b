package database

import (
	"context"
	"database/sql"

	"github.com/victorgomez09/garagedesk/internal/garage"
)

const bookingColumns = `id, customer_id, vehicle_id, service_type, booking_date, booking_time, status, notes, created_at, updated_at`

func scanBooking(row scanner) (*garage.Booking, error) {
	var (
		b         garage.Booking
		vehicleID sql.NullInt64
	)
	if err := row.Scan(&b.ID, &b.CustomerID, &vehicleID, &b.ServiceType, &b.BookingDate, &b.BookingTime,
		&b.Status, &b.Notes, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.VehicleID = ptrInt(vehicleID)
	return &b, nil
}

func (d *DB) CreateBooking(ctx context.Context, b *garage.Booking) error {
	now := d.timestamp()
	if err := b.Normalize(now, true); err != nil {
		return err
	}
	id, err := d.insert(ctx, `
		INSERT INTO bookings (customer_id, vehicle_id, service_type, booking_date, booking_time, status, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.CustomerID, nullInt(b.VehicleID), b.ServiceType, b.BookingDate, b.BookingTime, b.Status, b.Notes, now, now)
	if err != nil {
		return wrapErr("create booking", err)
	}
	b.ID, b.CreatedAt, b.UpdatedAt = id, now, now
	return nil
}

func (d *DB) GetBooking(ctx context.Context, id int64) (*garage.Booking, error) {
	b, err := scanBooking(d.queryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
	return b, wrapErr("get booking", err)
}

// ListBookings lists bookings by date, optionally filtered by status.
func (d *DB) ListBookings(ctx context.Context, status string, opts garage.ListOptions) ([]garage.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings`
	var args []any
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY booking_date DESC, booking_time DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, clampLimit(opts.Limit), opts.Offset)

	rows, err := d.query(ctx, q, args...)
	if err != nil {
		return nil, wrapErr("list bookings", err)
	}
	defer rows.Close()

	out := []garage.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, wrapErr("list bookings", err)
		}
		out = append(out, *b)
	}
	return out, wrapErr("list bookings", rows.Err())
}

func (d *DB) UpdateBooking(ctx context.Context, b *garage.Booking) error {
	if err := b.Normalize(d.timestamp(), false); err != nil {
		return err
	}
	if err := d.execOne(ctx, "update booking", `
		UPDATE bookings SET customer_id = ?, vehicle_id = ?, service_type = ?, booking_date = ?, booking_time = ?,
			status = ?, notes = ?, updated_at = ?
		WHERE id = ?`,
		b.CustomerID, nullInt(b.VehicleID), b.ServiceType, b.BookingDate, b.BookingTime, b.Status, b.Notes,
		d.timestamp(), b.ID); err != nil {
		return err
	}
	fresh, err := d.GetBooking(ctx, b.ID)
	if err != nil {
		return err
	}
	*b = *fresh
	return nil
}

func (d *DB) DeleteBooking(ctx context.Context, id int64) error {
	return d.execOne(ctx, "delete booking", `DELETE FROM bookings WHERE id = ?`, id)
}
