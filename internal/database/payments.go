package database

import (
	"context"
	"database/sql"

	"github.com/victorgomez09/garagedesk/internal/garage"
)

const paymentColumns = `id, booking_id, service_id, amount_cents, method, status, transaction_id, phone_number, paid_at, created_at`

func scanPayment(row scanner) (*garage.Payment, error) {
	var (
		p         garage.Payment
		bookingID sql.NullInt64
		serviceID sql.NullInt64
	)
	if err := row.Scan(&p.ID, &bookingID, &serviceID, &p.AmountCents, &p.Method, &p.Status, &p.TransactionID,
		&p.PhoneNumber, &p.PaidAt, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.BookingID = ptrInt(bookingID)
	p.ServiceID = ptrInt(serviceID)
	return &p, nil
}

func (d *DB) CreatePayment(ctx context.Context, p *garage.Payment) error {
	now := d.timestamp()
	if err := p.Normalize(now); err != nil {
		return err
	}
	id, err := d.insert(ctx, `
		INSERT INTO payments (booking_id, service_id, amount_cents, method, status, transaction_id, phone_number, paid_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullInt(p.BookingID), nullInt(p.ServiceID), p.AmountCents, p.Method, p.Status, p.TransactionID,
		p.PhoneNumber, p.PaidAt.UTC(), now)
	if err != nil {
		return wrapErr("create payment", err)
	}
	p.ID, p.CreatedAt = id, now
	return nil
}

func (d *DB) GetPayment(ctx context.Context, id int64) (*garage.Payment, error) {
	p, err := scanPayment(d.queryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id))
	return p, wrapErr("get payment", err)
}

func (d *DB) ListPayments(ctx context.Context, opts garage.ListOptions) ([]garage.Payment, error) {
	rows, err := d.query(ctx, `SELECT `+paymentColumns+` FROM payments ORDER BY paid_at DESC, id DESC LIMIT ? OFFSET ?`,
		clampLimit(opts.Limit), opts.Offset)
	if err != nil {
		return nil, wrapErr("list payments", err)
	}
	defer rows.Close()

	out := []garage.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, wrapErr("list payments", err)
		}
		out = append(out, *p)
	}
	return out, wrapErr("list payments", rows.Err())
}

// UpdatePayment replaces a payment's mutable fields. The transaction id and
// creation time never change.
func (d *DB) UpdatePayment(ctx context.Context, p *garage.Payment) error {
	current, err := d.GetPayment(ctx, p.ID)
	if err != nil {
		return err
	}
	p.TransactionID = current.TransactionID
	if p.PaidAt.IsZero() {
		p.PaidAt = current.PaidAt
	}
	if err := p.Normalize(d.timestamp()); err != nil {
		return err
	}
	if err := d.execOne(ctx, "update payment", `
		UPDATE payments SET booking_id = ?, service_id = ?, amount_cents = ?, method = ?, status = ?,
			phone_number = ?, paid_at = ?
		WHERE id = ?`,
		nullInt(p.BookingID), nullInt(p.ServiceID), p.AmountCents, p.Method, p.Status, p.PhoneNumber,
		p.PaidAt.UTC(), p.ID); err != nil {
		return err
	}
	fresh, err := d.GetPayment(ctx, p.ID)
	if err != nil {
		return err
	}
	*p = *fresh
	return nil
}

func (d *DB) DeletePayment(ctx context.Context, id int64) error {
	return d.execOne(ctx, "delete payment", `DELETE FROM payments WHERE id = ?`, id)
}
