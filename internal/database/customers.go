package database

import (
	"context"
	"strings"

	"github.com/victorgomez09/garagedesk/internal/garage"
)

const customerColumns = `id, name, COALESCE(email, ''), phone, address, created_at, updated_at`

func scanCustomer(row scanner) (*garage.Customer, error) {
	var c garage.Customer
	if err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (d *DB) CreateCustomer(ctx context.Context, c *garage.Customer) error {
	now := d.timestamp()
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	id, err := d.insert(ctx, `
		INSERT INTO customers (name, email, phone, address, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.Name, nullString(c.Email), c.Phone, c.Address, now, now)
	if err != nil {
		return wrapErr("create customer", err)
	}
	c.ID, c.CreatedAt, c.UpdatedAt = id, now, now
	return nil
}

func (d *DB) GetCustomer(ctx context.Context, id int64) (*garage.Customer, error) {
	c, err := scanCustomer(d.queryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id))
	return c, wrapErr("get customer", err)
}

func (d *DB) ListCustomers(ctx context.Context, opts garage.ListOptions) ([]garage.Customer, error) {
	rows, err := d.query(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		clampLimit(opts.Limit), opts.Offset)
	if err != nil {
		return nil, wrapErr("list customers", err)
	}
	defer rows.Close()

	out := []garage.Customer{}
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, wrapErr("list customers", err)
		}
		out = append(out, *c)
	}
	return out, wrapErr("list customers", rows.Err())
}

func (d *DB) UpdateCustomer(ctx context.Context, c *garage.Customer) error {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	if err := d.execOne(ctx, "update customer", `
		UPDATE customers SET name = ?, email = ?, phone = ?, address = ?, updated_at = ? WHERE id = ?`,
		c.Name, nullString(c.Email), c.Phone, c.Address, d.timestamp(), c.ID); err != nil {
		return err
	}
	fresh, err := d.GetCustomer(ctx, c.ID)
	if err != nil {
		return err
	}
	*c = *fresh
	return nil
}

// DeleteCustomer removes the customer with their vehicles, services and bookings.
func (d *DB) DeleteCustomer(ctx context.Context, id int64) error {
	return d.execOne(ctx, "delete customer", `DELETE FROM customers WHERE id = ?`, id)
}
