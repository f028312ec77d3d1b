package database

import (
	"context"
	"strings"

	"github.com/victorgomez09/garagedesk/internal/garage"
)

const vehicleColumns = `id, customer_id, make, model, year, license_plate, vin, color, created_at, updated_at`

func scanVehicle(row scanner) (*garage.Vehicle, error) {
	var v garage.Vehicle
	if err := row.Scan(&v.ID, &v.CustomerID, &v.Make, &v.Model, &v.Year, &v.LicensePlate, &v.VIN, &v.Color,
		&v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

func normalizePlate(p string) string {
	return strings.ToUpper(strings.TrimSpace(p))
}

func (d *DB) CreateVehicle(ctx context.Context, v *garage.Vehicle) error {
	now := d.timestamp()
	v.LicensePlate = normalizePlate(v.LicensePlate)
	id, err := d.insert(ctx, `
		INSERT INTO vehicles (customer_id, make, model, year, license_plate, vin, color, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.CustomerID, v.Make, v.Model, v.Year, v.LicensePlate, strings.ToUpper(v.VIN), v.Color, now, now)
	if err != nil {
		return wrapErr("create vehicle", err)
	}
	v.ID, v.CreatedAt, v.UpdatedAt = id, now, now
	v.VIN = strings.ToUpper(v.VIN)
	return nil
}

func (d *DB) GetVehicle(ctx context.Context, id int64) (*garage.Vehicle, error) {
	v, err := scanVehicle(d.queryRow(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE id = ?`, id))
	return v, wrapErr("get vehicle", err)
}

// ListVehicles lists vehicles, optionally only those of one customer.
func (d *DB) ListVehicles(ctx context.Context, customerID int64, opts garage.ListOptions) ([]garage.Vehicle, error) {
	q := `SELECT ` + vehicleColumns + ` FROM vehicles`
	var args []any
	if customerID > 0 {
		q += ` WHERE customer_id = ?`
		args = append(args, customerID)
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, clampLimit(opts.Limit), opts.Offset)

	rows, err := d.query(ctx, q, args...)
	if err != nil {
		return nil, wrapErr("list vehicles", err)
	}
	defer rows.Close()

	out := []garage.Vehicle{}
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, wrapErr("list vehicles", err)
		}
		out = append(out, *v)
	}
	return out, wrapErr("list vehicles", rows.Err())
}

func (d *DB) UpdateVehicle(ctx context.Context, v *garage.Vehicle) error {
	v.LicensePlate = normalizePlate(v.LicensePlate)
	if err := d.execOne(ctx, "update vehicle", `
		UPDATE vehicles SET customer_id = ?, make = ?, model = ?, year = ?, license_plate = ?, vin = ?, color = ?, updated_at = ?
		WHERE id = ?`,
		v.CustomerID, v.Make, v.Model, v.Year, v.LicensePlate, strings.ToUpper(v.VIN), v.Color, d.timestamp(), v.ID); err != nil {
		return err
	}
	fresh, err := d.GetVehicle(ctx, v.ID)
	if err != nil {
		return err
	}
	*v = *fresh
	return nil
}

// DeleteVehicle removes the vehicle and its service history.
func (d *DB) DeleteVehicle(ctx context.Context, id int64) error {
	return d.execOne(ctx, "delete vehicle", `DELETE FROM vehicles WHERE id = ?`, id)
}
