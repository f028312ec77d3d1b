package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/victorgomez09/garagedesk/internal/garage"
)

const technicianColumns = `t.id, t.name, t.specialty, t.phone, t.active, t.created_at, t.updated_at,
	(SELECT COUNT(*) FROM services s WHERE s.technician_id = t.id AND s.status IN ('pending', 'in_progress'))`

func scanTechnician(row scanner) (*garage.Technician, error) {
	var t garage.Technician
	if err := row.Scan(&t.ID, &t.Name, &t.Specialty, &t.Phone, &t.Active, &t.CreatedAt, &t.UpdatedAt, &t.OpenJobs); err != nil {
		return nil, err
	}
	return &t, nil
}

func (d *DB) CreateTechnician(ctx context.Context, t *garage.Technician) error {
	now := d.timestamp()
	id, err := d.insert(ctx, `
		INSERT INTO technicians (name, specialty, phone, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.Name, t.Specialty, t.Phone, t.Active, now, now)
	if err != nil {
		return wrapErr("create technician", err)
	}
	t.ID, t.CreatedAt, t.UpdatedAt = id, now, now
	return nil
}

func (d *DB) GetTechnician(ctx context.Context, id int64) (*garage.Technician, error) {
	t, err := scanTechnician(d.queryRow(ctx, `SELECT `+technicianColumns+` FROM technicians t WHERE t.id = ?`, id))
	return t, wrapErr("get technician", err)
}

func (d *DB) ListTechnicians(ctx context.Context, opts garage.ListOptions) ([]garage.Technician, error) {
	rows, err := d.query(ctx, `SELECT `+technicianColumns+` FROM technicians t ORDER BY t.name, t.id LIMIT ? OFFSET ?`,
		clampLimit(opts.Limit), opts.Offset)
	if err != nil {
		return nil, wrapErr("list technicians", err)
	}
	defer rows.Close()

	out := []garage.Technician{}
	for rows.Next() {
		t, err := scanTechnician(rows)
		if err != nil {
			return nil, wrapErr("list technicians", err)
		}
		out = append(out, *t)
	}
	return out, wrapErr("list technicians", rows.Err())
}

func (d *DB) UpdateTechnician(ctx context.Context, t *garage.Technician) error {
	if err := d.execOne(ctx, "update technician", `
		UPDATE technicians SET name = ?, specialty = ?, phone = ?, active = ?, updated_at = ? WHERE id = ?`,
		t.Name, t.Specialty, t.Phone, t.Active, d.timestamp(), t.ID); err != nil {
		return err
	}
	fresh, err := d.GetTechnician(ctx, t.ID)
	if err != nil {
		return err
	}
	*t = *fresh
	return nil
}

// DeleteTechnician removes the technician; their jobs become unassigned.
func (d *DB) DeleteTechnician(ctx context.Context, id int64) error {
	return d.execOne(ctx, "delete technician", `DELETE FROM technicians WHERE id = ?`, id)
}

// LeastBusyTechnician returns the active technician with the fewest open
// jobs, lowest id first on ties. It returns nil when nobody is active.
func (d *DB) LeastBusyTechnician(ctx context.Context) (*int64, error) {
	var id int64
	err := d.queryRow(ctx, `
		SELECT t.id FROM technicians t
		LEFT JOIN services s ON s.technician_id = t.id AND s.status IN ('pending', 'in_progress')
		WHERE t.active = ?
		GROUP BY t.id
		ORDER BY COUNT(s.id) ASC, t.id ASC
		LIMIT 1`, true).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("pick technician", err)
	}
	return &id, nil
}
