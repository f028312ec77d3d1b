package database

import (
	"context"
	"database/sql"

	"github.com/victorgomez09/garagedesk/internal/garage"
)

const serviceColumns = `id, vehicle_id, technician_id, service_type, description, cost_cents, status,
	service_date, completed_at, notes, created_at, updated_at`

func scanService(row scanner) (*garage.Service, error) {
	var (
		s           garage.Service
		techID      sql.NullInt64
		completedAt sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.VehicleID, &techID, &s.ServiceType, &s.Description, &s.CostCents, &s.Status,
		&s.ServiceDate, &completedAt, &s.Notes, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.TechnicianID = ptrInt(techID)
	s.CompletedAt = ptrTime(completedAt)
	return &s, nil
}

// CreateService inserts a job. Without a technician, the least busy active
// technician is assigned.
func (d *DB) CreateService(ctx context.Context, s *garage.Service) error {
	now := d.timestamp()
	s.Normalize(now)
	if s.TechnicianID == nil {
		id, err := d.LeastBusyTechnician(ctx)
		if err != nil {
			return err
		}
		s.TechnicianID = id
	}

	id, err := d.insert(ctx, `
		INSERT INTO services (vehicle_id, technician_id, service_type, description, cost_cents, status,
			service_date, completed_at, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.VehicleID, nullInt(s.TechnicianID), s.ServiceType, s.Description, s.CostCents, s.Status,
		s.ServiceDate, nullTime(s.CompletedAt), s.Notes, now, now)
	if err != nil {
		return wrapErr("create service", err)
	}
	s.ID, s.CreatedAt, s.UpdatedAt = id, now, now
	return nil
}

func (d *DB) GetService(ctx context.Context, id int64) (*garage.Service, error) {
	s, err := scanService(d.queryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = ?`, id))
	return s, wrapErr("get service", err)
}

// ServiceFilter narrows ListServices. Zero values match everything.
type ServiceFilter struct {
	VehicleID    int64
	TechnicianID int64
	Status       string
}

func (d *DB) ListServices(ctx context.Context, f ServiceFilter, opts garage.ListOptions) ([]garage.Service, error) {
	q := `SELECT ` + serviceColumns + ` FROM services WHERE 1 = 1`
	var args []any
	if f.VehicleID > 0 {
		q += ` AND vehicle_id = ?`
		args = append(args, f.VehicleID)
	}
	if f.TechnicianID > 0 {
		q += ` AND technician_id = ?`
		args = append(args, f.TechnicianID)
	}
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, f.Status)
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, clampLimit(opts.Limit), opts.Offset)

	rows, err := d.query(ctx, q, args...)
	if err != nil {
		return nil, wrapErr("list services", err)
	}
	defer rows.Close()

	out := []garage.Service{}
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, wrapErr("list services", err)
		}
		out = append(out, *s)
	}
	return out, wrapErr("list services", rows.Err())
}

// UpdateService replaces a job. completed_at is kept from the stored row
// while the job stays completed.
func (d *DB) UpdateService(ctx context.Context, s *garage.Service) error {
	current, err := d.GetService(ctx, s.ID)
	if err != nil {
		return err
	}
	s.CompletedAt = current.CompletedAt
	s.Normalize(d.timestamp())

	if err := d.execOne(ctx, "update service", `
		UPDATE services SET vehicle_id = ?, technician_id = ?, service_type = ?, description = ?, cost_cents = ?,
			status = ?, service_date = ?, completed_at = ?, notes = ?, updated_at = ?
		WHERE id = ?`,
		s.VehicleID, nullInt(s.TechnicianID), s.ServiceType, s.Description, s.CostCents,
		s.Status, s.ServiceDate, nullTime(s.CompletedAt), s.Notes, d.timestamp(), s.ID); err != nil {
		return err
	}
	fresh, err := d.GetService(ctx, s.ID)
	if err != nil {
		return err
	}
	*s = *fresh
	return nil
}

func (d *DB) DeleteService(ctx context.Context, id int64) error {
	return d.execOne(ctx, "delete service", `DELETE FROM services WHERE id = ?`, id)
}
