package database

import (
	"context"
	"database/sql"
	"strings"

	"github.com/victorgomez09/garagedesk/internal/auth/models"
)

// InsertAuditLog appends one audit record. Records are never updated.
func (d *DB) InsertAuditLog(ctx context.Context, e *models.AuditLog) error {
	_, err := d.exec(ctx, `
		INSERT INTO audit_log (id, user_id, username, action, entity_type, entity_id, details, ip_address, request_id, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, nullInt(e.UserID), e.Username, e.Action, e.EntityType, e.EntityID, e.Details,
		e.IPAddress, e.RequestID, e.Timestamp.UTC())
	return wrapErr("insert audit log", err)
}

// ListAuditLogs returns the newest records matching f.
func (d *DB) ListAuditLogs(ctx context.Context, f models.AuditFilter) ([]models.AuditLog, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != nil {
		where = append(where, "user_id = ?")
		args = append(args, *f.UserID)
	}
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, f.Action)
	}
	if f.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, f.EntityType)
	}

	q := `SELECT id, user_id, username, action, entity_type, entity_id, details, ip_address, request_id, occurred_at
		FROM audit_log`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY occurred_at DESC, id LIMIT ?"
	args = append(args, clampLimit(f.Limit))

	rows, err := d.query(ctx, q, args...)
	if err != nil {
		return nil, wrapErr("list audit logs", err)
	}
	defer rows.Close()

	var out []models.AuditLog
	for rows.Next() {
		var (
			e      models.AuditLog
			userID sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &userID, &e.Username, &e.Action, &e.EntityType, &e.EntityID,
			&e.Details, &e.IPAddress, &e.RequestID, &e.Timestamp); err != nil {
			return nil, wrapErr("list audit logs", err)
		}
		e.UserID = ptrInt(userID)
		out = append(out, e)
	}
	return out, wrapErr("list audit logs", rows.Err())
}
