package database

import (
	"context"
	"time"

	"github.com/victorgomez09/garagedesk/internal/auth/models"
)

const sessionColumns = `s.id, s.user_id, s.token_hash, s.created_at, s.expires_at, s.last_activity_at, s.ip_address, s.user_agent`

func scanSession(row scanner) (*models.Session, error) {
	var s models.Session
	if err := (sessionScanner{row: row, s: &s}).Scan(); err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSession inserts s and sets its id.
func (d *DB) CreateSession(ctx context.Context, s *models.Session) error {
	id, err := d.insert(ctx, `
		INSERT INTO sessions (user_id, token_hash, created_at, expires_at, last_activity_at, ip_address, user_agent)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.UserID, s.TokenHash, s.CreatedAt.UTC(), s.ExpiresAt.UTC(), s.LastActivityAt.UTC(), s.IPAddress, s.UserAgent)
	if err != nil {
		return wrapErr("create session", err)
	}
	s.ID = id
	return nil
}

// GetSessionWithUser resolves a token hash to its session and owning user.
func (d *DB) GetSessionWithUser(ctx context.Context, tokenHash string) (*models.Session, *models.User, error) {
	row := d.queryRow(ctx, `
		SELECT `+sessionColumns+`, u.id, u.username, COALESCE(u.email, ''), u.name, u.password, u.role, u.active,
			u.failed_attempts, u.locked_until, u.last_login, u.password_changed_at, u.created_at, u.updated_at
		FROM sessions s JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = ?`, tokenHash)

	var s models.Session
	u, err := scanUser(sessionScanner{row: row, s: &s})
	if err != nil {
		return nil, nil, wrapErr("get session", err)
	}
	return &s, u, nil
}

// sessionScanner scans the session columns, then any extra destinations.
type sessionScanner struct {
	row scanner
	s   *models.Session
}

func (x sessionScanner) Scan(dest ...any) error {
	s := x.s
	all := append([]any{&s.ID, &s.UserID, &s.TokenHash, &s.CreatedAt, &s.ExpiresAt, &s.LastActivityAt,
		&s.IPAddress, &s.UserAgent}, dest...)
	return x.row.Scan(all...)
}

// TouchSession records activity on a session.
func (d *DB) TouchSession(ctx context.Context, id int64, at time.Time) error {
	return d.execOne(ctx, "touch session", `UPDATE sessions SET last_activity_at = ? WHERE id = ?`, at.UTC(), id)
}

// DeleteSession removes one session by token hash. Deleting a missing
// session is not an error.
func (d *DB) DeleteSession(ctx context.Context, tokenHash string) (bool, error) {
	res, err := d.exec(ctx, `DELETE FROM sessions WHERE token_hash = ?`, tokenHash)
	if err != nil {
		return false, wrapErr("delete session", err)
	}
	n, err := res.RowsAffected()
	return n > 0, wrapErr("delete session", err)
}

// DeleteUserSessions removes every session owned by userID.
func (d *DB) DeleteUserSessions(ctx context.Context, userID int64) (int64, error) {
	res, err := d.exec(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID)
	if err != nil {
		return 0, wrapErr("delete user sessions", err)
	}
	n, err := res.RowsAffected()
	return n, wrapErr("delete user sessions", err)
}

// DeleteStaleSessions removes sessions expired before now or idle since before idleBefore.
func (d *DB) DeleteStaleSessions(ctx context.Context, now, idleBefore time.Time) (int64, error) {
	res, err := d.exec(ctx, `DELETE FROM sessions WHERE expires_at < ? OR last_activity_at < ?`,
		now.UTC(), idleBefore.UTC())
	if err != nil {
		return 0, wrapErr("delete stale sessions", err)
	}
	n, err := res.RowsAffected()
	return n, wrapErr("delete stale sessions", err)
}

// ListUserSessions returns the user's sessions that are still live at now.
func (d *DB) ListUserSessions(ctx context.Context, userID int64, now, idleBefore time.Time) ([]models.Session, error) {
	rows, err := d.query(ctx, `
		SELECT `+sessionColumns+` FROM sessions s
		WHERE s.user_id = ? AND s.expires_at >= ? AND s.last_activity_at >= ?
		ORDER BY s.last_activity_at DESC`, userID, now.UTC(), idleBefore.UTC())
	if err != nil {
		return nil, wrapErr("list sessions", err)
	}
	defer rows.Close()

	var out []models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, wrapErr("list sessions", err)
		}
		out = append(out, *s)
	}
	return out, wrapErr("list sessions", rows.Err())
}
