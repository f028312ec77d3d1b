package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/victorgomez09/garagedesk/internal/auth/models"
)

const userColumns = `id, username, COALESCE(email, ''), name, password, role, active,
	failed_attempts, locked_until, last_login, password_changed_at, created_at, updated_at`

func scanUser(row scanner) (*models.User, error) {
	var (
		u           models.User
		lockedUntil sql.NullTime
		lastLogin   sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Name, &u.Password, &u.Role, &u.Active,
		&u.FailedAttempts, &lockedUntil, &lastLogin, &u.PasswordChangedAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.LockedUntil = ptrTime(lockedUntil)
	u.LastLogin = ptrTime(lastLogin)
	return &u, nil
}

// CreateUser inserts u and sets its id and timestamps.
func (d *DB) CreateUser(ctx context.Context, u *models.User) error {
	now := d.timestamp()
	id, err := d.insert(ctx, `
		INSERT INTO users (username, email, name, password, role, active,
			failed_attempts, password_changed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		u.Username, nullString(strings.ToLower(u.Email)), u.Name, u.Password, string(u.Role), u.Active,
		now, now, now)
	if err != nil {
		return wrapErr("create user", err)
	}
	u.ID = id
	u.Email = strings.ToLower(u.Email)
	u.PasswordChangedAt, u.CreatedAt, u.UpdatedAt = now, now, now
	return nil
}

// GetUserByID retrieves a user by id.
func (d *DB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	u, err := scanUser(d.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	return u, wrapErr("get user", err)
}

// GetUserByUsername retrieves a user by username, ignoring case.
func (d *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	u, err := scanUser(d.queryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE LOWER(username) = LOWER(?)`, username))
	return u, wrapErr("get user", err)
}

// GetUserByEmail retrieves a user by email, ignoring case.
func (d *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := scanUser(d.queryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = LOWER(?)`, email))
	return u, wrapErr("get user", err)
}

// CountUsers returns the number of accounts.
func (d *DB) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := d.queryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, wrapErr("count users", err)
}

// ListUsers returns every account ordered by username.
func (d *DB) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := d.query(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, wrapErr("list users", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, wrapErr("list users", err)
		}
		users = append(users, *u)
	}
	return users, wrapErr("list users", rows.Err())
}

// RecordLoginFailure atomically bumps failed_attempts and, once the count
// reaches maxAttempts, locks the account until lockUntil. It returns the new
// count and whether the account is now locked.
func (d *DB) RecordLoginFailure(ctx context.Context, userID int64, maxAttempts int, lockUntil time.Time) (int, bool, error) {
	var attempts int
	err := d.queryRow(ctx, `
		UPDATE users SET
			failed_attempts = failed_attempts + 1,
			locked_until = CASE WHEN failed_attempts + 1 >= ? THEN ? ELSE locked_until END,
			updated_at = ?
		WHERE id = ?
		RETURNING failed_attempts`,
		maxAttempts, lockUntil.UTC(), d.timestamp(), userID).Scan(&attempts)
	if err != nil {
		return 0, false, wrapErr("record login failure", err)
	}
	return attempts, attempts >= maxAttempts, nil
}

// ClearLoginFailures resets the failure counter and lockout. A non-nil
// lastLogin is stored as the last successful sign-in.
func (d *DB) ClearLoginFailures(ctx context.Context, userID int64, lastLogin *time.Time) error {
	if lastLogin == nil {
		return d.execOne(ctx, "clear login failures", `
			UPDATE users SET failed_attempts = 0, locked_until = NULL, updated_at = ? WHERE id = ?`,
			d.timestamp(), userID)
	}
	return d.execOne(ctx, "clear login failures", `
		UPDATE users SET failed_attempts = 0, locked_until = NULL, last_login = ?, updated_at = ? WHERE id = ?`,
		lastLogin.UTC(), d.timestamp(), userID)
}

// UpdatePassword stores a new credential and stamps password_changed_at.
func (d *DB) UpdatePassword(ctx context.Context, userID int64, hash string) (time.Time, error) {
	now := d.timestamp()
	err := d.execOne(ctx, "update password", `
		UPDATE users SET password = ?, password_changed_at = ?, updated_at = ? WHERE id = ?`,
		hash, now, now, userID)
	return now, err
}

// ReplaceLegacyPassword swaps the stored credential without touching
// password_changed_at, so outstanding reset tokens stay valid.
func (d *DB) ReplaceLegacyPassword(ctx context.Context, userID int64, hash string) error {
	return d.execOne(ctx, "rehash password", `
		UPDATE users SET password = ?, updated_at = ? WHERE id = ?`,
		hash, d.timestamp(), userID)
}

func (d *DB) SetUserActive(ctx context.Context, userID int64, active bool) error {
	return d.execOne(ctx, "set user active", `
		UPDATE users SET active = ?, updated_at = ? WHERE id = ?`, active, d.timestamp(), userID)
}

func (d *DB) SetUserRole(ctx context.Context, userID int64, role models.Role) error {
	return d.execOne(ctx, "set user role", `
		UPDATE users SET role = ?, updated_at = ? WHERE id = ?`, string(role), d.timestamp(), userID)
}

// DeleteUser removes the account. Sessions go with it; audit rows keep the
// username and lose the user id.
func (d *DB) DeleteUser(ctx context.Context, userID int64) error {
	return d.execOne(ctx, "delete user", `DELETE FROM users WHERE id = ?`, userID)
}
