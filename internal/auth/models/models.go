package models

import (
	"strings"
	"time"
)

// Role is a user's authorization level.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleStaff Role = "staff"
)

// Rank orders roles: admin outranks staff. Unknown roles rank below both.
func (r Role) Rank() int {
	switch Role(strings.ToLower(string(r))) {
	case RoleAdmin:
		return 2
	case RoleStaff:
		return 1
	default:
		return 0
	}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r.Rank() > 0 }

// Satisfies reports whether r meets or exceeds required. An unknown
// required role is never satisfied.
func (r Role) Satisfies(required Role) bool {
	return required.Valid() && r.Rank() >= required.Rank()
}

// User is an account that can sign in to the back office.
type User struct {
	ID                int64      `json:"id"`
	Username          string     `json:"username"`
	Email             string     `json:"email,omitempty"`
	Name              string     `json:"name,omitempty"`
	Password          string     `json:"-"`
	Role              Role       `json:"role"`
	Active            bool       `json:"active"`
	FailedAttempts    int        `json:"failed_attempts"`
	LockedUntil       *time.Time `json:"locked_until,omitempty"`
	LastLogin         *time.Time `json:"last_login,omitempty"`
	PasswordChangedAt time.Time  `json:"password_changed_at"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// IsLocked reports whether the lockout is still in effect at now.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// Session is a live bearer token. Only the token hash is stored.
type Session struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	TokenHash      string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	IPAddress      string    `json:"ip_address,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
}

// AuditLog is one append-only audit record.
type AuditLog struct {
	ID         string    `json:"id"`
	UserID     *int64    `json:"user_id,omitempty"`
	Username   string    `json:"username"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type,omitempty"`
	EntityID   string    `json:"entity_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// AuditFilter narrows an audit listing. Zero values match everything.
type AuditFilter struct {
	UserID     *int64
	Action     string
	EntityType string
	Limit      int
}
