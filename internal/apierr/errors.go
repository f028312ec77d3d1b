package apierr

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	// ErrInvalidCredentials is returned when the identifier or password is wrong. It never says which.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while a user's account is locked after repeated failed logins.
	ErrAccountLocked = errors.New("account is temporarily locked")
	// ErrAccountInactive is returned when a correct password is presented for a deactivated account.
	ErrAccountInactive = errors.New("account is inactive")
	// ErrRateLimited is returned when too many failed attempts were recorded within the window.
	ErrRateLimited = errors.New("too many attempts")
	// ErrUnauthenticated is returned when a bearer token is missing, malformed, expired or revoked.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden is returned when the caller's role is insufficient.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique field is already taken.
	ErrConflict = errors.New("already exists")
	// ErrInvalidReference is returned when a referenced parent entity does not exist.
	ErrInvalidReference = errors.New("referenced entity does not exist")
	// ErrValidation is returned when request input is rejected.
	ErrValidation = errors.New("validation failed")
	// ErrStoreUnavailable is returned on infrastructure failures of the backing store.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidResetToken is returned for a bad, expired or already used password reset token.
	ErrInvalidResetToken = errors.New("invalid or expired reset token")
)

// LockedError carries how long a locked account stays locked.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account is temporarily locked, try again in %s", HumanDuration(e.RetryAfter))
}

func (e *LockedError) Is(target error) bool { return target == ErrAccountLocked }

// RateLimitError carries how long until the oldest counted attempt leaves the window.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many attempts, try again in %s", HumanDuration(e.RetryAfter))
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"error"`
}

// ValidationError groups field errors.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a single-field ValidationError.
func Invalid(field, msg string) error {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: msg}}}
}

// RetryAfter extracts the retry hint from a locked or rate limited error.
func RetryAfter(err error) (time.Duration, bool) {
	var le *LockedError
	if errors.As(err, &le) {
		return le.RetryAfter, true
	}
	var re *RateLimitError
	if errors.As(err, &re) {
		return re.RetryAfter, true
	}
	return 0, false
}

// HumanDuration renders d rounded up to whole minutes ("1 minute", "25 minutes").
// Durations under a minute are rendered in seconds.
func HumanDuration(d time.Duration) string {
	if d < time.Minute {
		s := int(math.Ceil(d.Seconds()))
		if s <= 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", s)
	}
	m := int(math.Ceil(d.Minutes()))
	if m == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", m)
}
