// Package guard resolves bearer tokens to users and checks roles.
package guard

import (
	"context"
	"net/http"
	"strings"

	"github.com/victorgomez09/garagedesk/internal/apierr"
	"github.com/victorgomez09/garagedesk/internal/auth/models"
)

// Validator is the part of the session manager the guard relies on.
type Validator interface {
	Validate(ctx context.Context, token string) (*models.User, *models.Session, error)
}

type Guard struct {
	sessions Validator
}

func New(sessions Validator) *Guard {
	return &Guard{sessions: sessions}
}

// Authenticate returns the live user behind token, or ErrUnauthenticated.
// Store failures are passed through so callers can report 503.
func (g *Guard) Authenticate(ctx context.Context, token string) (*models.User, *models.Session, error) {
	if token == "" {
		return nil, nil, apierr.ErrUnauthenticated
	}
	u, s, err := g.sessions.Validate(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	return u, s, nil
}

// Authorize fails with ErrForbidden unless user's role meets required.
func (g *Guard) Authorize(user *models.User, required models.Role) error {
	return Authorize(user, required)
}

func Authorize(user *models.User, required models.Role) error {
	if user == nil {
		return apierr.ErrUnauthenticated
	}
	if !user.Role.Satisfies(required) {
		return apierr.ErrForbidden
	}
	return nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
