package middleware

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/victorgomez09/garagedesk/internal/apierr"
	"github.com/victorgomez09/garagedesk/internal/auth/guard"
	"github.com/victorgomez09/garagedesk/internal/auth/handlers"
	"github.com/victorgomez09/garagedesk/internal/auth/models"
)

type contextKey int

const (
	userKey contextKey = iota
	sessionKey
	tokenKey
)

// SessionResolver turns a bearer token into its live user and session.
type SessionResolver interface {
	RequireSession(ctx context.Context, token string) (*models.User, *models.Session, error)
}

type AuthMiddleware struct {
	sessions SessionResolver
	logger   *zap.Logger
}

func NewAuthMiddleware(sessions SessionResolver, logger *zap.Logger) *AuthMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthMiddleware{sessions: sessions, logger: logger}
}

// Authenticate rejects requests without a live session and stores the
// user, session and token on the request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := guard.BearerToken(r)
		if !ok {
			handlers.WriteError(w, r, m.logger, apierr.ErrUnauthenticated)
			return
		}

		user, sess, err := m.sessions.RequireSession(r.Context(), token)
		if err != nil {
			handlers.WriteError(w, r, m.logger, err)
			return
		}

		ctx := context.WithValue(r.Context(), userKey, user)
		ctx = context.WithValue(ctx, sessionKey, sess)
		ctx = context.WithValue(ctx, tokenKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole must run inside Authenticate.
func (m *AuthMiddleware) RequireRole(role models.Role, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := guard.Authorize(UserFrom(r.Context()), role); err != nil {
			if errors.Is(err, apierr.ErrForbidden) {
				m.logger.Warn("insufficient role",
					zap.String("path", r.URL.Path),
					zap.String("required", string(role)))
			}
			handlers.WriteError(w, r, m.logger, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Protect is Authenticate followed by RequireRole(role).
func (m *AuthMiddleware) Protect(role models.Role, next http.Handler) http.Handler {
	return m.Authenticate(m.RequireRole(role, next))
}

// Current adapts the context accessors for handlers.NewAuthHandler.
func Current(r *http.Request) (*models.User, *models.Session) {
	return UserFrom(r.Context()), SessionFrom(r.Context())
}

func UserFrom(ctx context.Context) *models.User {
	u, _ := ctx.Value(userKey).(*models.User)
	return u
}

func SessionFrom(ctx context.Context) *models.Session {
	s, _ := ctx.Value(sessionKey).(*models.Session)
	return s
}

func TokenFrom(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey).(string)
	return t
}
