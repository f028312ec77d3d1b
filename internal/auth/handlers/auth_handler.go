package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/victorgomez09/garagedesk/internal/apierr"
	"github.com/victorgomez09/garagedesk/internal/auth/guard"
	"github.com/victorgomez09/garagedesk/internal/auth/models"
	"github.com/victorgomez09/garagedesk/internal/auth/service"
	"github.com/victorgomez09/garagedesk/internal/auth/session"
	"github.com/victorgomez09/garagedesk/internal/validation"
	"github.com/victorgomez09/garagedesk/pkg/trace"
)

// CurrentUser resolves the authenticated caller of a request. The auth
// middleware provides it; handlers never parse tokens themselves except
// for logout.
type CurrentUser func(r *http.Request) (*models.User, *models.Session)

type AuthHandler struct {
	authService *service.AuthService
	current     CurrentUser
	logger      *zap.Logger
}

func NewAuthHandler(authService *service.AuthService, current CurrentUser, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{
		authService: authService,
		current:     current,
		logger:      logger,
	}
}

type LoginRequest struct {
	// Username accepts a username or an email address.
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string       `json:"token"`
	Type      string       `json:"type"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type SessionView struct {
	models.Session
	Current bool `json:"current"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}

	meta := session.Meta{IPAddress: trace.ClientIP(r), UserAgent: r.UserAgent()}
	res, err := h.authService.Login(r.Context(), req.Username, req.Password, meta)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}

	WriteJSON(w, http.StatusOK, LoginResponse{
		Token:     res.Token,
		Type:      "Bearer",
		ExpiresAt: res.ExpiresAt,
		User:      res.User,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := guard.BearerToken(r)
	if !ok {
		WriteError(w, r, h.logger, apierr.ErrUnauthenticated)
		return
	}
	if err := h.authService.Logout(r.Context(), token, trace.ClientIP(r)); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	token, ok := guard.BearerToken(r)
	if !ok {
		WriteError(w, r, h.logger, apierr.ErrUnauthenticated)
		return
	}
	n, err := h.authService.LogoutAll(r.Context(), token, trace.ClientIP(r))
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int64{"revoked": n})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, _ := h.current(r)
	if user == nil {
		WriteError(w, r, h.logger, apierr.ErrUnauthenticated)
		return
	}
	WriteJSON(w, http.StatusOK, user)
}

// ListSessions returns the caller's live sessions and marks the one the
// request was made with.
func (h *AuthHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	user, current := h.current(r)
	if user == nil {
		WriteError(w, r, h.logger, apierr.ErrUnauthenticated)
		return
	}
	sessions, err := h.authService.Sessions(r.Context(), user)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	out := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionView{Session: s, Current: current != nil && s.ID == current.ID})
	}
	WriteJSON(w, http.StatusOK, out)
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user, _ := h.current(r)
	if user == nil {
		WriteError(w, r, h.logger, apierr.ErrUnauthenticated)
		return
	}
	var req ChangePasswordRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	if err := h.authService.ChangePassword(r.Context(), user, req.OldPassword, req.NewPassword, trace.ClientIP(r)); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, messageResponse{Message: "Password changed, please sign in again"})
}

// ForgotPassword answers the same way for known and unknown addresses.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	if err := h.authService.ForgotPassword(r.Context(), req.Email, trace.ClientIP(r)); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, messageResponse{
		Message: "If the address belongs to an active account, a reset link has been sent",
	})
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	if err := h.authService.ResetPassword(r.Context(), req.Token, req.NewPassword, trace.ClientIP(r)); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, messageResponse{Message: "Password has been reset"})
}

func (h *AuthHandler) PasswordRequirements(w http.ResponseWriter, r *http.Request) {
	p := h.authService.GetConfig().PasswordPolicy
	WriteJSON(w, http.StatusOK, passwordRequirements(p))
}

type requirementsResponse struct {
	MinLength        int  `json:"min_length"`
	MaxLength        int  `json:"max_length,omitempty"`
	RequireUppercase bool `json:"require_uppercase"`
	RequireLowercase bool `json:"require_lowercase"`
	RequireNumbers   bool `json:"require_numbers"`
	RequireSpecial   bool `json:"require_special"`
}

func passwordRequirements(p validation.PasswordPolicy) requirementsResponse {
	return requirementsResponse{
		MinLength:        p.MinLength,
		MaxLength:        p.MaxLength,
		RequireUppercase: p.RequireUppercase,
		RequireLowercase: p.RequireLowercase,
		RequireNumbers:   p.RequireNumbers,
		RequireSpecial:   p.RequireSpecial,
	}
}
