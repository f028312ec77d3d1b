package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/victorgomez09/garagedesk/internal/apierr"
	"github.com/victorgomez09/garagedesk/internal/audit"
	"github.com/victorgomez09/garagedesk/internal/auth/models"
	"github.com/victorgomez09/garagedesk/internal/auth/ratelimit"
	"github.com/victorgomez09/garagedesk/internal/mail"
)

const resetPurpose = "password_reset"

// resetClaims binds a reset token to the credential it replaces. Once the
// password changes, password_changed_at moves and the fingerprint no
// longer matches, so a token works at most once.
type resetClaims struct {
	Purpose     string `json:"purpose"`
	Fingerprint int64  `json:"pcf"`
	jwt.RegisteredClaims
}

func fingerprint(u *models.User) int64 {
	return u.PasswordChangedAt.UTC().UnixMicro()
}

// ForgotPassword mails a reset link when email belongs to an active
// account. The outcome is the same whether or not it does; only the
// per-address throttle can make it fail.
func (s *AuthService) ForgotPassword(ctx context.Context, email, ip string) error {
	key := ratelimit.Key(scopeResetIP, ip)
	if err := s.checkLimit(ctx, s.limiters.Reset, key, scopeResetIP); err != nil {
		return err
	}
	if err := s.limiters.Reset.RecordFailure(ctx, key); err != nil {
		s.logger.Error("failed to record reset request", zap.Error(err))
	}

	email = strings.TrimSpace(email)
	if s.validator.Var("email", email, "required,email") != nil {
		return nil
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, apierr.ErrNotFound) {
			s.logger.Error("reset lookup failed", zap.Error(err))
		}
		s.audit.Record(ctx, audit.Event{
			Username:  email,
			Action:    audit.ActionPasswordResetRequest,
			Details:   "No matching account",
			IPAddress: ip,
		})
		return nil
	}
	if !user.Active {
		s.audit.Record(ctx, audit.Event{
			Actor:     user,
			Action:    audit.ActionPasswordResetRequest,
			Details:   "Account inactive, no mail sent",
			IPAddress: ip,
		})
		return nil
	}

	token, err := s.issueResetToken(user)
	if err != nil {
		s.logger.Error("failed to issue reset token", zap.Int64("user_id", user.ID), zap.Error(err))
		return nil
	}

	msg := mail.Message{
		To:      user.Email,
		Subject: "Password reset",
		Body:    s.resetBody(user, token),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.Error("failed to send reset mail", zap.Int64("user_id", user.ID), zap.Error(err))
	}

	s.audit.Record(ctx, audit.Event{
		Actor:     user,
		Action:    audit.ActionPasswordResetRequest,
		Details:   "Reset link sent",
		IPAddress: ip,
	})
	return nil
}

func (s *AuthService) issueResetToken(u *models.User) (string, error) {
	if len(s.config.ResetSecret) == 0 {
		return "", errors.New("reset secret not configured")
	}
	now := s.now().UTC()
	claims := resetClaims{
		Purpose:     resetPurpose,
		Fingerprint: fingerprint(u),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(u.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.ResetTokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.config.ResetSecret)
}

func (s *AuthService) resetBody(u *models.User, token string) string {
	link := token
	if s.config.ResetURL != "" {
		sep := "?"
		if strings.Contains(s.config.ResetURL, "?") {
			sep = "&"
		}
		link = s.config.ResetURL + sep + "token=" + url.QueryEscape(token)
	}
	return fmt.Sprintf("Hello %s,\n\n"+
		"A password reset was requested for your account. Use the link below within %s to choose a new password:\n\n"+
		"%s\n\n"+
		"If you did not ask for this, you can ignore this message.\n",
		u.Username, apierr.HumanDuration(s.config.ResetTokenTTL), link)
}

// parseResetToken checks the signature and claims of token and returns
// the user it was issued to.
func (s *AuthService) parseResetToken(ctx context.Context, token string) (*models.User, error) {
	if len(s.config.ResetSecret) == 0 || token == "" {
		return nil, apierr.ErrInvalidResetToken
	}

	// expiry is checked below against the service clock
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	var claims resetClaims
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return s.config.ResetSecret, nil
	}); err != nil {
		return nil, apierr.ErrInvalidResetToken
	}

	if claims.Purpose != resetPurpose || claims.ExpiresAt == nil || !s.now().Before(claims.ExpiresAt.Time) {
		return nil, apierr.ErrInvalidResetToken
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, apierr.ErrInvalidResetToken
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, apierr.ErrNotFound) {
		return nil, apierr.ErrInvalidResetToken
	}
	if err != nil {
		return nil, err
	}
	if !user.Active || fingerprint(user) != claims.Fingerprint {
		return nil, apierr.ErrInvalidResetToken
	}
	return user, nil
}

// ResetPassword sets a new password using a token from ForgotPassword. The
// account is unlocked and all of its sessions are revoked.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword, ip string) error {
	user, err := s.parseResetToken(ctx, token)
	if err != nil {
		return err
	}
	if err := s.setPassword(ctx, user, newPassword); err != nil {
		return err
	}
	if err := s.store.ClearLoginFailures(ctx, user.ID, nil); err != nil {
		return err
	}
	s.resetUserLimits(ctx, user)
	if _, err := s.sessions.RevokeAll(ctx, user.ID); err != nil {
		return err
	}

	s.audit.Record(ctx, audit.Event{Actor: user, Action: audit.ActionPasswordReset, Details: "Reset password", IPAddress: ip})
	return nil
}
