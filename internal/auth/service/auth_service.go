package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/victorgomez09/garagedesk/internal/apierr"
	"github.com/victorgomez09/garagedesk/internal/audit"
	"github.com/victorgomez09/garagedesk/internal/auth/guard"
	"github.com/victorgomez09/garagedesk/internal/auth/models"
	"github.com/victorgomez09/garagedesk/internal/auth/password"
	"github.com/victorgomez09/garagedesk/internal/auth/ratelimit"
	"github.com/victorgomez09/garagedesk/internal/auth/session"
	"github.com/victorgomez09/garagedesk/internal/mail"
	"github.com/victorgomez09/garagedesk/internal/metrics"
	"github.com/victorgomez09/garagedesk/internal/validation"
)

const (
	DefaultMaxLoginAttempts = 5
	DefaultLockDuration     = 30 * time.Minute
	DefaultResetTokenTTL    = time.Hour

	bootstrapUsername       = "admin"
	bootstrapPasswordLength = 16
)

// Limiter key namespaces.
const (
	scopeLoginUser = "login:user"
	scopeLoginIP   = "login:ip"
	scopeResetIP   = "reset:ip"
)

// Store is the user persistence the service needs.
type Store interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CountUsers(ctx context.Context) (int, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	RecordLoginFailure(ctx context.Context, userID int64, maxAttempts int, lockUntil time.Time) (int, bool, error)
	ClearLoginFailures(ctx context.Context, userID int64, lastLogin *time.Time) error
	UpdatePassword(ctx context.Context, userID int64, hash string) (time.Time, error)
	ReplaceLegacyPassword(ctx context.Context, userID int64, hash string) error
	SetUserActive(ctx context.Context, userID int64, active bool) error
	SetUserRole(ctx context.Context, userID int64, role models.Role) error
	DeleteUser(ctx context.Context, userID int64) error
}

// AuthConfig holds the tunables of the authentication service.
type AuthConfig struct {
	MaxLoginAttempts int           // failed logins before the account locks
	LockDuration     time.Duration // how long a locked account stays locked
	ResetSecret      []byte        // HS256 key for password reset tokens
	ResetTokenTTL    time.Duration
	ResetURL         string // reset link prefix; the token is appended
	PasswordPolicy   validation.PasswordPolicy
}

// Limiters groups the failure counters. IP and User guard login; Reset
// throttles forgot-password requests per client address.
type Limiters struct {
	User  ratelimit.Limiter
	IP    ratelimit.Limiter
	Reset ratelimit.Limiter
}

// Deps are the collaborators of AuthService.
type Deps struct {
	Store    Store
	Sessions *session.Manager
	Hasher   *password.Hasher
	Limiters Limiters
	Audit    *audit.Recorder
	Mailer   mail.Sender
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// AuthService manages sign-in, sessions, passwords and user administration.
type AuthService struct {
	store     Store
	sessions  *session.Manager
	guard     *guard.Guard
	hasher    *password.Hasher
	limiters  Limiters
	audit     *audit.Recorder
	mailer    mail.Sender
	metrics   *metrics.Metrics
	logger    *zap.Logger
	validator *validation.Validator
	config    AuthConfig
	now       func() time.Time
}

type Option func(*AuthService)

func WithClock(now func() time.Time) Option {
	return func(s *AuthService) { s.now = now }
}

// NewAuthService wires the service. Missing limiters default to in-memory
// ones with the standard thresholds.
func NewAuthService(deps Deps, config AuthConfig, opts ...Option) *AuthService {
	if config.MaxLoginAttempts <= 0 {
		config.MaxLoginAttempts = DefaultMaxLoginAttempts
	}
	if config.LockDuration <= 0 {
		config.LockDuration = DefaultLockDuration
	}
	if config.ResetTokenTTL <= 0 {
		config.ResetTokenTTL = DefaultResetTokenTTL
	}
	if config.PasswordPolicy.MinLength == 0 {
		config.PasswordPolicy = validation.DefaultPasswordPolicy()
	}

	s := &AuthService{
		store:     deps.Store,
		sessions:  deps.Sessions,
		guard:     guard.New(deps.Sessions),
		hasher:    deps.Hasher,
		limiters:  deps.Limiters,
		audit:     deps.Audit,
		mailer:    deps.Mailer,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		validator: validation.New(),
		config:    config,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.hasher == nil {
		s.hasher = password.New(0)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.audit == nil {
		s.audit = audit.New(nopAuditStore{}, s.logger)
	}
	if s.mailer == nil {
		s.mailer = mail.NewLogSender(s.logger)
	}
	if s.limiters.User == nil {
		s.limiters.User = ratelimit.NewMemory(ratelimit.Config{Limit: 5}, ratelimit.WithClock(s.now))
	}
	if s.limiters.IP == nil {
		s.limiters.IP = ratelimit.NewMemory(ratelimit.Config{Limit: 20}, ratelimit.WithClock(s.now))
	}
	if s.limiters.Reset == nil {
		s.limiters.Reset = ratelimit.NewMemory(ratelimit.Config{Limit: 5}, ratelimit.WithClock(s.now))
	}
	return s
}

func (s *AuthService) GetConfig() AuthConfig {
	return s.config
}

// LoginResult is returned on successful sign-in. Token is only ever
// available here.
type LoginResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// Login authenticates identifier (a username or an email address) with
// password. Checks run in a fixed order: rate limits, account lookup,
// lockout, password, active flag.
func (s *AuthService) Login(ctx context.Context, identifier, pw string, meta session.Meta) (*LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || pw == "" {
		return nil, apierr.Invalid("username", "username and password are required")
	}

	ipKey := ratelimit.Key(scopeLoginIP, meta.IPAddress)
	userKey := ratelimit.Key(scopeLoginUser, identifier)

	for _, c := range []struct {
		limiter ratelimit.Limiter
		key     string
		scope   string
	}{
		{s.limiters.IP, ipKey, scopeLoginIP},
		{s.limiters.User, userKey, scopeLoginUser},
	} {
		if err := s.checkLimit(ctx, c.limiter, c.key, c.scope); err != nil {
			if errors.Is(err, apierr.ErrRateLimited) {
				s.metrics.LoginAttempt(metrics.OutcomeRateLimited)
				s.recordLoginFailed(ctx, nil, identifier, audit.ReasonRateLimited, meta)
			}
			return nil, err
		}
	}

	user, err := s.lookup(ctx, identifier)
	if errors.Is(err, apierr.ErrNotFound) {
		s.hasher.VerifyDummy(pw)
		s.recordLimiterFailures(ctx, userKey, ipKey)
		s.metrics.LoginAttempt(metrics.OutcomeInvalid)
		s.recordLoginFailed(ctx, nil, identifier, audit.ReasonUnknownUser, meta)
		return nil, apierr.ErrInvalidCredentials
	}
	if err != nil {
		s.metrics.LoginAttempt(metrics.OutcomeStoreFailure)
		return nil, err
	}

	now := s.now().UTC()
	if user.IsLocked(now) {
		s.metrics.LoginAttempt(metrics.OutcomeLocked)
		s.recordLoginFailed(ctx, user, identifier, audit.ReasonLocked, meta)
		return nil, &apierr.LockedError{RetryAfter: user.LockedUntil.Sub(now)}
	}
	if user.LockedUntil != nil {
		// lock has lapsed: start counting again from zero
		if err := s.store.ClearLoginFailures(ctx, user.ID, nil); err != nil {
			return nil, err
		}
		user.FailedAttempts, user.LockedUntil = 0, nil
	}

	if !s.hasher.Verify(pw, user.Password) {
		attempts, locked, err := s.store.RecordLoginFailure(ctx, user.ID,
			s.config.MaxLoginAttempts, now.Add(s.config.LockDuration))
		if err != nil {
			return nil, err
		}
		s.recordLimiterFailures(ctx, userKey, ipKey)
		s.metrics.LoginAttempt(metrics.OutcomeInvalid)
		if locked {
			s.metrics.Lockout()
			s.logger.Warn("account locked after failed logins",
				zap.String("username", user.Username),
				zap.Int("attempts", attempts),
				zap.Duration("lock_duration", s.config.LockDuration))
		}
		s.recordLoginFailed(ctx, user, identifier, audit.ReasonBadPassword, meta)
		return nil, apierr.ErrInvalidCredentials
	}

	if !user.Active {
		s.metrics.LoginAttempt(metrics.OutcomeInactive)
		s.recordLoginFailed(ctx, user, identifier, audit.ReasonInactive, meta)
		return nil, apierr.ErrAccountInactive
	}

	if err := s.store.ClearLoginFailures(ctx, user.ID, &now); err != nil {
		return nil, err
	}
	user.FailedAttempts, user.LockedUntil, user.LastLogin = 0, nil, &now

	if s.hasher.NeedsRehash(user.Password) {
		s.upgradeCredential(ctx, user, pw)
	}

	token, sess, err := s.sessions.Create(ctx, user.ID, meta)
	if err != nil {
		return nil, err
	}

	s.metrics.LoginAttempt(metrics.OutcomeSuccess)
	s.audit.Record(ctx, audit.Event{
		Actor:     user,
		Action:    audit.ActionLogin,
		Details:   "Logged in",
		IPAddress: meta.IPAddress,
	})
	return &LoginResult{Token: token, ExpiresAt: sess.ExpiresAt, User: user}, nil
}

func (s *AuthService) lookup(ctx context.Context, identifier string) (*models.User, error) {
	if strings.Contains(identifier, "@") {
		return s.store.GetUserByEmail(ctx, identifier)
	}
	return s.store.GetUserByUsername(ctx, identifier)
}

// checkLimit returns a *apierr.RateLimitError when key is over its limit.
// Limiter backend failures are reported as store failures so sign-in fails
// closed.
func (s *AuthService) checkLimit(ctx context.Context, l ratelimit.Limiter, key, scope string) error {
	res, err := l.Allow(ctx, key)
	if err != nil {
		s.logger.Error("rate limiter unavailable", zap.String("scope", scope), zap.Error(err))
		return fmt.Errorf("%w: rate limiter: %v", apierr.ErrStoreUnavailable, err)
	}
	if !res.Allowed {
		s.metrics.RateLimited(scope)
		return &apierr.RateLimitError{RetryAfter: res.RetryAfter}
	}
	return nil
}

func (s *AuthService) recordLimiterFailures(ctx context.Context, userKey, ipKey string) {
	if err := s.limiters.User.RecordFailure(ctx, userKey); err != nil {
		s.logger.Error("failed to record login failure", zap.String("scope", scopeLoginUser), zap.Error(err))
	}
	if err := s.limiters.IP.RecordFailure(ctx, ipKey); err != nil {
		s.logger.Error("failed to record login failure", zap.String("scope", scopeLoginIP), zap.Error(err))
	}
}

func (s *AuthService) recordLoginFailed(ctx context.Context, user *models.User, identifier, reason string, meta session.Meta) {
	s.audit.Record(ctx, audit.Event{
		Actor:     user,
		Username:  identifier,
		Action:    audit.ActionLoginFailed,
		Details:   reason,
		IPAddress: meta.IPAddress,
	})
}

// upgradeCredential replaces a legacy or under-iterated hash after a
// successful verification. Failure only costs the upgrade.
func (s *AuthService) upgradeCredential(ctx context.Context, user *models.User, pw string) {
	hash, err := s.hasher.Hash(pw)
	if err == nil {
		err = s.store.ReplaceLegacyPassword(ctx, user.ID, hash)
	}
	if err != nil {
		s.logger.Warn("failed to upgrade stored credential", zap.Int64("user_id", user.ID), zap.Error(err))
		return
	}
	user.Password = hash
	s.logger.Info("upgraded stored credential", zap.Int64("user_id", user.ID))
}

// Logout revokes the session behind token.
func (s *AuthService) Logout(ctx context.Context, token, ip string) error {
	user, _, err := s.guard.Authenticate(ctx, token)
	if err != nil {
		return err
	}
	if err := s.sessions.Revoke(ctx, token); err != nil {
		return err
	}
	s.audit.Record(ctx, audit.Event{Actor: user, Action: audit.ActionLogout, Details: "Logged out", IPAddress: ip})
	return nil
}

// LogoutAll revokes every session of the user behind token, including the
// caller's own, and returns how many were revoked.
func (s *AuthService) LogoutAll(ctx context.Context, token, ip string) (int64, error) {
	user, _, err := s.guard.Authenticate(ctx, token)
	if err != nil {
		return 0, err
	}
	n, err := s.sessions.RevokeAll(ctx, user.ID)
	if err != nil {
		return 0, err
	}
	s.audit.Record(ctx, audit.Event{
		Actor:     user,
		Action:    audit.ActionLogoutAll,
		Details:   fmt.Sprintf("Revoked %d sessions", n),
		IPAddress: ip,
	})
	return n, nil
}

// RequireSession resolves token to its live user and session.
func (s *AuthService) RequireSession(ctx context.Context, token string) (*models.User, *models.Session, error) {
	return s.guard.Authenticate(ctx, token)
}

// RequireRole fails with ErrForbidden unless user holds at least role.
func (s *AuthService) RequireRole(user *models.User, role models.Role) error {
	return s.guard.Authorize(user, role)
}

// Sessions lists the live sessions of user.
func (s *AuthService) Sessions(ctx context.Context, user *models.User) ([]models.Session, error) {
	return s.sessions.ListForUser(ctx, user.ID)
}

// ChangePassword verifies the current password, applies the policy, stores
// the new credential and revokes every session of the user.
func (s *AuthService) ChangePassword(ctx context.Context, actor *models.User, oldPassword, newPassword, ip string) error {
	user, err := s.store.GetUserByID(ctx, actor.ID)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(oldPassword, user.Password) {
		return apierr.ErrInvalidCredentials
	}
	if oldPassword == newPassword {
		return apierr.Invalid("new_password", "must differ from the current password")
	}
	if err := s.setPassword(ctx, user, newPassword); err != nil {
		return err
	}
	if _, err := s.sessions.RevokeAll(ctx, user.ID); err != nil {
		return err
	}

	s.audit.Record(ctx, audit.Event{Actor: user, Action: audit.ActionPasswordChange, Details: "Changed password", IPAddress: ip})
	return nil
}

func (s *AuthService) setPassword(ctx context.Context, user *models.User, pw string) error {
	if err := s.config.PasswordPolicy.ValidatePassword(pw, user.Username); err != nil {
		return fmt.Errorf("invalid new password: %w", err)
	}
	hash, err := s.hasher.Hash(pw)
	if err != nil {
		return err
	}
	changedAt, err := s.store.UpdatePassword(ctx, user.ID, hash)
	if err != nil {
		return err
	}
	user.Password, user.PasswordChangedAt = hash, changedAt
	return nil
}

// NewUser is the input of CreateUser.
type NewUser struct {
	Username string      `json:"username" validate:"required,username"`
	Email    string      `json:"email" validate:"omitempty,email,max=254"`
	Name     string      `json:"name" validate:"max=100"`
	Password string      `json:"password" validate:"required"`
	Role     models.Role `json:"role" validate:"omitempty,oneof=admin staff"`
}

// CreateUser registers an account. Role defaults to staff.
func (s *AuthService) CreateUser(ctx context.Context, actor *models.User, in NewUser, ip string) (*models.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}
	if in.Role == "" {
		in.Role = models.RoleStaff
	}
	if err := s.config.PasswordPolicy.ValidatePassword(in.Password, in.Username); err != nil {
		return nil, fmt.Errorf("invalid password: %w", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	user := &models.User{
		Username: in.Username,
		Email:    in.Email,
		Name:     in.Name,
		Password: hash,
		Role:     in.Role,
		Active:   true,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Event{
		Actor:      actor,
		Action:     audit.ActionUserCreate,
		EntityType: "user",
		EntityID:   fmt.Sprint(user.ID),
		Details:    fmt.Sprintf("Created user: %s (%s)", user.Username, user.Role),
		IPAddress:  ip,
	})
	return user, nil
}

// BootstrapAdmin creates the initial admin account when the store has no
// users. The generated password is written to passwordFile with mode 0600
// and never logged. It reports whether an account was created.
func (s *AuthService) BootstrapAdmin(ctx context.Context, passwordFile string) (bool, error) {
	n, err := s.store.CountUsers(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	if passwordFile == "" {
		return false, errors.New("bootstrap: no password file configured")
	}

	pw, err := s.GeneratePassword(bootstrapUsername)
	if err != nil {
		return false, fmt.Errorf("bootstrap: %w", err)
	}

	hash, err := s.hasher.Hash(pw)
	if err != nil {
		return false, err
	}
	user := &models.User{
		Username: bootstrapUsername,
		Name:     "Administrator",
		Password: hash,
		Role:     models.RoleAdmin,
		Active:   true,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, apierr.ErrConflict) {
			// another process bootstrapped first
			return false, nil
		}
		return false, err
	}

	if err := writeSecretFile(passwordFile, pw); err != nil {
		return true, fmt.Errorf("bootstrap: admin created but password file not written: %w", err)
	}

	s.logger.Warn("created initial admin account; change its password after first login",
		zap.String("username", user.Username),
		zap.String("password_file", passwordFile))
	s.audit.Record(ctx, audit.Event{
		Actor:      user,
		Action:     audit.ActionUserCreate,
		EntityType: "user",
		EntityID:   fmt.Sprint(user.ID),
		Details:    "Created initial admin account",
	})
	return true, nil
}

// GeneratePassword returns a random password for username that satisfies
// the configured policy.
func (s *AuthService) GeneratePassword(username string) (string, error) {
	p := s.config.PasswordPolicy
	n := bootstrapPasswordLength
	if p.MinLength > n {
		n = p.MinLength
	}
	if p.MaxLength > 0 && p.MaxLength < n {
		n = p.MaxLength
	}
	for i := 0; i < 100; i++ {
		pw, err := password.Generate(n)
		if err != nil {
			return "", fmt.Errorf("generating password: %w", err)
		}
		if p.ValidatePassword(pw, username) == nil {
			return pw, nil
		}
	}
	return "", errors.New("could not generate a password that satisfies the policy")
}

func writeSecretFile(path, secret string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	// O_CREATE keeps the mode of an existing file
	if err := f.Chmod(0o600); err != nil {
		f.Close()
		return err
	}
	if _, err := f.WriteString(secret + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s *AuthService) GetUserById(ctx context.Context, userID int64) (*models.User, error) {
	return s.store.GetUserByID(ctx, userID)
}

func (s *AuthService) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.store.ListUsers(ctx)
}

// SetActive enables or disables an account. Disabling revokes its sessions.
// Admins cannot disable themselves.
func (s *AuthService) SetActive(ctx context.Context, actor *models.User, userID int64, active bool, ip string) error {
	if !active && actor != nil && actor.ID == userID {
		return apierr.Invalid("active", "you cannot deactivate your own account")
	}
	if err := s.store.SetUserActive(ctx, userID, active); err != nil {
		return err
	}
	if !active {
		if _, err := s.sessions.RevokeAll(ctx, userID); err != nil {
			return err
		}
	}
	s.audit.Record(ctx, audit.Event{
		Actor:      actor,
		Action:     audit.ActionUserUpdate,
		EntityType: "user",
		EntityID:   fmt.Sprint(userID),
		Details:    audit.Updated("user", userID, fmt.Sprintf("active=%t", active)),
		IPAddress:  ip,
	})
	return nil
}

// SetRole changes an account's role. Admins cannot demote themselves.
func (s *AuthService) SetRole(ctx context.Context, actor *models.User, userID int64, role models.Role, ip string) error {
	if !role.Valid() {
		return apierr.Invalid("role", "must be one of: admin staff")
	}
	if actor != nil && actor.ID == userID && role != models.RoleAdmin {
		return apierr.Invalid("role", "you cannot change your own role")
	}
	if err := s.store.SetUserRole(ctx, userID, role); err != nil {
		return err
	}
	s.audit.Record(ctx, audit.Event{
		Actor:      actor,
		Action:     audit.ActionUserUpdate,
		EntityType: "user",
		EntityID:   fmt.Sprint(userID),
		Details:    audit.Updated("user", userID, "role="+string(role)),
		IPAddress:  ip,
	})
	return nil
}

// Unlock clears an account's lockout and its per-identifier rate limit.
func (s *AuthService) Unlock(ctx context.Context, actor *models.User, userID int64, ip string) error {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.store.ClearLoginFailures(ctx, userID, nil); err != nil {
		return err
	}
	s.resetUserLimits(ctx, user)

	s.audit.Record(ctx, audit.Event{
		Actor:      actor,
		Action:     audit.ActionUserUpdate,
		EntityType: "user",
		EntityID:   fmt.Sprint(userID),
		Details:    audit.Updated("user", userID, "unlocked"),
		IPAddress:  ip,
	})
	return nil
}

// DeleteUser removes an account together with its sessions. Admins cannot
// delete themselves.
func (s *AuthService) DeleteUser(ctx context.Context, actor *models.User, userID int64, ip string) error {
	if actor != nil && actor.ID == userID {
		return apierr.Invalid("id", "you cannot delete your own account")
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return err
	}
	s.resetUserLimits(ctx, user)

	s.audit.Record(ctx, audit.Event{
		Actor:      actor,
		Action:     audit.ActionDelete,
		EntityType: "user",
		EntityID:   fmt.Sprint(userID),
		Details:    audit.Deleted("user", userID) + " (" + user.Username + ")",
		IPAddress:  ip,
	})
	return nil
}

func (s *AuthService) resetUserLimits(ctx context.Context, user *models.User) {
	keys := []string{ratelimit.Key(scopeLoginUser, user.Username)}
	if user.Email != "" {
		keys = append(keys, ratelimit.Key(scopeLoginUser, user.Email))
	}
	for _, k := range keys {
		if err := s.limiters.User.Reset(ctx, k); err != nil {
			s.logger.Warn("failed to reset rate limit", zap.String("key", k), zap.Error(err))
		}
	}
}

type nopAuditStore struct{}

func (nopAuditStore) InsertAuditLog(context.Context, *models.AuditLog) error { return nil }

func (nopAuditStore) ListAuditLogs(context.Context, models.AuditFilter) ([]models.AuditLog, error) {
	return nil, nil
}
