package service_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/victorgomez09/garagedesk/internal/apierr"
	"github.com/victorgomez09/garagedesk/internal/audit"
	"github.com/victorgomez09/garagedesk/internal/auth/models"
	"github.com/victorgomez09/garagedesk/internal/auth/password"
	"github.com/victorgomez09/garagedesk/internal/auth/service"
	"github.com/victorgomez09/garagedesk/internal/auth/session"
	"github.com/victorgomez09/garagedesk/internal/database"
	"github.com/victorgomez09/garagedesk/internal/database/databasetest"
	"github.com/victorgomez09/garagedesk/internal/mail"
)

const goodPassword = "Sup3rSecret"

type env struct {
	svc    *service.AuthService
	db     *database.DB
	clock  *databasetest.Clock
	outbox *mail.Outbox
	audit  *audit.Recorder
	hasher *password.Hasher
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clock := databasetest.NewClock()
	db := databasetest.New(t, database.WithClock(clock.Now))
	logger := zaptest.NewLogger(t)
	sessions := session.NewManager(db, session.Config{}, session.WithClock(clock.Now))
	rec := audit.New(db, logger, audit.WithClock(clock.Now))
	outbox := &mail.Outbox{}
	hasher := password.New(0)

	svc := service.NewAuthService(service.Deps{
		Store:    db,
		Sessions: sessions,
		Hasher:   hasher,
		Audit:    rec,
		Mailer:   outbox,
		Logger:   logger,
	}, service.AuthConfig{
		ResetSecret: []byte("test-reset-secret"),
		ResetURL:    "https://desk.example.com/reset",
	}, service.WithClock(clock.Now))

	return &env{svc: svc, db: db, clock: clock, outbox: outbox, audit: rec, hasher: hasher}
}

func (e *env) addUser(t *testing.T, username, email string, role models.Role, active bool) *models.User {
	t.Helper()
	hash, err := e.hasher.Hash(goodPassword)
	require.NoError(t, err)
	u := &models.User{Username: username, Email: email, Password: hash, Role: role, Active: active}
	require.NoError(t, e.db.CreateUser(context.Background(), u))
	return u
}

func (e *env) auditActions(t *testing.T, action string) []models.AuditLog {
	t.Helper()
	logs, err := e.audit.List(context.Background(), models.AuditFilter{Action: action})
	require.NoError(t, err)
	return logs
}

var meta = session.Meta{IPAddress: "10.0.0.1", UserAgent: "test"}

func TestLogin_Success(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.addUser(t, "jane", "jane@example.com", models.RoleStaff, true)

	res, err := e.svc.Login(ctx, "jane", goodPassword, meta)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, e.clock.Now().Add(24*time.Hour), res.ExpiresAt)
	assert.Equal(t, "jane", res.User.Username)

	u, _, err := e.svc.RequireSession(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, u.ID)

	// email works as identifier too
	_, err = e.svc.Login(ctx, "JANE@example.com", goodPassword, meta)
	require.NoError(t, err)

	stored, err := e.db.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastLogin)
	assert.Len(t, e.auditActions(t, audit.ActionLogin), 2)
}

func TestLogin_UnknownUser(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.Login(context.Background(), "ghost", goodPassword, meta)
	assert.ErrorIs(t, err, apierr.ErrInvalidCredentials)

	logs := e.auditActions(t, audit.ActionLoginFailed)
	require.Len(t, logs, 1)
	assert.Equal(t, "ghost", logs[0].Username)
	assert.Equal(t, audit.ReasonUnknownUser, logs[0].Details)
}

func TestLogin_MissingFields(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Login(context.Background(), " ", goodPassword, meta)
	assert.ErrorIs(t, err, apierr.ErrValidation)
}

func TestLogin_LockoutAndRateLimit(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.addUser(t, "jane", "", models.RoleStaff, true)

	for i := 0; i < 5; i++ {
		_, err := e.svc.Login(ctx, "jane", "wrong-Passw0rd", meta)
		require.ErrorIs(t, err, apierr.ErrInvalidCredentials, "attempt %d", i+1)
	}

	stored, err := e.db.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.FailedAttempts)
	require.NotNil(t, stored.LockedUntil)
	assert.Equal(t, e.clock.Now().Add(30*time.Minute), *stored.LockedUntil)

	// the identifier limiter answers first, even with the right password
	_, err = e.svc.Login(ctx, "jane", goodPassword, meta)
	require.ErrorIs(t, err, apierr.ErrRateLimited)
	retry, ok := apierr.RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, 5*time.Minute, retry)

	// once the window slides the lockout is what remains
	e.clock.Advance(5 * time.Minute)
	_, err = e.svc.Login(ctx, "jane", goodPassword, meta)
	require.ErrorIs(t, err, apierr.ErrAccountLocked)
	retry, _ = apierr.RetryAfter(err)
	assert.Equal(t, 25*time.Minute, retry)

	e.clock.Advance(25 * time.Minute)
	res, err := e.svc.Login(ctx, "jane", goodPassword, meta)
	require.NoError(t, err)
	assert.Zero(t, res.User.FailedAttempts)

	stored, err = e.db.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.FailedAttempts)
	assert.Nil(t, stored.LockedUntil)
}

func TestLogin_IPLimitAcrossIdentifiers(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.addUser(t, "jane", "", models.RoleStaff, true)

	for i := 0; i < 20; i++ {
		_, err := e.svc.Login(ctx, "user"+string(rune('a'+i)), "whatever1A", meta)
		require.ErrorIs(t, err, apierr.ErrInvalidCredentials)
	}
	_, err := e.svc.Login(ctx, "jane", goodPassword, meta)
	assert.ErrorIs(t, err, apierr.ErrRateLimited)

	other := session.Meta{IPAddress: "10.0.0.2"}
	_, err = e.svc.Login(ctx, "jane", goodPassword, other)
	assert.NoError(t, err)
}

func TestLogin_Inactive(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.addUser(t, "bob", "", models.RoleStaff, false)

	_, err := e.svc.Login(ctx, "bob", "nope-Passw0rd", meta)
	assert.ErrorIs(t, err, apierr.ErrInvalidCredentials)

	_, err = e.svc.Login(ctx, "bob", goodPassword, meta)
	assert.ErrorIs(t, err, apierr.ErrAccountInactive)
}

func TestLogin_UpgradesLegacyCredential(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	sum := sha256.Sum256([]byte(goodPassword))
	u := &models.User{Username: "old", Password: hex.EncodeToString(sum[:]), Role: models.RoleStaff, Active: true}
	require.NoError(t, e.db.CreateUser(ctx, u))

	_, err := e.svc.Login(ctx, "old", goodPassword, meta)
	require.NoError(t, err)

	stored, err := e.db.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.Password, ":")
	assert.False(t, e.hasher.NeedsRehash(stored.Password))
	assert.True(t, e.hasher.Verify(goodPassword, stored.Password))
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.addUser(t, "jane", "", models.RoleStaff, true)

	res, err := e.svc.Login(ctx, "jane", goodPassword, meta)
	require.NoError(t, err)

	require.NoError(t, e.svc.Logout(ctx, res.Token, meta.IPAddress))
	_, _, err = e.svc.RequireSession(ctx, res.Token)
	assert.ErrorIs(t, err, apierr.ErrUnauthenticated)

	err = e.svc.Logout(ctx, res.Token, meta.IPAddress)
	assert.ErrorIs(t, err, apierr.ErrUnauthenticated)
}

func TestCreateUser_LoginLogoutRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	root := e.addUser(t, "root", "", models.RoleAdmin, true)

	u1, err := e.svc.CreateUser(ctx, root, service.NewUser{Username: "u1", Password: "Admin@123", Role: models.RoleAdmin}, "")
	require.NoError(t, err)

	res, err := e.svc.Login(ctx, "u1", "Admin@123", meta)
	require.NoError(t, err)

	u, _, err := e.svc.RequireSession(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, u1.ID, u.ID)
	assert.Equal(t, "u1", u.Username)

	// valid right up to expires_at
	e.clock.T = res.ExpiresAt
	_, _, err = e.svc.RequireSession(ctx, res.Token)
	require.NoError(t, err)

	require.NoError(t, e.svc.Logout(ctx, res.Token, meta.IPAddress))
	_, _, err = e.svc.RequireSession(ctx, res.Token)
	assert.ErrorIs(t, err, apierr.ErrUnauthenticated)
}

func TestLogoutAll(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.addUser(t, "jane", "", models.RoleStaff, true)

	a, err := e.svc.Login(ctx, "jane", goodPassword, meta)
	require.NoError(t, err)
	b, err := e.svc.Login(ctx, "jane", goodPassword, meta)
	require.NoError(t, err)

	n, err := e.svc.LogoutAll(ctx, a.Token, meta.IPAddress)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, _, err = e.svc.RequireSession(ctx, b.Token)
	assert.ErrorIs(t, err, apierr.ErrUnauthenticated)
	assert.Len(t, e.auditActions(t, audit.ActionLogoutAll), 1)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.addUser(t, "jane", "", models.RoleStaff, true)

	res, err := e.svc.Login(ctx, "jane", goodPassword, meta)
	require.NoError(t, err)

	err = e.svc.ChangePassword(ctx, res.User, "Wr0ngOldPass", "N3wPassword", "")
	assert.ErrorIs(t, err, apierr.ErrInvalidCredentials)

	err = e.svc.ChangePassword(ctx, res.User, goodPassword, "short", "")
	assert.ErrorIs(t, err, apierr.ErrValidation)

	err = e.svc.ChangePassword(ctx, res.User, goodPassword, goodPassword, "")
	assert.ErrorIs(t, err, apierr.ErrValidation)

	require.NoError(t, e.svc.ChangePassword(ctx, res.User, goodPassword, "N3wPassword", ""))

	_, _, err = e.svc.RequireSession(ctx, res.Token)
	assert.ErrorIs(t, err, apierr.ErrUnauthenticated, "sessions revoked")

	_, err = e.svc.Login(ctx, "jane", "N3wPassword", meta)
	assert.NoError(t, err)
}

func resetTokenFrom(t *testing.T, body string) string {
	t.Helper()
	_, rest, ok := strings.Cut(body, "token=")
	require.True(t, ok, body)
	raw, _, _ := strings.Cut(rest, "\n")
	token, err := url.QueryUnescape(raw)
	require.NoError(t, err)
	return token
}

func TestForgotAndResetPassword(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.addUser(t, "jane", "jane@example.com", models.RoleStaff, true)

	live, err := e.svc.Login(ctx, "jane", goodPassword, meta)
	require.NoError(t, err)

	require.NoError(t, e.svc.ForgotPassword(ctx, "nobody@example.com", "10.0.0.9"))
	assert.Empty(t, e.outbox.Messages())

	require.NoError(t, e.svc.ForgotPassword(ctx, "jane@example.com", "10.0.0.9"))
	msgs := e.outbox.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "jane@example.com", msgs[0].To)
	assert.Contains(t, msgs[0].Body, "https://desk.example.com/reset?token=")
	token := resetTokenFrom(t, msgs[0].Body)

	e.clock.Advance(time.Minute)
	require.NoError(t, e.svc.ResetPassword(ctx, token, "Rec0veredPass", "10.0.0.9"))

	err = e.svc.ResetPassword(ctx, token, "An0therPass1", "10.0.0.9")
	assert.ErrorIs(t, err, apierr.ErrInvalidResetToken, "single use")

	_, _, err = e.svc.RequireSession(ctx, live.Token)
	assert.ErrorIs(t, err, apierr.ErrUnauthenticated)

	res, err := e.svc.Login(ctx, "jane", "Rec0veredPass", meta)
	require.NoError(t, err)
	assert.Equal(t, u.ID, res.User.ID)
	assert.Len(t, e.auditActions(t, audit.ActionPasswordReset), 1)
}

func TestResetPassword_RejectsBadTokens(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.addUser(t, "jane", "jane@example.com", models.RoleStaff, true)

	require.NoError(t, e.svc.ForgotPassword(ctx, "jane@example.com", "10.0.0.9"))
	token := resetTokenFrom(t, e.outbox.Messages()[0].Body)

	for name, bad := range map[string]string{
		"empty":    "",
		"garbage":  "not-a-token",
		"tampered": token[:len(token)-2] + "xx",
	} {
		err := e.svc.ResetPassword(ctx, bad, "Rec0veredPass", "")
		assert.ErrorIs(t, err, apierr.ErrInvalidResetToken, name)
	}

	e.clock.Advance(time.Hour)
	err := e.svc.ResetPassword(ctx, token, "Rec0veredPass", "")
	assert.ErrorIs(t, err, apierr.ErrInvalidResetToken, "expired")
}

func TestForgotPassword_ThrottledPerIP(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, e.svc.ForgotPassword(ctx, "x@example.com", "10.0.0.7"))
	}
	err := e.svc.ForgotPassword(ctx, "x@example.com", "10.0.0.7")
	assert.ErrorIs(t, err, apierr.ErrRateLimited)

	assert.NoError(t, e.svc.ForgotPassword(ctx, "x@example.com", "10.0.0.8"))
}

func TestBootstrapAdmin(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	file := filepath.Join(t.TempDir(), "admin_password")

	created, err := e.svc.BootstrapAdmin(ctx, file)
	require.NoError(t, err)
	require.True(t, created)

	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	raw, err := os.ReadFile(file)
	require.NoError(t, err)
	pw := strings.TrimSpace(string(raw))
	assert.Len(t, pw, 16)

	res, err := e.svc.Login(ctx, "admin", pw, meta)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, res.User.Role)

	created, err = e.svc.BootstrapAdmin(ctx, file)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestCreateUser(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	admin := e.addUser(t, "root", "", models.RoleAdmin, true)

	u, err := e.svc.CreateUser(ctx, admin, service.NewUser{Username: "mike", Email: "mike@example.com", Password: "M1kePassword"}, "")
	require.NoError(t, err)
	assert.Equal(t, models.RoleStaff, u.Role)
	assert.True(t, u.Active)

	_, err = e.svc.CreateUser(ctx, admin, service.NewUser{Username: "mike", Password: "M1kePassword"}, "")
	assert.ErrorIs(t, err, apierr.ErrConflict)

	_, err = e.svc.CreateUser(ctx, admin, service.NewUser{Username: "a b", Password: "M1kePassword"}, "")
	assert.ErrorIs(t, err, apierr.ErrValidation)

	_, err = e.svc.CreateUser(ctx, admin, service.NewUser{Username: "kim", Password: "M1kePassword", Role: "owner"}, "")
	assert.ErrorIs(t, err, apierr.ErrValidation)

	_, err = e.svc.CreateUser(ctx, admin, service.NewUser{Username: "kim", Password: "weak"}, "")
	assert.ErrorIs(t, err, apierr.ErrValidation)

	assert.Len(t, e.auditActions(t, audit.ActionUserCreate), 1)
}

func TestSetActive_RevokesSessions(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	admin := e.addUser(t, "root", "", models.RoleAdmin, true)
	jane := e.addUser(t, "jane", "", models.RoleStaff, true)

	res, err := e.svc.Login(ctx, "jane", goodPassword, meta)
	require.NoError(t, err)

	require.NoError(t, e.svc.SetActive(ctx, admin, jane.ID, false, ""))
	_, _, err = e.svc.RequireSession(ctx, res.Token)
	assert.ErrorIs(t, err, apierr.ErrUnauthenticated)

	err = e.svc.SetActive(ctx, admin, admin.ID, false, "")
	assert.ErrorIs(t, err, apierr.ErrValidation)

	err = e.svc.SetActive(ctx, admin, 9999, true, "")
	assert.ErrorIs(t, err, apierr.ErrNotFound)
}

func TestSetRole(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	admin := e.addUser(t, "root", "", models.RoleAdmin, true)
	jane := e.addUser(t, "jane", "", models.RoleStaff, true)

	require.NoError(t, e.svc.SetRole(ctx, admin, jane.ID, models.RoleAdmin, ""))
	got, err := e.svc.GetUserById(ctx, jane.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, got.Role)

	assert.ErrorIs(t, e.svc.SetRole(ctx, admin, jane.ID, "owner", ""), apierr.ErrValidation)
	assert.ErrorIs(t, e.svc.SetRole(ctx, admin, admin.ID, models.RoleStaff, ""), apierr.ErrValidation)
}

func TestUnlock(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	admin := e.addUser(t, "root", "", models.RoleAdmin, true)
	jane := e.addUser(t, "jane", "", models.RoleStaff, true)

	for i := 0; i < 5; i++ {
		_, _ = e.svc.Login(ctx, "jane", "wrong-Passw0rd", meta)
	}
	_, err := e.svc.Login(ctx, "jane", goodPassword, session.Meta{IPAddress: "10.0.0.3"})
	require.ErrorIs(t, err, apierr.ErrRateLimited)

	require.NoError(t, e.svc.Unlock(ctx, admin, jane.ID, ""))

	_, err = e.svc.Login(ctx, "jane", goodPassword, session.Meta{IPAddress: "10.0.0.3"})
	assert.NoError(t, err)
}

func TestRequireRole(t *testing.T) {
	e := newEnv(t)
	staff := &models.User{Role: models.RoleStaff}
	assert.NoError(t, e.svc.RequireRole(staff, models.RoleStaff))
	assert.ErrorIs(t, e.svc.RequireRole(staff, models.RoleAdmin), apierr.ErrForbidden)
}
