package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/victorgomez09/garagedesk/internal/apierr"
	"github.com/victorgomez09/garagedesk/internal/audit"
	"github.com/victorgomez09/garagedesk/internal/auth/handlers"
	"github.com/victorgomez09/garagedesk/internal/auth/models"
	"github.com/victorgomez09/garagedesk/internal/auth/password"
	"github.com/victorgomez09/garagedesk/internal/auth/service"
	"github.com/victorgomez09/garagedesk/internal/auth/session"
	"github.com/victorgomez09/garagedesk/internal/database"
	"github.com/victorgomez09/garagedesk/internal/database/databasetest"
	"github.com/victorgomez09/garagedesk/internal/mail"
)

const goodPassword = "Sup3rSecret"

type fixture struct {
	h      *handlers.AuthHandler
	svc    *service.AuthService
	db     *database.DB
	outbox *mail.Outbox
	user   *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := databasetest.NewClock()
	db := databasetest.New(t, database.WithClock(clock.Now))
	logger := zaptest.NewLogger(t)
	hasher := password.New(0)
	outbox := &mail.Outbox{}

	svc := service.NewAuthService(service.Deps{
		Store:    db,
		Sessions: session.NewManager(db, session.Config{}, session.WithClock(clock.Now)),
		Hasher:   hasher,
		Audit:    audit.New(db, logger, audit.WithClock(clock.Now)),
		Mailer:   outbox,
		Logger:   logger,
	}, service.AuthConfig{ResetSecret: []byte("handler-secret")}, service.WithClock(clock.Now))

	hash, err := hasher.Hash(goodPassword)
	require.NoError(t, err)
	u := &models.User{Username: "jane", Email: "jane@example.com", Password: hash, Role: models.RoleStaff, Active: true}
	require.NoError(t, db.CreateUser(context.Background(), u))

	current := func(r *http.Request) (*models.User, *models.Session) { return u, nil }
	return &fixture{
		h:      handlers.NewAuthHandler(svc, current, logger),
		svc:    svc,
		db:     db,
		outbox: outbox,
		user:   u,
	}
}

func postJSON(t *testing.T, h http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(b))
	req.RemoteAddr = "192.0.2.10:4000"
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)

	rec := postJSON(t, f.h.Login, handlers.LoginRequest{Username: "jane", Password: goodPassword})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp handlers.LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "Bearer", resp.Type)
	assert.Equal(t, "jane", resp.User.Username)
	assert.NotContains(t, rec.Body.String(), "pbkdf2")
}

func TestLogin_WrongPasswordIsGeneric(t *testing.T) {
	f := newFixture(t)

	bad := postJSON(t, f.h.Login, handlers.LoginRequest{Username: "jane", Password: "nope"})
	unknown := postJSON(t, f.h.Login, handlers.LoginRequest{Username: "ghost", Password: "nope"})

	assert.Equal(t, http.StatusUnauthorized, bad.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.JSONEq(t, bad.Body.String(), unknown.Body.String())
}

func TestLogin_RateLimitedSetsRetryAfter(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 5; i++ {
		postJSON(t, f.h.Login, handlers.LoginRequest{Username: "jane", Password: "nope"})
	}
	rec := postJSON(t, f.h.Login, handlers.LoginRequest{Username: "jane", Password: goodPassword})

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "300", rec.Header().Get("Retry-After"))
}

func TestLogin_MalformedBody(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	f.h.Login(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp handlers.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Fields, 1)
	assert.Equal(t, "body", resp.Fields[0].Field)
}

func TestForgotPassword_SameAnswerForUnknownAddress(t *testing.T) {
	f := newFixture(t)

	known := postJSON(t, f.h.ForgotPassword, handlers.ForgotPasswordRequest{Email: "jane@example.com"})
	unknown := postJSON(t, f.h.ForgotPassword, handlers.ForgotPasswordRequest{Email: "nobody@example.com"})

	assert.Equal(t, http.StatusAccepted, known.Code)
	assert.Equal(t, known.Code, unknown.Code)
	assert.Equal(t, known.Body.String(), unknown.Body.String())
	assert.Len(t, f.outbox.Messages(), 1)
}

func TestChangePassword_PolicyViolationReportsField(t *testing.T) {
	f := newFixture(t)

	rec := postJSON(t, f.h.ChangePassword, handlers.ChangePasswordRequest{OldPassword: goodPassword, NewPassword: "short"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp handlers.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Fields)
	assert.Equal(t, "password", resp.Fields[0].Field)
}

func TestSetActive_RequiresField(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPut, "/api/users/1/active", bytes.NewBufferString(`{}`))
	req.SetPathValue("id", "1")
	rec := httptest.NewRecorder()
	f.h.SetActive(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWriteError_StatusTable(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{apierr.ErrNotFound, http.StatusNotFound},
		{apierr.ErrConflict, http.StatusConflict},
		{apierr.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{&apierr.LockedError{RetryAfter: 90}, http.StatusLocked},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		handlers.WriteError(rec, httptest.NewRequest(http.MethodGet, "/", nil), zaptest.NewLogger(t), tt.err)
		assert.Equal(t, tt.code, rec.Code, tt.err.Error())
	}
}

func TestPathID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/customers/x", nil)
	req.SetPathValue("id", "x")
	_, err := handlers.PathID(req)
	assert.ErrorIs(t, err, apierr.ErrValidation)

	req.SetPathValue("id", "42")
	id, err := handlers.PathID(req)
	require.NoError(t, err)
	assert.EqualValues(t, 42, id)
}
