package admin_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/victorgomez09/garagedesk/internal/admin"
	"github.com/victorgomez09/garagedesk/internal/audit"
	"github.com/victorgomez09/garagedesk/internal/auth/handlers"
	"github.com/victorgomez09/garagedesk/internal/auth/models"
	"github.com/victorgomez09/garagedesk/internal/auth/password"
	"github.com/victorgomez09/garagedesk/internal/auth/service"
	"github.com/victorgomez09/garagedesk/internal/auth/session"
	"github.com/victorgomez09/garagedesk/internal/config"
	"github.com/victorgomez09/garagedesk/internal/database"
	"github.com/victorgomez09/garagedesk/internal/database/databasetest"
	"github.com/victorgomez09/garagedesk/internal/garage"
	"github.com/victorgomez09/garagedesk/internal/metrics"
)

const testPassword = "Sup3rSecret"

type testAPI struct {
	t       *testing.T
	handler http.Handler
	db      *database.DB
	admin   string
	staff   string
}

type brokenAuditStore struct{}

func (brokenAuditStore) InsertAuditLog(context.Context, *models.AuditLog) error {
	return errors.New("disk full")
}

func (brokenAuditStore) ListAuditLogs(context.Context, models.AuditFilter) ([]models.AuditLog, error) {
	return nil, errors.New("disk full")
}

func newTestAPI(t *testing.T, auditStore audit.Store) *testAPI {
	t.Helper()
	clock := databasetest.NewClock()
	db := databasetest.New(t, database.WithClock(clock.Now))
	logger := zaptest.NewLogger(t)
	if auditStore == nil {
		auditStore = db
	}
	mt := metrics.New()
	rec := audit.New(auditStore, logger, audit.WithClock(clock.Now), audit.WithMetrics(mt))
	hasher := password.New(0)

	svc := service.NewAuthService(service.Deps{
		Store:    db,
		Sessions: session.NewManager(db, session.Config{}, session.WithClock(clock.Now)),
		Hasher:   hasher,
		Audit:    rec,
		Metrics:  mt,
		Logger:   logger,
	}, service.AuthConfig{}, service.WithClock(clock.Now))

	cfg := &config.GarageDesk{}
	cfg.Metrics.Enabled = true
	require.NoError(t, cfg.Validate(zap.NewNop()))

	api := admin.NewAdminAPI(admin.Deps{
		Store:       db,
		AuthService: svc,
		Audit:       rec,
		Metrics:     mt,
		Logger:      logger,
	}, cfg)
	t.Cleanup(func() { _ = api.Close() })

	ta := &testAPI{t: t, handler: api.Handler(), db: db}
	for _, u := range []struct {
		name string
		role models.Role
	}{{"boss", models.RoleAdmin}, {"clerk", models.RoleStaff}} {
		hash, err := hasher.Hash(testPassword)
		require.NoError(t, err)
		require.NoError(t, db.CreateUser(context.Background(), &models.User{
			Username: u.name, Password: hash, Role: u.role, Active: true,
		}))
	}
	ta.admin = ta.login("boss")
	ta.staff = ta.login("clerk")
	return ta
}

func (ta *testAPI) do(method, path, token string, body any) *httptest.ResponseRecorder {
	ta.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ta.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)
	return rec
}

func (ta *testAPI) login(username string) string {
	ta.t.Helper()
	rec := ta.do(http.MethodPost, "/api/login", "", handlers.LoginRequest{Username: username, Password: testPassword})
	require.Equal(ta.t, http.StatusOK, rec.Code, rec.Body.String())
	var resp handlers.LoginResponse
	require.NoError(ta.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Token
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestAPI_RequiresSession(t *testing.T) {
	ta := newTestAPI(t, nil)

	rec := ta.do(http.MethodGet, "/api/customers", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"authentication required"}`, rec.Body.String())

	assert.Equal(t, http.StatusUnauthorized, ta.do(http.MethodGet, "/api/dashboard", "not-a-token", nil).Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestAPI_CustomerCRUD(t *testing.T) {
	ta := newTestAPI(t, nil)

	rec := ta.do(http.MethodPost, "/api/customers", ta.staff, garage.Customer{Name: "Jane Doe", Email: "Jane@Example.com", Phone: "0712345678"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[garage.Customer](t, rec)
	assert.NotZero(t, created.ID)
	assert.Equal(t, "jane@example.com", created.Email)

	list := decode[[]garage.Customer](t, ta.do(http.MethodGet, "/api/customers?limit=10", ta.staff, nil))
	require.Len(t, list, 1)

	path := "/api/customers/" + itoa(created.ID)
	rec = ta.do(http.MethodPut, path, ta.staff, garage.Customer{Name: "Jane Smith"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Jane Smith", decode[garage.Customer](t, rec).Name)

	assert.Equal(t, http.StatusForbidden, ta.do(http.MethodDelete, path, ta.staff, nil).Code)
	assert.Equal(t, http.StatusNoContent, ta.do(http.MethodDelete, path, ta.admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, ta.do(http.MethodGet, path, ta.staff, nil).Code)

	logs := decode[[]models.AuditLog](t, ta.do(http.MethodGet, "/api/audit?entity_type=customer", ta.admin, nil))
	var details []string
	for _, l := range logs {
		details = append(details, l.Details)
	}
	assert.Contains(t, details, "Created customer: Jane Doe")
	assert.Contains(t, details, "Deleted customer #"+itoa(created.ID))
}

func TestAPI_ValidationErrorsNameFields(t *testing.T) {
	ta := newTestAPI(t, nil)

	rec := ta.do(http.MethodPost, "/api/customers", ta.staff, map[string]string{"email": "nope"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[handlers.ErrorResponse](t, rec)
	var fields []string
	for _, f := range resp.Fields {
		fields = append(fields, f.Field)
	}
	assert.ElementsMatch(t, []string{"name", "email"}, fields)

	assert.Equal(t, http.StatusBadRequest, ta.do(http.MethodGet, "/api/customers/abc", ta.staff, nil).Code)
	assert.Equal(t, http.StatusBadRequest, ta.do(http.MethodGet, "/api/customers?limit=-1", ta.staff, nil).Code)
}

func TestAPI_VehicleNeedsExistingCustomer(t *testing.T) {
	ta := newTestAPI(t, nil)

	rec := ta.do(http.MethodPost, "/api/vehicles", ta.staff, garage.Vehicle{
		CustomerID: 999, Make: "Toyota", Model: "Corolla", Year: 2015, LicensePlate: "KAA 123A",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"referenced entity does not exist"}`, rec.Body.String())
}

func TestAPI_ServiceAutoAssignAndCompletion(t *testing.T) {
	ta := newTestAPI(t, nil)

	cust := decode[garage.Customer](t, ta.do(http.MethodPost, "/api/customers", ta.staff, garage.Customer{Name: "Owner"}))
	veh := decode[garage.Vehicle](t, ta.do(http.MethodPost, "/api/vehicles", ta.staff, garage.Vehicle{
		CustomerID: cust.ID, Make: "Mazda", Model: "Demio", Year: 2012, LicensePlate: "KBB 456B",
	}))
	tech := decode[garage.Technician](t, ta.do(http.MethodPost, "/api/technicians", ta.staff, map[string]string{"name": "Otieno"}))
	assert.True(t, tech.Active, "technicians start active")

	rec := ta.do(http.MethodPost, "/api/services", ta.staff, garage.Service{VehicleID: veh.ID, ServiceType: "Oil change", CostCents: 4500})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	svc := decode[garage.Service](t, rec)
	require.NotNil(t, svc.TechnicianID)
	assert.Equal(t, tech.ID, *svc.TechnicianID)
	assert.Equal(t, garage.StatusPending, svc.Status)

	svc.Status = garage.StatusCompleted
	rec = ta.do(http.MethodPut, "/api/services/"+itoa(svc.ID), ta.staff, svc)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotNil(t, decode[garage.Service](t, rec).CompletedAt)

	logs := decode[[]models.AuditLog](t, ta.do(http.MethodGet, "/api/audit?action=update", ta.admin, nil))
	require.NotEmpty(t, logs)
	assert.Equal(t, "Updated service #"+itoa(svc.ID)+": status=completed", logs[0].Details)

	dash := decode[garage.Dashboard](t, ta.do(http.MethodGet, "/api/dashboard", ta.staff, nil))
	assert.Equal(t, 1, dash.TotalCustomers)
	assert.EqualValues(t, 4500, dash.ServiceRevenueCents)
}

func TestAPI_BookingInThePastRejected(t *testing.T) {
	ta := newTestAPI(t, nil)
	cust := decode[garage.Customer](t, ta.do(http.MethodPost, "/api/customers", ta.staff, garage.Customer{Name: "Owner"}))

	rec := ta.do(http.MethodPost, "/api/bookings", ta.staff, garage.Booking{
		CustomerID: cust.ID, ServiceType: "Inspection", BookingDate: "2024-06-01", BookingTime: "09:30",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ta.do(http.MethodPost, "/api/bookings", ta.staff, garage.Booking{
		CustomerID: cust.ID, ServiceType: "Inspection", BookingDate: "2024-06-20", BookingTime: "09:30",
	})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, ta.do(http.MethodGet, "/api/bookings?status=bogus", ta.staff, nil).Code)
}

func TestAPI_PartsLowStockFilter(t *testing.T) {
	ta := newTestAPI(t, nil)
	ta.do(http.MethodPost, "/api/parts", ta.staff, garage.Part{Name: "Brake pads", StockQuantity: 2, MinStock: 5, PriceCents: 1500})
	ta.do(http.MethodPost, "/api/parts", ta.staff, garage.Part{Name: "Oil filter", StockQuantity: 40, MinStock: 5, PriceCents: 700})

	low := decode[[]garage.Part](t, ta.do(http.MethodGet, "/api/parts?low_stock=true", ta.staff, nil))
	require.Len(t, low, 1)
	assert.Equal(t, "Brake pads", low[0].Name)
	assert.True(t, low[0].LowStock)

	all := decode[[]garage.Part](t, ta.do(http.MethodGet, "/api/parts", ta.staff, nil))
	assert.Len(t, all, 2)
}

func TestAPI_AuditFailureDoesNotFailMutation(t *testing.T) {
	ta := newTestAPI(t, brokenAuditStore{})

	rec := ta.do(http.MethodPost, "/api/customers", ta.staff, garage.Customer{Name: "Still Saved"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestAPI_UnknownRoleNeedsOnlySession(t *testing.T) {
	ta := newTestAPI(t, nil)
	hash, err := password.New(0).Hash(testPassword)
	require.NoError(t, err)
	require.NoError(t, ta.db.CreateUser(context.Background(), &models.User{
		Username: "intern", Password: hash, Role: "apprentice", Active: true,
	}))
	token := ta.login("intern")

	assert.Equal(t, http.StatusOK, ta.do(http.MethodGet, "/api/customers", token, nil).Code)
	assert.Equal(t, http.StatusOK, ta.do(http.MethodGet, "/api/dashboard", token, nil).Code)
	rec := ta.do(http.MethodPost, "/api/customers", token, garage.Customer{Name: "Walk In"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	path := "/api/customers/" + itoa(decode[garage.Customer](t, rec).ID)
	assert.Equal(t, http.StatusForbidden, ta.do(http.MethodDelete, path, token, nil).Code)
	assert.Equal(t, http.StatusForbidden, ta.do(http.MethodGet, "/api/users", token, nil).Code)
}

func TestAPI_AdminOnlyRoutes(t *testing.T) {
	ta := newTestAPI(t, nil)

	for _, path := range []string{"/api/users", "/api/audit"} {
		assert.Equal(t, http.StatusForbidden, ta.do(http.MethodGet, path, ta.staff, nil).Code, path)
		assert.Equal(t, http.StatusOK, ta.do(http.MethodGet, path, ta.admin, nil).Code, path)
	}

	rec := ta.do(http.MethodPost, "/api/users", ta.admin, service.NewUser{
		Username: "mechanic1", Password: "Wrench42Go", Role: models.RoleStaff,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	user := decode[models.User](t, rec)

	rec = ta.do(http.MethodPut, "/api/users/"+itoa(user.ID)+"/role", ta.admin, handlers.SetRoleRequest{Role: models.RoleAdmin})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.RoleAdmin, decode[models.User](t, rec).Role)
}

func TestAPI_DeleteUserRevokesSessions(t *testing.T) {
	ta := newTestAPI(t, nil)
	clerk := decode[models.User](t, ta.do(http.MethodGet, "/api/me", ta.staff, nil))
	boss := decode[models.User](t, ta.do(http.MethodGet, "/api/me", ta.admin, nil))

	assert.Equal(t, http.StatusForbidden, ta.do(http.MethodDelete, "/api/users/"+itoa(boss.ID), ta.staff, nil).Code)
	assert.Equal(t, http.StatusBadRequest, ta.do(http.MethodDelete, "/api/users/"+itoa(boss.ID), ta.admin, nil).Code)

	require.Equal(t, http.StatusNoContent, ta.do(http.MethodDelete, "/api/users/"+itoa(clerk.ID), ta.admin, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, ta.do(http.MethodGet, "/api/me", ta.staff, nil).Code)
	assert.Equal(t, http.StatusNotFound, ta.do(http.MethodGet, "/api/users/"+itoa(clerk.ID), ta.admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, ta.do(http.MethodDelete, "/api/users/"+itoa(clerk.ID), ta.admin, nil).Code)
}

func TestAPI_SessionsAndLogout(t *testing.T) {
	ta := newTestAPI(t, nil)

	sessions := decode[[]handlers.SessionView](t, ta.do(http.MethodGet, "/api/me/sessions", ta.staff, nil))
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].Current)

	assert.Equal(t, http.StatusNoContent, ta.do(http.MethodPost, "/api/logout", ta.staff, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, ta.do(http.MethodGet, "/api/me", ta.staff, nil).Code)
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	ta := newTestAPI(t, nil)

	rec := ta.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = ta.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "garagedesk_login_attempts_total")
}

func TestAPI_SecurityHeaders(t *testing.T) {
	ta := newTestAPI(t, nil)
	rec := ta.do(http.MethodGet, "/api/me", ta.staff, nil)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
