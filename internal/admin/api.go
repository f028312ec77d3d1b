package admin

import (
	"net/http"

	"go.uber.org/zap"

	admin "github.com/victorgomez09/garagedesk/internal/admin/middleware"
	"github.com/victorgomez09/garagedesk/internal/audit"
	"github.com/victorgomez09/garagedesk/internal/auth/handlers"
	authmw "github.com/victorgomez09/garagedesk/internal/auth/middleware"
	auth_service "github.com/victorgomez09/garagedesk/internal/auth/service"
	"github.com/victorgomez09/garagedesk/internal/config"
	"github.com/victorgomez09/garagedesk/internal/metrics"
	"github.com/victorgomez09/garagedesk/internal/middleware"
	"github.com/victorgomez09/garagedesk/internal/validation"
	"github.com/victorgomez09/garagedesk/pkg/trace"
)

// Deps are the collaborators the API serves. Activity and Metrics are optional.
type Deps struct {
	Store       Store
	AuthService *auth_service.AuthService
	Audit       *audit.Recorder
	Activity    http.Handler
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// AdminAPI is the back-office HTTP API: authentication, user management,
// the garage entities, the dashboard and the audit trail.
type AdminAPI struct {
	mux            *http.ServeMux
	config         *config.GarageDesk
	store          Store
	authService    *auth_service.AuthService
	authHandler    *handlers.AuthHandler
	authMiddleware *authmw.AuthMiddleware
	audit          *audit.Recorder
	validator      *validation.Validator
	activity       http.Handler
	metrics        *metrics.Metrics
	logger         *zap.Logger
	throttle       *middleware.ClientRateLimiter
}

// NewAdminAPI creates the API and registers all routes. cfg must have
// been validated.
func NewAdminAPI(deps Deps, cfg *config.GarageDesk) *AdminAPI {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	api := &AdminAPI{
		mux:            http.NewServeMux(),
		config:         cfg,
		store:          deps.Store,
		authService:    deps.AuthService,
		authHandler:    handlers.NewAuthHandler(deps.AuthService, authmw.Current, logger),
		authMiddleware: authmw.NewAuthMiddleware(deps.AuthService, logger),
		audit:          deps.Audit,
		validator:      validation.New(),
		activity:       deps.Activity,
		metrics:        deps.Metrics,
		logger:         logger,
	}
	api.registerRoutes()
	return api
}

// registerRoutes sets up the HTTP handlers. Every /api route except the
// anonymous auth endpoints requires a session; deletes, user management
// and the audit trail require admin.
func (a *AdminAPI) registerRoutes() {
	h := a.authHandler

	// anonymous
	a.mux.HandleFunc("POST /api/login", h.Login)
	a.mux.HandleFunc("POST /api/logout", h.Logout)
	a.mux.HandleFunc("POST /api/logout_all", h.LogoutAll)
	a.mux.HandleFunc("POST /api/password/forgot", h.ForgotPassword)
	a.mux.HandleFunc("POST /api/password/reset", h.ResetPassword)
	a.mux.HandleFunc("GET /api/password/requirements", h.PasswordRequirements)
	a.mux.HandleFunc("GET /healthz", a.handleHealth)

	// any signed-in user
	a.mux.Handle("GET /api/me", a.signedIn(http.HandlerFunc(h.Me)))
	a.mux.Handle("GET /api/me/sessions", a.signedIn(http.HandlerFunc(h.ListSessions)))
	a.mux.Handle("POST /api/password/change", a.signedIn(http.HandlerFunc(h.ChangePassword)))
	a.mux.Handle("GET /api/dashboard", a.signedIn(http.HandlerFunc(a.handleDashboard)))
	a.registerResources()

	// admin only
	a.mux.Handle("GET /api/users", a.admin(http.HandlerFunc(h.ListUsers)))
	a.mux.Handle("POST /api/users", a.admin(http.HandlerFunc(h.CreateUser)))
	a.mux.Handle("GET /api/users/{id}", a.admin(http.HandlerFunc(h.GetUser)))
	a.mux.Handle("DELETE /api/users/{id}", a.admin(http.HandlerFunc(h.DeleteUser)))
	a.mux.Handle("PUT /api/users/{id}/role", a.admin(http.HandlerFunc(h.SetRole)))
	a.mux.Handle("PUT /api/users/{id}/active", a.admin(http.HandlerFunc(h.SetActive)))
	a.mux.Handle("POST /api/users/{id}/unlock", a.admin(http.HandlerFunc(h.Unlock)))
	a.mux.Handle("GET /api/audit", a.admin(http.HandlerFunc(a.handleAudit)))

	if a.activity != nil {
		a.mux.Handle("GET /api/activity", a.admin(a.activity))
	}
	if a.metrics != nil && a.config.Metrics.Enabled {
		a.mux.Handle("GET "+a.config.Metrics.Path, a.metrics.Handler())
	}
}

// Handler returns the API wrapped in the server middleware chain.
func (a *AdminAPI) Handler() http.Handler {
	srv := &a.config.Server

	chain := middleware.NewMiddlewareChain()
	if srv.TrustProxy {
		chain.Use(middleware.NewProxyHeadersMiddleware())
	}
	chain.Use(
		trace.WithRequestID(srv.TrustProxy),
		middleware.NewLoggingMiddleware(a.logger,
			middleware.WithQueryParams(true),
			middleware.WithSensitivePaths([]string{"/api/login", "/api/password/"}),
			middleware.WithSkipPaths([]string{"/healthz", a.config.Metrics.Path}),
		),
		middleware.NewMetricsMiddleware(a.metrics),
	)
	a.throttle = chain.AddConfiguredMiddlewares(srv, a.logger)
	chain.Use(
		admin.NewIPRestrictionMiddleware(srv.AllowedIPs, a.logger),
		admin.NewHostnameMiddleware(srv.AllowedHosts, a.logger),
	)
	return chain.Then(a.mux)
}

// Close stops the background work started by Handler.
func (a *AdminAPI) Close() error {
	if a.throttle != nil {
		return a.throttle.Close()
	}
	return nil
}
