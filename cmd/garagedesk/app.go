package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/victorgomez09/garagedesk/internal/activity"
	"github.com/victorgomez09/garagedesk/internal/audit"
	"github.com/victorgomez09/garagedesk/internal/auth/password"
	"github.com/victorgomez09/garagedesk/internal/auth/ratelimit"
	"github.com/victorgomez09/garagedesk/internal/auth/service"
	"github.com/victorgomez09/garagedesk/internal/auth/session"
	"github.com/victorgomez09/garagedesk/internal/config"
	"github.com/victorgomez09/garagedesk/internal/database"
	"github.com/victorgomez09/garagedesk/internal/logger"
	"github.com/victorgomez09/garagedesk/internal/mail"
	"github.com/victorgomez09/garagedesk/internal/metrics"
	"github.com/victorgomez09/garagedesk/internal/shutdown"
)

type options struct {
	configPath string
	logConfigs string
}

// app holds the components shared by every command. Each one registers
// its cleanup with shutdown as it is built.
type app struct {
	cfg        *config.GarageDesk
	logManager *logger.Manager
	logger     *zap.Logger
	db         *database.DB
	redis      *redis.Client
	mailer     mail.Sender
	metrics    *metrics.Metrics
	hub        *activity.Hub
	audit      *audit.Recorder
	sessions   *session.Manager
	auth       *service.AuthService
	shutdown   *shutdown.Manager
}

// openApp loads configuration and logging and opens the migrated store.
func openApp(ctx context.Context, opts *options) (*app, error) {
	logManager, err := logger.NewManager(logConfigPaths(opts.logConfigs)...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a := &app{
		logManager: logManager,
		logger:     logManager.Get(logger.App),
		metrics:    metrics.New(),
	}
	a.shutdown = shutdown.NewManager(a.logger)

	if err := a.openStore(ctx, opts); err != nil {
		a.close(context.Background())
		return nil, err
	}
	return a, nil
}

// newApp is openApp plus the auth service. withActivity adds the
// websocket feed.
func newApp(ctx context.Context, opts *options, withActivity bool) (*app, error) {
	a, err := openApp(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := a.buildServices(ctx, withActivity); err != nil {
		a.close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context, opts *options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(a.logger); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	a.cfg = cfg

	db, err := database.Open(ctx, database.Dialect(cfg.Database.Driver), cfg.Database.DSN, database.WithLogger(a.logger))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = db
	a.shutdown.RegisterCloser("database", db.Close)
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func (a *app) buildServices(ctx context.Context, withActivity bool) error {
	cfg := a.cfg
	limiters, err := a.buildLimiters(ctx)
	if err != nil {
		return err
	}

	if a.mailer, err = a.buildMailer(); err != nil {
		return err
	}

	auditOpts := []audit.Option{audit.WithMetrics(a.metrics)}
	if withActivity && cfg.Activity.Enabled {
		a.hub = activity.NewHub(a.logger, cfg.Activity.AllowedOrigins)
		a.shutdown.RegisterCloser("activity hub", a.hub.Close)
		auditOpts = append(auditOpts, audit.WithPublisher(a.hub))
	}
	a.audit = audit.New(a.db, a.logManager.Get(logger.Audit), auditOpts...)

	a.sessions = session.NewManager(a.db, session.Config{
		TTL:               cfg.Auth.SessionTTL,
		InactivityTimeout: cfg.Auth.InactivityTimeout,
		CleanupInterval:   cfg.Auth.CleanupInterval,
	}, session.WithLogger(a.logger), session.WithMetrics(a.metrics))
	a.shutdown.RegisterCloser("session cleanup", a.sessions.Close)

	a.auth = service.NewAuthService(service.Deps{
		Store:    a.db,
		Sessions: a.sessions,
		Hasher:   password.New(cfg.Auth.PBKDF2Iterations),
		Limiters: limiters,
		Audit:    a.audit,
		Mailer:   a.mailer,
		Metrics:  a.metrics,
		Logger:   a.logger,
	}, service.AuthConfig{
		MaxLoginAttempts: cfg.Auth.MaxFailedAttempts,
		LockDuration:     cfg.Auth.LockoutDuration,
		ResetSecret:      []byte(cfg.Auth.ResetSecret),
		ResetTokenTTL:    cfg.Auth.ResetTokenTTL,
		ResetURL:         cfg.Auth.ResetURL,
		PasswordPolicy:   *cfg.Auth.PasswordPolicy,
	})
	return nil
}

func (a *app) buildLimiters(ctx context.Context) (service.Limiters, error) {
	rl := a.cfg.RateLimit
	user := ratelimit.Config{Limit: rl.Attempts, Window: rl.Window}
	ip := ratelimit.Config{Limit: rl.IPAttempts, Window: rl.Window}
	reset := ratelimit.Config{Limit: rl.ResetPerIP, Window: rl.ResetWindow}

	if rl.Backend != "redis" {
		return service.Limiters{
			User:  ratelimit.NewMemory(user),
			IP:    ratelimit.NewMemory(ip),
			Reset: ratelimit.NewMemory(reset),
		}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	a.redis = client
	a.shutdown.RegisterCloser("redis client", client.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return service.Limiters{}, fmt.Errorf("redis ping failed: %w", err)
	}

	// one client for all limiters; keys carry their own namespace
	return service.Limiters{
		User:  ratelimit.NewRedis(client, rl.KeyPrefix, user),
		IP:    ratelimit.NewRedis(client, rl.KeyPrefix, ip),
		Reset: ratelimit.NewRedis(client, rl.KeyPrefix, reset),
	}, nil
}

func (a *app) buildMailer() (mail.Sender, error) {
	m := a.cfg.Mail
	if !m.Enabled {
		return mail.NewLogSender(a.logger), nil
	}
	sender, err := mail.NewSMTPSender(mail.Config{
		Host:      m.SMTPHost,
		Port:      m.SMTPPort,
		Username:  m.Username,
		Password:  m.Password,
		From:      m.From,
		TLSPolicy: m.TLSPolicy,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	return sender, nil
}

// close runs the registered cleanup and flushes the loggers.
func (a *app) close(ctx context.Context) error {
	err := a.shutdown.Shutdown(ctx)
	if syncErr := a.logManager.Sync(); syncErr != nil {
		log.Printf("Failed to sync loggers: %s", syncErr)
	}
	return err
}

func logConfigPaths(custom string) []string {
	paths := []string{"log.config.json"}
	for _, p := range strings.Split(custom, ",") {
		if tp := strings.TrimSpace(p); tp != "" {
			paths = append(paths, tp)
		}
	}
	return paths
}
