package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/victorgomez09/garagedesk/internal/admin"
	certmanager "github.com/victorgomez09/garagedesk/internal/crypto"
	"github.com/victorgomez09/garagedesk/internal/logger"
	"github.com/victorgomez09/garagedesk/internal/server"
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the back-office HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
}

func runServe(ctx context.Context, opts *options) error {
	a, err := newApp(ctx, opts, true)
	if err != nil {
		return err
	}

	if _, err := a.auth.BootstrapAdmin(ctx, a.cfg.Auth.BootstrapPasswordFile); err != nil {
		a.logger.Error("Failed to bootstrap admin account", zap.Error(err))
		a.close(context.Background())
		return err
	}
	a.sessions.Start()

	deps := admin.Deps{
		Store:       a.db,
		AuthService: a.auth,
		Audit:       a.audit,
		Metrics:     a.metrics,
		Logger:      a.logManager.Get(logger.HTTP),
	}
	if a.hub != nil {
		deps.Activity = a.hub
	}
	api := admin.NewAdminAPI(deps, a.cfg)
	a.shutdown.RegisterCloser("admin api", api.Close)

	var certs *certmanager.CertManager
	if t := a.cfg.Server.TLS; t != nil && t.Enabled {
		var alerter certmanager.Alerter
		if len(t.AlertEmails) > 0 {
			alerter = certmanager.NewMailAlerter(a.mailer, t.AlertEmails)
		}
		if certs, err = certmanager.NewCertManager(*t, alerter, a.logger); err != nil {
			a.close(context.Background())
			return err
		}
	}

	srv := server.NewServer(&a.cfg.Server, api.Handler(), certs, a.logger)
	errChan := make(chan error, 1)
	if err := srv.Start(errChan); err != nil {
		a.logger.Error("Error starting server", zap.Error(err))
		a.close(context.Background())
		return err
	}
	a.shutdown.RegisterShutdown("server", srv.Shutdown)

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Warn("Shutdown signal received. Initializing graceful shutdown")
	case serveErr = <-errChan:
		a.logger.Error("Server error triggered shutdown", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.close(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Error("Error during shutdown", zap.Error(err))
		return errors.Join(serveErr, err)
	}
	a.logger.Info("Server shutdown completed")
	return serveErr
}
