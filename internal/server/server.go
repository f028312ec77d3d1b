package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/victorgomez09/garagedesk/internal/config"
	certmanager "github.com/victorgomez09/garagedesk/internal/crypto"
	"github.com/victorgomez09/garagedesk/internal/logger"
)

// Server runs the back-office HTTP API on a single listener, over TLS when
// a certificate manager is given.
type Server struct {
	cfg         *config.Server
	http        *http.Server
	certManager *certmanager.CertManager
	logger      *zap.Logger

	mu   sync.Mutex
	addr net.Addr
	wg   sync.WaitGroup
}

// NewServer builds the http.Server for handler. certs may be nil for
// plain HTTP.
func NewServer(cfg *config.Server, handler http.Handler, certs *certmanager.CertManager, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		ErrorLog:     logger.StdLogger(log, zapcore.WarnLevel),
	}
	if certs != nil {
		srv.TLSConfig = certs.TLSConfig()
	}
	return &Server{cfg: cfg, http: srv, certManager: certs, logger: log}
}

// Start listens on the configured address and serves in the background.
// Serve errors other than a graceful close are sent to errChan.
func (s *Server) Start(errChan chan<- error) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	s.Serve(ln, errChan)
	return nil
}

// Serve accepts connections on ln in the background.
func (s *Server) Serve(ln net.Listener, errChan chan<- error) {
	if s.http.TLSConfig != nil {
		ln = tls.NewListener(ln, s.http.TLSConfig)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	if s.certManager != nil {
		s.certManager.Start()
	}

	s.wg.Add(1)
	go s.runServer(ln, errChan)
}

func (s *Server) runServer(ln net.Listener, errChan chan<- error) {
	defer s.wg.Done()

	s.logger.Info("Server started",
		zap.String("listen_on", ln.Addr().String()),
		zap.Bool("tls", s.http.TLSConfig != nil))

	err := s.http.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("Error starting server", zap.Error(err))
		if errChan != nil {
			errChan <- err
		}
		return
	}
	s.logger.Info("Server stopped gracefully")
}

// Addr reports the bound address once the server is serving.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	if s.certManager != nil {
		s.certManager.Stop()
	}
	s.wg.Wait()
	return err
}
