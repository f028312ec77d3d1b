package certmanager

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/victorgomez09/garagedesk/internal/config"
	"github.com/victorgomez09/garagedesk/internal/mail"
)

// Alerter defines the interface for certificate expiration alerting
type Alerter interface {
	Alert(ctx context.Context, domain string, expiry time.Time) error
}

// MailAlerter mails expiry warnings to the configured operators.
type MailAlerter struct {
	sender mail.Sender
	to     []string
}

func NewMailAlerter(sender mail.Sender, to []string) *MailAlerter {
	return &MailAlerter{sender: sender, to: to}
}

func (a *MailAlerter) Alert(ctx context.Context, domain string, expiry time.Time) error {
	var errs []error
	for _, to := range a.to {
		msg := mail.Message{
			To:      to,
			Subject: fmt.Sprintf("Certificate Expiration Warning - %s", domain),
			Body: fmt.Sprintf(
				"The TLS certificate for %s will expire on %s.\n\nPlease renew the certificate before expiration to prevent service interruption.",
				domain, expiry.Format(time.RFC3339)),
		}
		if err := a.sender.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("alert to %s: %w", to, err))
		}
	}
	return errors.Join(errs...)
}

type NoopAlerter struct{}

func (NoopAlerter) Alert(context.Context, string, time.Time) error { return nil }

type certStatus struct {
	isValid   bool
	expiresAt time.Time
	err       error
}

// CertManager serves the certificate of the HTTP server. A configured
// key pair is loaded from disk and reloaded on every check, so rotated
// files are picked up without a restart. Without one, certificates come
// from ACME via autocert.
type CertManager struct {
	cfg     config.TLS
	manager *autocert.Manager
	alerter Alerter
	logger  *zap.Logger
	now     func() time.Time

	mu   sync.RWMutex
	cert *tls.Certificate

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewCertManager(cfg config.TLS, alerter Alerter, logger *zap.Logger) (*CertManager, error) {
	if alerter == nil {
		alerter = NoopAlerter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cm := &CertManager{
		cfg:      cfg,
		alerter:  alerter,
		logger:   logger,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}

	if cfg.CertFile != "" {
		if err := cm.loadLocalCertificate(); err != nil {
			return nil, err
		}
		return cm, nil
	}
	if len(cfg.ACMEDomains) == 0 {
		return nil, errors.New("no certificate source configured")
	}
	cm.manager = &autocert.Manager{
		Cache:      autocert.DirCache(cfg.ACMECacheDir),
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(cfg.ACMEDomains...),
		Email:      cfg.ACMEEmail,
	}
	return cm, nil
}

func (cm *CertManager) loadLocalCertificate() error {
	cert, err := tls.LoadX509KeyPair(cm.cfg.CertFile, cm.cfg.KeyFile)
	if err != nil {
		return fmt.Errorf("loading certificate: %w", err)
	}
	if cert.Leaf == nil && len(cert.Certificate) > 0 {
		if cert.Leaf, err = x509.ParseCertificate(cert.Certificate[0]); err != nil {
			return fmt.Errorf("parsing certificate: %w", err)
		}
	}
	cm.mu.Lock()
	cm.cert = &cert
	cm.mu.Unlock()
	return nil
}

// GetCertificate retrieves the TLS certificate for the given client hello.
func (cm *CertManager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if cm.manager != nil {
		return cm.manager.GetCertificate(hello)
	}
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.cert, nil
}

// TLSConfig returns the server configuration: TLS 1.2 or later with the
// suites in Ciphers.
func (cm *CertManager) TLSConfig() *tls.Config {
	var cfg *tls.Config
	if cm.manager != nil {
		// keeps the acme-tls/1 protocol for TLS-ALPN challenges
		cfg = cm.manager.TLSConfig()
	} else {
		cfg = &tls.Config{NextProtos: []string{"h2", "http/1.1"}}
	}
	cfg.MinVersion = tls.VersionTLS12
	cfg.CipherSuites = Ciphers
	cfg.GetCertificate = cm.GetCertificate
	return cfg
}

// Start runs the expiry check every CheckInterval until Stop.
func (cm *CertManager) Start() {
	if cm.cfg.CheckInterval <= 0 {
		return
	}
	cm.wg.Add(1)
	go cm.periodicCertCheck()
}

func (cm *CertManager) periodicCertCheck() {
	defer cm.wg.Done()

	ticker := time.NewTicker(cm.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			cm.CheckCerts(ctx)
			cancel()
		case <-cm.stopChan:
			cm.logger.Info("Periodic certificate check stopped")
			return
		}
	}
}

func (cm *CertManager) validateCertificate(cert *tls.Certificate) certStatus {
	if cert == nil {
		return certStatus{err: errors.New("certificate is nil")}
	}
	if cert.Leaf == nil && len(cert.Certificate) > 0 {
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return certStatus{err: fmt.Errorf("failed to parse certificate: %w", err)}
		}
		cert.Leaf = leaf
	}
	if cert.Leaf == nil {
		return certStatus{err: errors.New("certificate has no leaf")}
	}

	now := cm.now()
	return certStatus{
		isValid:   now.Before(cert.Leaf.NotAfter) && now.After(cert.Leaf.NotBefore),
		expiresAt: cert.Leaf.NotAfter,
	}
}

// CheckCerts reloads local certificates and alerts about any that expire
// within ExpiryThreshold. It returns how many alerts were raised.
func (cm *CertManager) CheckCerts(ctx context.Context) int {
	certs := make(map[string]*tls.Certificate)
	if cm.manager != nil {
		for _, domain := range cm.cfg.ACMEDomains {
			cert, err := cm.manager.GetCertificate(&tls.ClientHelloInfo{ServerName: domain})
			if err != nil {
				cm.logger.Warn("No certificate found for domain", zap.String("domain", domain), zap.Error(err))
				continue
			}
			certs[domain] = cert
		}
	} else {
		if err := cm.loadLocalCertificate(); err != nil {
			cm.logger.Error("Failed to reload certificate", zap.String("cert_file", cm.cfg.CertFile), zap.Error(err))
		}
		cm.mu.RLock()
		cert := cm.cert
		cm.mu.RUnlock()
		certs[certName(cert)] = cert
	}

	alerts := 0
	for domain, cert := range certs {
		status := cm.validateCertificate(cert)
		if status.err != nil {
			cm.logger.Error("Certificate validation failed", zap.String("domain", domain), zap.Error(status.err))
			continue
		}

		timeLeft := status.expiresAt.Sub(cm.now())
		if !status.isValid || timeLeft < cm.cfg.ExpiryThreshold {
			cm.logger.Warn("Certificate approaching expiration",
				zap.String("domain", domain),
				zap.Time("expires_at", status.expiresAt),
				zap.String("time_left", formatDuration(timeLeft)))
			alerts++
			if err := cm.alerter.Alert(ctx, domain, status.expiresAt); err != nil {
				cm.logger.Error("Failed to send alert", zap.String("domain", domain), zap.Error(err))
			}
			continue
		}

		cm.logger.Debug("Certificate valid",
			zap.String("domain", domain),
			zap.Time("expires_at", status.expiresAt),
			zap.String("time_left", formatDuration(timeLeft)))
	}
	return alerts
}

func certName(cert *tls.Certificate) string {
	if cert == nil || cert.Leaf == nil {
		return "local"
	}
	if len(cert.Leaf.DNSNames) > 0 {
		return strings.Join(cert.Leaf.DNSNames, ",")
	}
	return cert.Leaf.Subject.CommonName
}

// Stop ends the periodic check. Safe to call more than once.
func (cm *CertManager) Stop() error {
	cm.stopOnce.Do(func() { close(cm.stopChan) })
	cm.wg.Wait()
	return nil
}

// formatDuration formats time to more human readable string
func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "expired"
	}
	d = d.Round(time.Hour)
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh", hours)
	default:
		return "less than 1h"
	}
}
