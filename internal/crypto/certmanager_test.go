package certmanager

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/victorgomez09/garagedesk/internal/config"
	"github.com/victorgomez09/garagedesk/internal/mail"
)

func writeCert(t *testing.T, notBefore, notAfter time.Time) config.TLS {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "desk.example.com"},
		DNSNames:     []string{"desk.example.com"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))

	return config.TLS{
		Enabled:         true,
		CertFile:        certFile,
		KeyFile:         keyFile,
		CheckInterval:   time.Hour,
		ExpiryThreshold: 30 * 24 * time.Hour,
		AlertEmails:     []string{"ops@example.com"},
	}
}

func TestCertManager_LocalCertificate(t *testing.T) {
	cfg := writeCert(t, time.Now().Add(-time.Hour), time.Now().Add(200*24*time.Hour))
	cm, err := NewCertManager(cfg, nil, zap.NewNop())
	require.NoError(t, err)

	cert, err := cm.GetCertificate(&tls.ClientHelloInfo{ServerName: "desk.example.com"})
	require.NoError(t, err)
	require.NotNil(t, cert.Leaf)
	assert.Equal(t, "desk.example.com", cert.Leaf.Subject.CommonName)

	tc := cm.TLSConfig()
	assert.Equal(t, uint16(tls.VersionTLS12), tc.MinVersion)
	assert.Equal(t, Ciphers, tc.CipherSuites)
}

func TestCertManager_AlertsBeforeExpiry(t *testing.T) {
	cfg := writeCert(t, time.Now().Add(-time.Hour), time.Now().Add(10*24*time.Hour))
	outbox := &mail.Outbox{}
	cm, err := NewCertManager(cfg, NewMailAlerter(outbox, cfg.AlertEmails), zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 1, cm.CheckCerts(context.Background()))
	msgs := outbox.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "ops@example.com", msgs[0].To)
	assert.Contains(t, msgs[0].Subject, "desk.example.com")
}

func TestCertManager_NoAlertWhenFresh(t *testing.T) {
	cfg := writeCert(t, time.Now().Add(-time.Hour), time.Now().Add(200*24*time.Hour))
	outbox := &mail.Outbox{}
	cm, err := NewCertManager(cfg, NewMailAlerter(outbox, cfg.AlertEmails), zap.NewNop())
	require.NoError(t, err)

	assert.Zero(t, cm.CheckCerts(context.Background()))
	assert.Empty(t, outbox.Messages())
}

func TestCertManager_AlertsWhenNotYetValid(t *testing.T) {
	cfg := writeCert(t, time.Now().Add(24*time.Hour), time.Now().Add(200*24*time.Hour))
	outbox := &mail.Outbox{}
	cm, err := NewCertManager(cfg, NewMailAlerter(outbox, cfg.AlertEmails), zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 1, cm.CheckCerts(context.Background()))
	assert.Len(t, outbox.Messages(), 1)
}

func TestCertManager_MissingFiles(t *testing.T) {
	_, err := NewCertManager(config.TLS{Enabled: true, CertFile: "nope.pem", KeyFile: "nope.key"}, nil, nil)
	assert.Error(t, err)

	_, err = NewCertManager(config.TLS{Enabled: true}, nil, nil)
	assert.Error(t, err)
}

func TestCertManager_StartStop(t *testing.T) {
	cfg := writeCert(t, time.Now().Add(-time.Hour), time.Now().Add(200*24*time.Hour))
	cm, err := NewCertManager(cfg, nil, nil)
	require.NoError(t, err)
	cm.Start()
	require.NoError(t, cm.Stop())
	require.NoError(t, cm.Stop())
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "2d 3h", formatDuration(51*time.Hour))
	assert.Equal(t, "5h", formatDuration(5*time.Hour))
	assert.Equal(t, "less than 1h", formatDuration(10*time.Minute))
	assert.Equal(t, "expired", formatDuration(-time.Minute))
}
