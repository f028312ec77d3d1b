// Package session issues and validates opaque bearer tokens backed by the
// relational store. Only a SHA-256 of each token is persisted.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/victorgomez09/garagedesk/internal/apierr"
	"github.com/victorgomez09/garagedesk/internal/auth/models"
	"github.com/victorgomez09/garagedesk/internal/metrics"
)

const (
	tokenBytes  = 32
	tokenLength = 43 // base64 raw url length of tokenBytes

	DefaultTTL               = 24 * time.Hour
	DefaultInactivityTimeout = 30 * time.Minute
)

// Store is the persistence the manager needs.
type Store interface {
	CreateSession(ctx context.Context, s *models.Session) error
	GetSessionWithUser(ctx context.Context, tokenHash string) (*models.Session, *models.User, error)
	TouchSession(ctx context.Context, id int64, at time.Time) error
	DeleteSession(ctx context.Context, tokenHash string) (bool, error)
	DeleteUserSessions(ctx context.Context, userID int64) (int64, error)
	DeleteStaleSessions(ctx context.Context, now, idleBefore time.Time) (int64, error)
	ListUserSessions(ctx context.Context, userID int64, now, idleBefore time.Time) ([]models.Session, error)
}

type Config struct {
	TTL               time.Duration // absolute lifetime from issue
	InactivityTimeout time.Duration // rolling idle limit, 0 disables
	CleanupInterval   time.Duration // background sweep period, 0 disables
}

// Meta describes the client a session was issued to.
type Meta struct {
	IPAddress string
	UserAgent string
}

type Manager struct {
	store   Store
	cfg     Config
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func NewManager(store Store, cfg Config, opts ...Option) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.InactivityTimeout < 0 {
		cfg.InactivityTimeout = 0
	}
	m := &Manager{
		store:  store,
		cfg:    cfg,
		now:    time.Now,
		logger: zap.NewNop(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HashToken returns the stored form of a bearer token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func wellFormed(token string) bool {
	if len(token) != tokenLength {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(token)
	return err == nil
}

// Create issues a token for userID. The token itself is only ever returned here.
func (m *Manager) Create(ctx context.Context, userID int64, meta Meta) (string, *models.Session, error) {
	token, err := generateToken()
	if err != nil {
		return "", nil, fmt.Errorf("generating session token: %w", err)
	}

	now := m.now().UTC()
	s := &models.Session{
		UserID:         userID,
		TokenHash:      HashToken(token),
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.cfg.TTL),
		LastActivityAt: now,
		IPAddress:      meta.IPAddress,
		UserAgent:      meta.UserAgent,
	}
	if err := m.store.CreateSession(ctx, s); err != nil {
		return "", nil, fmt.Errorf("creating session: %w", err)
	}
	return token, s, nil
}

// Validate resolves token to its live user and records the activity.
// Expired or idle sessions are deleted and reported as unauthenticated.
func (m *Manager) Validate(ctx context.Context, token string) (*models.User, *models.Session, error) {
	if !wellFormed(token) {
		return nil, nil, apierr.ErrUnauthenticated
	}
	hash := HashToken(token)

	s, u, err := m.store.GetSessionWithUser(ctx, hash)
	if errors.Is(err, apierr.ErrNotFound) {
		return nil, nil, apierr.ErrUnauthenticated
	}
	if err != nil {
		return nil, nil, err
	}

	now := m.now().UTC()
	if now.After(s.ExpiresAt) {
		m.drop(ctx, hash, "expired")
		return nil, nil, apierr.ErrUnauthenticated
	}
	if m.cfg.InactivityTimeout > 0 && now.Sub(s.LastActivityAt) > m.cfg.InactivityTimeout {
		m.drop(ctx, hash, "inactive")
		return nil, nil, apierr.ErrUnauthenticated
	}
	if !u.Active {
		return nil, nil, apierr.ErrUnauthenticated
	}

	if err := m.store.TouchSession(ctx, s.ID, now); err != nil {
		if errors.Is(err, apierr.ErrNotFound) {
			return nil, nil, apierr.ErrUnauthenticated
		}
		return nil, nil, err
	}
	s.LastActivityAt = now
	return u, s, nil
}

func (m *Manager) drop(ctx context.Context, hash, reason string) {
	if _, err := m.store.DeleteSession(ctx, hash); err != nil {
		m.logger.Warn("failed to delete stale session", zap.String("reason", reason), zap.Error(err))
	}
}

// Revoke deletes the session for token. Unknown tokens are ignored.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	if !wellFormed(token) {
		return nil
	}
	if _, err := m.store.DeleteSession(ctx, HashToken(token)); err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}
	return nil
}

// RevokeAll deletes every session of userID and returns how many there were.
func (m *Manager) RevokeAll(ctx context.Context, userID int64) (int64, error) {
	n, err := m.store.DeleteUserSessions(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("revoking sessions: %w", err)
	}
	return n, nil
}

// ListForUser returns the user's live sessions, most recently active first.
func (m *Manager) ListForUser(ctx context.Context, userID int64) ([]models.Session, error) {
	now := m.now().UTC()
	return m.store.ListUserSessions(ctx, userID, now, m.idleBefore(now))
}

// Cleanup deletes sessions that are expired or idle. Validation already
// rejects them, so this only reclaims space.
func (m *Manager) Cleanup(ctx context.Context) (int64, error) {
	now := m.now().UTC()
	n, err := m.store.DeleteStaleSessions(ctx, now, m.idleBefore(now))
	if err != nil {
		return 0, err
	}
	m.metrics.SessionsCleaned(n)
	return n, nil
}

func (m *Manager) idleBefore(now time.Time) time.Time {
	if m.cfg.InactivityTimeout <= 0 {
		// far enough back that nothing counts as idle
		return now.Add(-m.cfg.TTL)
	}
	return now.Add(-m.cfg.InactivityTimeout)
}

// Start runs Cleanup every CleanupInterval until Close.
func (m *Manager) Start() {
	if m.cfg.CleanupInterval <= 0 {
		return
	}
	m.wg.Add(1)
	go m.cleanupRoutine()
}

func (m *Manager) cleanupRoutine() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			n, err := m.Cleanup(ctx)
			cancel()
			if err != nil {
				m.logger.Error("session cleanup failed", zap.Error(err))
				continue
			}
			if n > 0 {
				m.logger.Debug("removed stale sessions", zap.Int64("count", n))
			}
		case <-m.done:
			return
		}
	}
}

// Close stops the cleanup routine. Safe to call more than once.
func (m *Manager) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	m.wg.Wait()
	return nil
}
