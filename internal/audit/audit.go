// Package audit records who did what. Recording never fails the operation
// being audited: store errors are logged and counted.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/victorgomez09/garagedesk/internal/auth/models"
	"github.com/victorgomez09/garagedesk/internal/metrics"
	"github.com/victorgomez09/garagedesk/pkg/trace"
)

// Actions.
const (
	ActionLogin                = "login"
	ActionLoginFailed          = "login_failed"
	ActionLogout               = "logout"
	ActionLogoutAll            = "logout_all"
	ActionPasswordChange       = "password_change"
	ActionPasswordResetRequest = "password_reset_request"
	ActionPasswordReset        = "password_reset"
	ActionUserCreate           = "user_create"
	ActionUserUpdate           = "user_update"
	ActionCreate               = "create"
	ActionUpdate               = "update"
	ActionDelete               = "delete"
)

// Reasons carried in the details of login_failed records.
const (
	ReasonUnknownUser = "unknown_user"
	ReasonBadPassword = "bad_password"
	ReasonLocked      = "locked"
	ReasonInactive    = "inactive"
	ReasonRateLimited = "rate_limited"
)

type Store interface {
	InsertAuditLog(ctx context.Context, e *models.AuditLog) error
	ListAuditLogs(ctx context.Context, f models.AuditFilter) ([]models.AuditLog, error)
}

// Publisher receives every stored record, e.g. the live activity feed.
type Publisher interface {
	Publish(models.AuditLog)
}

// Event is what callers know about an action. Actor may be nil for
// anonymous events such as a failed login; Username then names the
// identifier that was tried.
type Event struct {
	Actor      *models.User
	Username   string
	Action     string
	EntityType string
	EntityID   string
	Details    string
	IPAddress  string
}

type Recorder struct {
	store     Store
	logger    *zap.Logger
	metrics   *metrics.Metrics
	publisher Publisher
	now       func() time.Time
}

type Option func(*Recorder)

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

func WithPublisher(p Publisher) Option {
	return func(r *Recorder) { r.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

func New(store Store, logger *zap.Logger, opts ...Option) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{store: store, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record stores e.
func (r *Recorder) Record(ctx context.Context, e Event) {
	rec := models.AuditLog{
		ID:         uuid.NewString(),
		Username:   e.Username,
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Details:    e.Details,
		IPAddress:  e.IPAddress,
		RequestID:  trace.GetRequestID(ctx),
		Timestamp:  r.now().UTC(),
	}
	if e.Actor != nil {
		id := e.Actor.ID
		rec.UserID = &id
		rec.Username = e.Actor.Username
	}

	fields := []zap.Field{
		zap.String("audit_id", rec.ID),
		zap.String("action", rec.Action),
		zap.String("username", rec.Username),
		zap.String("entity_type", rec.EntityType),
		zap.String("entity_id", rec.EntityID),
		zap.String("details", rec.Details),
		zap.String("ip", rec.IPAddress),
		zap.String("request_id", rec.RequestID),
	}

	// an aborted request must not lose its audit trail
	if err := r.store.InsertAuditLog(context.WithoutCancel(ctx), &rec); err != nil {
		r.metrics.AuditFailure()
		r.logger.Error("failed to store audit record", append(fields, zap.Error(err))...)
		return
	}
	r.logger.Info("audit", fields...)

	if r.publisher != nil {
		r.publisher.Publish(rec)
	}
}

func (r *Recorder) List(ctx context.Context, f models.AuditFilter) ([]models.AuditLog, error) {
	return r.store.ListAuditLogs(ctx, f)
}

// Created formats the details of a create record: "Created customer: Jane Doe".
func Created(entity, label string) string {
	return fmt.Sprintf("Created %s: %s", entity, label)
}

// Updated formats "Updated service #4: status=completed". changes may be empty.
func Updated(entity string, id int64, changes string) string {
	if changes == "" {
		return fmt.Sprintf("Updated %s #%d", entity, id)
	}
	return fmt.Sprintf("Updated %s #%d: %s", entity, id, changes)
}

// Deleted formats "Deleted vehicle #3".
func Deleted(entity string, id int64) string {
	return fmt.Sprintf("Deleted %s #%d", entity, id)
}
