package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/victorgomez09/garagedesk/internal/apierr"
	"github.com/victorgomez09/garagedesk/internal/auth/handlers"
	"github.com/victorgomez09/garagedesk/internal/auth/models"
)

const healthTimeout = 2 * time.Second

func (a *AdminAPI) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := a.store.Dashboard(r.Context())
	if err != nil {
		handlers.WriteError(w, r, a.logger, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, d)
}

// handleAudit lists audit records, newest first. Filters: user_id, action,
// entity_type, limit.
func (a *AdminAPI) handleAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := models.AuditFilter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
	}
	if v := q.Get("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			handlers.WriteError(w, r, a.logger, apierr.Invalid("user_id", "must be a positive integer"))
			return
		}
		f.UserID = &id
	}
	opts, err := listOptions(r)
	if err != nil {
		handlers.WriteError(w, r, a.logger, err)
		return
	}
	f.Limit = opts.Limit

	logs, err := a.audit.List(r.Context(), f)
	if err != nil {
		handlers.WriteError(w, r, a.logger, err)
		return
	}
	if logs == nil {
		logs = []models.AuditLog{}
	}
	handlers.WriteJSON(w, http.StatusOK, logs)
}

func (a *AdminAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := a.store.Ping(ctx); err != nil {
		a.logger.Warn("health check failed", zap.Error(err))
		handlers.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	handlers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
