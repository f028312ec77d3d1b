package handlers

import (
	"net/http"

	"github.com/victorgomez09/garagedesk/internal/apierr"
	"github.com/victorgomez09/garagedesk/internal/auth/models"
	"github.com/victorgomez09/garagedesk/internal/auth/service"
	"github.com/victorgomez09/garagedesk/pkg/trace"
)

// User management. Every handler here sits behind RequireRole(admin).

type SetRoleRequest struct {
	Role models.Role `json:"role"`
}

type SetActiveRequest struct {
	Active *bool `json:"active"`
}

func (h *AuthHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.authService.ListUsers(r.Context())
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	if users == nil {
		users = []models.User{}
	}
	WriteJSON(w, http.StatusOK, users)
}

func (h *AuthHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := h.current(r)
	var req service.NewUser
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	user, err := h.authService.CreateUser(r.Context(), actor, req, trace.ClientIP(r))
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, user)
}

func (h *AuthHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	user, err := h.authService.GetUserById(r.Context(), id)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, user)
}

func (h *AuthHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	actor, _ := h.current(r)
	id, err := PathID(r)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	var req SetRoleRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	if err := h.authService.SetRole(r.Context(), actor, id, req.Role, trace.ClientIP(r)); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	h.writeUser(w, r, id)
}

func (h *AuthHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	actor, _ := h.current(r)
	id, err := PathID(r)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	var req SetActiveRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	if req.Active == nil {
		WriteError(w, r, h.logger, apierr.Invalid("active", "is required"))
		return
	}
	if err := h.authService.SetActive(r.Context(), actor, id, *req.Active, trace.ClientIP(r)); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	h.writeUser(w, r, id)
}

func (h *AuthHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	actor, _ := h.current(r)
	id, err := PathID(r)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	if err := h.authService.Unlock(r.Context(), actor, id, trace.ClientIP(r)); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	h.writeUser(w, r, id)
}

func (h *AuthHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := h.current(r)
	id, err := PathID(r)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	if err := h.authService.DeleteUser(r.Context(), actor, id, trace.ClientIP(r)); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) writeUser(w http.ResponseWriter, r *http.Request, id int64) {
	user, err := h.authService.GetUserById(r.Context(), id)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, user)
}
