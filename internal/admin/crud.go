package admin

import (
	"context"
	"net/http"
	"strconv"

	"github.com/victorgomez09/garagedesk/internal/apierr"
	"github.com/victorgomez09/garagedesk/internal/audit"
	"github.com/victorgomez09/garagedesk/internal/auth/handlers"
	authmw "github.com/victorgomez09/garagedesk/internal/auth/middleware"
	"github.com/victorgomez09/garagedesk/internal/auth/models"
	"github.com/victorgomez09/garagedesk/internal/garage"
	"github.com/victorgomez09/garagedesk/pkg/trace"
)

// resource wires the five CRUD routes of one entity type onto the store.
type resource[T any] struct {
	name string // singular, as written to the audit log
	path string // collection path

	blank  func() *T // zero value for create, with defaults filled
	list   func(r *http.Request, opts garage.ListOptions) ([]T, error)
	get    func(ctx context.Context, id int64) (*T, error)
	create func(ctx context.Context, v *T) error
	update func(ctx context.Context, v *T) error
	remove func(ctx context.Context, id int64) error

	setID   func(v *T, id int64)
	getID   func(v *T) int64
	label   func(v *T) string
	changes func(before, after *T) string // optional
}

func (res *resource[T]) register(a *AdminAPI) {
	item := res.path + "/{id}"
	a.mux.Handle("GET "+res.path, a.signedIn(res.handleList(a)))
	a.mux.Handle("POST "+res.path, a.signedIn(res.handleCreate(a)))
	a.mux.Handle("GET "+item, a.signedIn(res.handleGet(a)))
	a.mux.Handle("PUT "+item, a.signedIn(res.handleUpdate(a)))
	a.mux.Handle("DELETE "+item, a.admin(res.handleDelete(a)))
}

func (res *resource[T]) handleList(a *AdminAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts, err := listOptions(r)
		if err != nil {
			handlers.WriteError(w, r, a.logger, err)
			return
		}
		items, err := res.list(r, opts)
		if err != nil {
			handlers.WriteError(w, r, a.logger, err)
			return
		}
		if items == nil {
			items = []T{}
		}
		handlers.WriteJSON(w, http.StatusOK, items)
	}
}

func (res *resource[T]) handleGet(a *AdminAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := handlers.PathID(r)
		if err != nil {
			handlers.WriteError(w, r, a.logger, err)
			return
		}
		v, err := res.get(r.Context(), id)
		if err != nil {
			handlers.WriteError(w, r, a.logger, err)
			return
		}
		handlers.WriteJSON(w, http.StatusOK, v)
	}
}

func (res *resource[T]) handleCreate(a *AdminAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v := res.blank()
		if err := handlers.DecodeJSON(w, r, v); err != nil {
			handlers.WriteError(w, r, a.logger, err)
			return
		}
		res.setID(v, 0)
		if err := a.validator.Struct(v); err != nil {
			handlers.WriteError(w, r, a.logger, err)
			return
		}
		if err := res.create(r.Context(), v); err != nil {
			handlers.WriteError(w, r, a.logger, err)
			return
		}

		a.record(r, audit.ActionCreate, res.name, res.getID(v), audit.Created(res.name, res.label(v)))
		handlers.WriteJSON(w, http.StatusCreated, v)
	}
}

func (res *resource[T]) handleUpdate(a *AdminAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := handlers.PathID(r)
		if err != nil {
			handlers.WriteError(w, r, a.logger, err)
			return
		}
		before, err := res.get(r.Context(), id)
		if err != nil {
			handlers.WriteError(w, r, a.logger, err)
			return
		}

		v := res.blank()
		if err := handlers.DecodeJSON(w, r, v); err != nil {
			handlers.WriteError(w, r, a.logger, err)
			return
		}
		res.setID(v, id)
		if err := a.validator.Struct(v); err != nil {
			handlers.WriteError(w, r, a.logger, err)
			return
		}
		if err := res.update(r.Context(), v); err != nil {
			handlers.WriteError(w, r, a.logger, err)
			return
		}

		var changes string
		if res.changes != nil {
			changes = res.changes(before, v)
		}
		a.record(r, audit.ActionUpdate, res.name, id, audit.Updated(res.name, id, changes))
		handlers.WriteJSON(w, http.StatusOK, v)
	}
}

func (res *resource[T]) handleDelete(a *AdminAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := handlers.PathID(r)
		if err != nil {
			handlers.WriteError(w, r, a.logger, err)
			return
		}
		if err := res.remove(r.Context(), id); err != nil {
			handlers.WriteError(w, r, a.logger, err)
			return
		}
		a.record(r, audit.ActionDelete, res.name, id, audit.Deleted(res.name, id))
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *AdminAPI) record(r *http.Request, action, entity string, id int64, details string) {
	a.audit.Record(r.Context(), audit.Event{
		Actor:      authmw.UserFrom(r.Context()),
		Action:     action,
		EntityType: entity,
		EntityID:   strconv.FormatInt(id, 10),
		Details:    details,
		IPAddress:  trace.ClientIP(r),
	})
}

// listOptions reads ?limit= and ?offset=.
func listOptions(r *http.Request) (garage.ListOptions, error) {
	var opts garage.ListOptions
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, apierr.Invalid("limit", "must be a non-negative integer")
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, apierr.Invalid("offset", "must be a non-negative integer")
		}
		opts.Offset = n
	}
	return opts, nil
}

// queryID reads an optional positive id filter such as ?customer_id=.
func queryID(r *http.Request, name string) (int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, apierr.Invalid(name, "must be a positive integer")
	}
	return id, nil
}

// signedIn needs a valid session only; any stored role passes.
func (a *AdminAPI) signedIn(h http.Handler) http.Handler {
	return a.authMiddleware.Authenticate(h)
}

func (a *AdminAPI) admin(h http.Handler) http.Handler {
	return a.authMiddleware.Protect(models.RoleAdmin, h)
}
