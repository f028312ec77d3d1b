// Package shutdown runs named cleanup handlers when the process stops.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

type handler struct {
	name string
	fn   func(context.Context) error
}

// Manager runs registered handlers in reverse registration order, so a
// component registered after its dependencies is stopped before them.
type Manager struct {
	mu       sync.Mutex
	handlers []handler
	logger   *zap.Logger
	done     bool
}

func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{logger: logger}
}

// RegisterShutdown adds fn under name.
func (sh *Manager) RegisterShutdown(name string, fn func(context.Context) error) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.handlers = append(sh.handlers, handler{name: name, fn: fn})
}

// RegisterCloser adds a handler that ignores the context.
func (sh *Manager) RegisterCloser(name string, fn func() error) {
	sh.RegisterShutdown(name, func(context.Context) error { return fn() })
}

// Shutdown runs every handler once. It keeps going after a failure and
// returns all errors joined. Later calls do nothing.
func (sh *Manager) Shutdown(ctx context.Context) error {
	sh.mu.Lock()
	if sh.done {
		sh.mu.Unlock()
		return nil
	}
	sh.done = true
	handlers := sh.handlers
	sh.mu.Unlock()

	var errs []error
	for i := len(handlers) - 1; i >= 0; i-- {
		h := handlers[i]
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("%s shutdown: %w", h.name, err))
			continue
		}
		if err := h.fn(ctx); err != nil {
			sh.logger.Error("Error during shutdown", zap.String("component", h.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s shutdown: %w", h.name, err))
			continue
		}
		sh.logger.Debug("Component stopped", zap.String("component", h.name))
	}
	return errors.Join(errs...)
}
