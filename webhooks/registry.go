package webhooks

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/tulua/wacloud/events"
)

var (
	// StopHandling is returned by a handler to stop the chain for this
	// update regardless of the continue-handling setting.
	StopHandling = errors.New("stop handling")

	// ContinueHandling is returned by a handler to pass the update to the
	// next handler regardless of the continue-handling setting.
	ContinueHandling = errors.New("continue handling")
)

// HandlerFunc handles one typed update. Its return value steers the chain:
// StopHandling and ContinueHandling override the registry's default, nil
// applies it, and any other error stops the chain and is logged.
type HandlerFunc func(ctx context.Context, update events.Update) error

// RawHandlerFunc receives every raw notification body, after the typed
// handlers have run.
type RawHandlerFunc func(ctx context.Context, body []byte)

// FilterFunc guards a registration. The handler only runs when every one of
// its filters accepts the update.
type FilterFunc func(events.Update) bool

type registration struct {
	kind    events.Kind
	fn      HandlerFunc
	filters []FilterFunc
}

// Registry holds handler registrations and dispatches updates through them in
// registration order.
type Registry struct {
	log *slog.Logger

	mu              sync.RWMutex
	handlers        []*registration
	rawHandlers     []RawHandlerFunc
	continueDefault bool
}

func NewRegistry(continueDefault bool, log *slog.Logger) *Registry {
	return &Registry{log: log.With("comp", "webhooks"), continueDefault: continueDefault}
}

// On registers a handler for updates of the given kind, guarded by the given
// filters.
func (r *Registry) On(kind events.Kind, fn HandlerFunc, filters ...FilterFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, &registration{kind: kind, fn: fn, filters: filters})
}

// OnRaw registers a handler for raw notification bodies.
func (r *Registry) OnRaw(fn RawHandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rawHandlers = append(r.rawHandlers, fn)
}

// Dispatch runs an update through the matching handlers in registration
// order.
func (r *Registry) Dispatch(ctx context.Context, update events.Update) {
	r.mu.RLock()
	handlers := make([]*registration, len(r.handlers))
	copy(handlers, r.handlers)
	r.mu.RUnlock()

	kind := update.UpdateKind()

	for _, reg := range handlers {
		if reg.kind != kind || !r.accepted(reg, update) {
			continue
		}

		err := r.invoke(ctx, reg, update)
		switch {
		case err == nil:
			if !r.continueDefault {
				return
			}
		case errors.Is(err, ContinueHandling):
			// keep going
		case errors.Is(err, StopHandling):
			return
		default:
			r.log.Error("error handling update", "kind", kind, "error", err)
			return
		}
	}
}

// DispatchRaw runs the raw notification body through every raw handler.
func (r *Registry) DispatchRaw(ctx context.Context, body []byte) {
	r.mu.RLock()
	rawHandlers := make([]RawHandlerFunc, len(r.rawHandlers))
	copy(rawHandlers, r.rawHandlers)
	r.mu.RUnlock()

	for _, fn := range rawHandlers {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.log.Error("panic in raw handler", "panic", p)
				}
			}()
			fn(ctx, body)
		}()
	}
}

// accepted evaluates a registration's filters, treating a panic as rejection.
func (r *Registry) accepted(reg *registration, update events.Update) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic in handler filter", "kind", reg.kind, "panic", p)
			ok = false
		}
	}()

	for _, filter := range reg.filters {
		if !filter(update) {
			return false
		}
	}
	return true
}

// invoke runs a handler, converting a panic into an error so one handler
// can't take down the dispatch goroutine.
func (r *Registry) invoke(ctx context.Context, reg *registration, update events.Update) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic in handler", "kind", reg.kind, "panic", p)
			err = StopHandling
		}
	}()
	return reg.fn(ctx, update)
}
