package listeners

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/tulua/wacloud/events"
)

var (
	// ErrTimeout is returned by Listen when the context deadline passes
	// before a matching update arrives.
	ErrTimeout = errors.New("listener timed out")

	// ErrStopped is returned by Listen when the registry is shut down while
	// the listener is still waiting.
	ErrStopped = errors.New("listener registry stopped")
)

// CanceledError is returned by Listen when an update matched the listener's
// canceler. It carries the update so the caller can see what aborted the wait.
type CanceledError struct {
	Update events.Update
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("listener canceled by %s update", e.Update.UpdateKind())
}

// Identifier scopes a listener to the updates it can receive. Updates resolve
// against listeners sharing the same key.
type Identifier interface {
	Key() string
}

// UserUpdate scopes a listener to a conversation: updates from one user on
// one business number.
type UserUpdate struct {
	Sender    string // user wa_id
	Recipient string // business phone number ID
}

func (u UserUpdate) Key() string { return "user/" + u.Sender + "/" + u.Recipient }

// TemplateStatus scopes a listener to lifecycle updates of one template.
type TemplateStatus struct {
	TemplateID int64
}

func (t TemplateStatus) Key() string { return "template/" + strconv.FormatInt(t.TemplateID, 10) }

// IdentifierFor derives the identifier an update resolves against, or false
// for updates that carry no user or template scope.
func IdentifierFor(update events.Update) (Identifier, bool) {
	switch u := update.(type) {
	case events.UserScoped:
		return UserUpdate{Sender: u.UserWaID(), Recipient: u.BusinessPhoneID()}, true
	case events.TemplateScoped:
		return TemplateStatus{TemplateID: u.TemplateID()}, true
	default:
		return nil, false
	}
}

// Filter reports whether an update is the one a listener is waiting for.
type Filter func(events.Update) bool

type outcome struct {
	update events.Update
	err    error
}

type waiter struct {
	filter   Filter
	canceler Filter
	ch       chan outcome
	done     bool
}

// Registry coordinates one-shot rendezvous between webhook updates and
// callers blocked in Listen. Listeners sharing an identifier resolve in
// registration order.
type Registry struct {
	log *slog.Logger

	mu      sync.Mutex
	waiting map[string][]*waiter
	stopped bool
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:     log.With("comp", "listeners"),
		waiting: make(map[string][]*waiter),
	}
}

// Listen blocks until an update scoped to id matches filter, the canceler
// matches, the context expires, or the registry stops. A nil filter matches
// any update with the identifier. The matched update is returned exactly once
// to exactly one listener.
func (r *Registry) Listen(ctx context.Context, id Identifier, filter, canceler Filter) (events.Update, error) {
	w := &waiter{filter: filter, canceler: canceler, ch: make(chan outcome, 1)}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil, ErrStopped
	}
	key := id.Key()
	r.waiting[key] = append(r.waiting[key], w)
	r.mu.Unlock()

	select {
	case out := <-w.ch:
		return out.update, out.err
	case <-ctx.Done():
		// the update may have won the race, in which case the outcome is
		// already buffered and must not be dropped
		if !r.complete(key, w, outcome{}) {
			out := <-w.ch
			return out.update, out.err
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// Resolve offers an update to the listeners registered under its identifier
// and reports whether one consumed it. Filters and cancelers run without the
// registry lock held, so they are free to call back into the registry.
func (r *Registry) Resolve(update events.Update) bool {
	id, ok := IdentifierFor(update)
	if !ok {
		return false
	}
	key := id.Key()

	r.mu.Lock()
	candidates := make([]*waiter, len(r.waiting[key]))
	copy(candidates, r.waiting[key])
	r.mu.Unlock()

	for _, w := range candidates {
		if w.canceler != nil && r.matches(w.canceler, update) {
			// a canceled listener is terminated but the update stays
			// available to listeners behind it
			r.complete(key, w, outcome{err: &CanceledError{Update: update}})
			continue
		}
		if w.filter == nil || r.matches(w.filter, update) {
			if r.complete(key, w, outcome{update: update}) {
				return true
			}
		}
	}
	return false
}

// matches runs a filter, treating a panic as a non-match.
func (r *Registry) matches(f Filter, update events.Update) (matched bool) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic in listener filter", "panic", p, "kind", update.UpdateKind())
			matched = false
		}
	}()
	return f(update)
}

// complete terminates a waiter with the given outcome, removing it from the
// registry. It returns false if the waiter was already completed.
func (r *Registry) complete(key string, w *waiter, out outcome) bool {
	r.mu.Lock()
	if w.done {
		r.mu.Unlock()
		return false
	}
	w.done = true

	waiters := r.waiting[key]
	for i, other := range waiters {
		if other == w {
			r.waiting[key] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(r.waiting[key]) == 0 {
		delete(r.waiting, key)
	}
	r.mu.Unlock()

	w.ch <- out
	return true
}

// Stop terminates every waiting listener with ErrStopped and rejects new
// ones. Safe to call more than once.
func (r *Registry) Stop() {
	r.mu.Lock()
	r.stopped = true
	var all []*waiter
	for _, waiters := range r.waiting {
		for _, w := range waiters {
			if !w.done {
				w.done = true
				all = append(all, w)
			}
		}
	}
	r.waiting = make(map[string][]*waiter)
	r.mu.Unlock()

	for _, w := range all {
		w.ch <- outcome{err: ErrStopped}
	}
}

// Waiting returns the number of listeners currently blocked, for tests and
// introspection.
func (r *Registry) Waiting() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, waiters := range r.waiting {
		n += len(waiters)
	}
	return n
}
