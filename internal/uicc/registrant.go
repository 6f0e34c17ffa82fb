package uicc

import (
	"sync"

	"github.com/google/uuid"
)

// Registry is a typed registrant list. Callbacks are invoked synchronously
// from Notify, in no particular order. A sticky registry remembers the last
// notified value and replays it immediately to anyone registering afterwards,
// so late registrants never miss a past event and never see it twice.
//
// Callbacks registered by the card tree itself run while the tree lock is
// held and must not take it again.
type Registry[T any] struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]func(T)
	sticky bool
	fired  bool
	last   T
}

// NewRegistry creates a registry without replay semantics.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{subs: make(map[uuid.UUID]func(T))}
}

// NewStickyRegistry creates a registry that replays the last notification to
// late registrants.
func NewStickyRegistry[T any]() *Registry[T] {
	return &Registry[T]{subs: make(map[uuid.UUID]func(T)), sticky: true}
}

// Register adds a callback and returns a handle for Unregister. If the
// registry is sticky and has already fired, fn is invoked synchronously
// before Register returns.
func (r *Registry[T]) Register(fn func(T)) uuid.UUID {
	r.mu.Lock()
	id := uuid.New()
	r.subs[id] = fn
	replay := r.sticky && r.fired
	last := r.last
	r.mu.Unlock()

	if replay {
		fn(last)
	}
	return id
}

// Unregister removes a previously registered callback.
func (r *Registry[T]) Unregister(id uuid.UUID) {
	r.mu.Lock()
	delete(r.subs, id)
	r.mu.Unlock()
}

// Notify invokes every registered callback with v.
func (r *Registry[T]) Notify(v T) {
	r.mu.Lock()
	if r.sticky {
		r.fired = true
		r.last = v
	}
	fns := make([]func(T), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Reset clears the replay state of a sticky registry. Registrants stay
// registered.
func (r *Registry[T]) Reset() {
	r.mu.Lock()
	r.fired = false
	var zero T
	r.last = zero
	r.mu.Unlock()
}

// Clear drops all registrants and the replay state.
func (r *Registry[T]) Clear() {
	r.mu.Lock()
	r.subs = make(map[uuid.UUID]func(T))
	r.fired = false
	var zero T
	r.last = zero
	r.mu.Unlock()
}
