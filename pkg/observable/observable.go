// Package observable provides a minimal push-value primitive: a value cell
// that notifies registered listeners on every update. It replaces the
// subject/subscription machinery the executor needs for live risk parameters.
package observable

import (
	"sync"
)

// Value is a generic observable value with thread-safe operations.
// Listeners are invoked synchronously on the goroutine calling Set, in
// registration order. Callers that need serialized state mutation must
// therefore only call Set from their own event loop.
type Value[T any] struct {
	mu        sync.Mutex
	current   T
	nextID    uint64
	listeners map[uint64]func(T)
}

// New creates a Value holding the given initial value.
func New[T any](initial T) *Value[T] {
	return &Value[T]{
		current:   initial,
		listeners: make(map[uint64]func(T)),
	}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Set stores a new value and notifies all subscribers with it.
func (v *Value[T]) Set(val T) {
	v.mu.Lock()
	v.current = val
	listeners := make([]func(T), 0, len(v.listeners))
	for _, fn := range v.listeners {
		listeners = append(listeners, fn)
	}
	v.mu.Unlock()

	for _, fn := range listeners {
		fn(val)
	}
}

// Subscribe registers a listener invoked on every subsequent Set.
// The returned Subscription must be released with Unsubscribe when the
// subscriber reaches a terminal state; Unsubscribe is idempotent.
func (v *Value[T]) Subscribe(fn func(T)) *Subscription {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := v.nextID
	v.nextID++
	v.listeners[id] = fn
	return &Subscription{cancel: func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.listeners, id)
	}}
}

// Len returns the number of live subscriptions.
func (v *Value[T]) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.listeners)
}

// Subscription represents a single registered listener.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe removes the listener. Calling it more than once is safe.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}
