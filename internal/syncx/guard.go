// Package syncx provides small synchronization primitives.
package syncx

import "sync"

// RWGuard is a value guarded by an RWMutex.
type RWGuard[T any] struct {
	mu    sync.RWMutex
	value T
}

// NewGuard creates a guarded value.
func NewGuard[T any](initial T) *RWGuard[T] {
	return &RWGuard[T]{value: initial}
}

// Get returns a copy of the value.
func (g *RWGuard[T]) Get() T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value
}

// Write runs fn with the write lock held.
func (g *RWGuard[T]) Write(fn func(*T)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(&g.value)
}

// TryUpdate runs fn with the write lock held and returns its error. The
// value is left as fn left it either way.
func (g *RWGuard[T]) TryUpdate(fn func(*T) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(&g.value)
}

// Slot holds at most one occupant at a time, such as the active capture
// session.
type Slot[T comparable] struct {
	g RWGuard[T]
}

// Claim makes v the occupant. If the slot is taken it returns busy(current)
// and leaves the occupant alone.
func (s *Slot[T]) Claim(v T, busy func(current T) error) error {
	return s.g.TryUpdate(func(cur *T) error {
		var zero T
		if *cur != zero {
			return busy(*cur)
		}
		*cur = v
		return nil
	})
}

// Release empties the slot if v still occupies it.
func (s *Slot[T]) Release(v T) bool {
	released := false
	s.g.Write(func(cur *T) {
		if *cur == v {
			var zero T
			*cur, released = zero, true
		}
	})
	return released
}

// Current returns the occupant and whether there is one.
func (s *Slot[T]) Current() (T, bool) {
	v := s.g.Get()
	var zero T
	return v, v != zero
}
