// Package replica holds the shared-state primitives a host replicates to every
// participant: single values and ordered lists. The authoritative holder
// mutates them and listeners are called synchronously, in mutation order, on
// the mutating goroutine. Everyone else gets a read-only view.
package replica

import (
	"slices"
	"sync"
)

// ValueView is the read-only side of a replicated value.
type ValueView[T comparable] interface {
	Get() T
	Subscribe(fn func(old, new T)) (unsubscribe func())
}

// Value is the authoritative holder of a replicated scalar. It is not safe for
// concurrent use; the owner serializes access.
type Value[T comparable] struct {
	v         T
	listeners listeners[func(old, new T)]
}

func NewValue[T comparable](initial T) *Value[T] {
	return &Value[T]{v: initial}
}

func (v *Value[T]) Get() T { return v.v }

// Set stores x and notifies listeners. Setting the current value is a no-op
// and reports false.
func (v *Value[T]) Set(x T) bool {
	if v.v == x {
		return false
	}
	old := v.v
	v.v = x
	for _, fn := range v.listeners.snapshot() {
		fn(old, x)
	}
	return true
}

func (v *Value[T]) Subscribe(fn func(old, new T)) func() {
	return v.listeners.add(fn)
}

// View hides the setter.
func (v *Value[T]) View() ValueView[T] { return v }

// ValueMirror is a non-authoritative copy fed by received updates. Unlike
// Value it is safe for concurrent use: updates arrive on a network goroutine
// while the application reads from its own.
type ValueMirror[T comparable] struct {
	mu        sync.RWMutex
	v         T
	listeners listeners[func(old, new T)]
}

func NewValueMirror[T comparable](initial T) *ValueMirror[T] {
	return &ValueMirror[T]{v: initial}
}

// Receive applies an update that arrived from the authoritative holder.
func (m *ValueMirror[T]) Receive(x T) {
	m.mu.Lock()
	if m.v == x {
		m.mu.Unlock()
		return
	}
	old := m.v
	m.v = x
	fns := m.listeners.snapshot()
	m.mu.Unlock()

	for _, fn := range fns {
		fn(old, x)
	}
}

func (m *ValueMirror[T]) Get() T {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.v
}

func (m *ValueMirror[T]) Subscribe(fn func(old, new T)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	remove := m.listeners.add(fn)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		remove()
	}
}

type listeners[F any] struct {
	next int
	fns  []keyed[F]
}

type keyed[F any] struct {
	key int
	fn  F
}

func (l *listeners[F]) add(fn F) func() {
	key := l.next
	l.next++
	l.fns = append(l.fns, keyed[F]{key: key, fn: fn})
	return func() {
		l.fns = slices.DeleteFunc(l.fns, func(k keyed[F]) bool { return k.key == key })
	}
}

// snapshot lets a listener unsubscribe itself mid-notification.
func (l *listeners[F]) snapshot() []F {
	out := make([]F, len(l.fns))
	for i, k := range l.fns {
		out[i] = k.fn
	}
	return out
}
