package replica

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

var ErrIndexOutOfRange = errors.New("list index out of range")

type Op string

const (
	OpAppend Op = "append"
	OpRemove Op = "remove"
	OpSet    Op = "set"
	OpReset  Op = "reset"
)

// ListEvent describes one list mutation. Items is only set for OpReset.
type ListEvent[T any] struct {
	Op       Op
	Index    int
	Value    T
	Previous T
	Items    []T
}

// ListView is the read-only side of a replicated list.
type ListView[T any] interface {
	Len() int
	At(i int) (T, error)
	Items() []T
	Subscribe(fn func(ListEvent[T])) (unsubscribe func())
}

// List is the authoritative holder of a replicated ordered collection. Like
// Value it is owned by a single goroutine.
type List[T any] struct {
	items     []T
	listeners listeners[func(ListEvent[T])]
}

func NewList[T any]() *List[T] { return &List[T]{} }

func (l *List[T]) Len() int { return len(l.items) }

func (l *List[T]) At(i int) (T, error) {
	var zero T
	if i < 0 || i >= len(l.items) {
		return zero, fmt.Errorf("at %d of %d: %w", i, len(l.items), ErrIndexOutOfRange)
	}
	return l.items[i], nil
}

func (l *List[T]) Items() []T { return slices.Clone(l.items) }

func (l *List[T]) IndexFunc(f func(T) bool) int { return slices.IndexFunc(l.items, f) }

func (l *List[T]) Append(x T) {
	l.items = append(l.items, x)
	l.notify(ListEvent[T]{Op: OpAppend, Index: len(l.items) - 1, Value: x})
}

func (l *List[T]) RemoveAt(i int) error {
	if i < 0 || i >= len(l.items) {
		return fmt.Errorf("remove %d of %d: %w", i, len(l.items), ErrIndexOutOfRange)
	}
	prev := l.items[i]
	l.items = slices.Delete(l.items, i, i+1)
	l.notify(ListEvent[T]{Op: OpRemove, Index: i, Previous: prev})
	return nil
}

func (l *List[T]) Set(i int, x T) error {
	if i < 0 || i >= len(l.items) {
		return fmt.Errorf("set %d of %d: %w", i, len(l.items), ErrIndexOutOfRange)
	}
	prev := l.items[i]
	l.items[i] = x
	l.notify(ListEvent[T]{Op: OpSet, Index: i, Value: x, Previous: prev})
	return nil
}

// Reset replaces the whole list with a single notification.
func (l *List[T]) Reset(items []T) {
	l.items = slices.Clone(items)
	l.notify(ListEvent[T]{Op: OpReset, Items: slices.Clone(items)})
}

func (l *List[T]) Subscribe(fn func(ListEvent[T])) func() {
	return l.listeners.add(fn)
}

func (l *List[T]) View() ListView[T] { return l }

func (l *List[T]) notify(ev ListEvent[T]) {
	for _, fn := range l.listeners.snapshot() {
		fn(ev)
	}
}

// ListMirror is the non-authoritative copy of a List, rebuilt from received
// events. Safe for concurrent use.
type ListMirror[T any] struct {
	mu        sync.RWMutex
	items     []T
	listeners listeners[func(ListEvent[T])]
}

func NewListMirror[T any]() *ListMirror[T] { return &ListMirror[T]{} }

// Receive applies one event from the authoritative holder. An event that does
// not fit the local copy means an update was missed; the caller should
// request a fresh snapshot and Reset.
func (m *ListMirror[T]) Receive(ev ListEvent[T]) error {
	m.mu.Lock()
	switch ev.Op {
	case OpAppend:
		if ev.Index != len(m.items) {
			m.mu.Unlock()
			return fmt.Errorf("append at %d of %d: %w", ev.Index, len(m.items), ErrIndexOutOfRange)
		}
		m.items = append(m.items, ev.Value)
	case OpRemove:
		if ev.Index < 0 || ev.Index >= len(m.items) {
			m.mu.Unlock()
			return fmt.Errorf("remove %d of %d: %w", ev.Index, len(m.items), ErrIndexOutOfRange)
		}
		m.items = slices.Delete(m.items, ev.Index, ev.Index+1)
	case OpSet:
		if ev.Index < 0 || ev.Index >= len(m.items) {
			m.mu.Unlock()
			return fmt.Errorf("set %d of %d: %w", ev.Index, len(m.items), ErrIndexOutOfRange)
		}
		m.items[ev.Index] = ev.Value
	case OpReset:
		m.items = slices.Clone(ev.Items)
	default:
		m.mu.Unlock()
		return fmt.Errorf("unknown list op %q", ev.Op)
	}
	fns := m.listeners.snapshot()
	m.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
	return nil
}

func (m *ListMirror[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

func (m *ListMirror[T]) At(i int) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var zero T
	if i < 0 || i >= len(m.items) {
		return zero, fmt.Errorf("at %d of %d: %w", i, len(m.items), ErrIndexOutOfRange)
	}
	return m.items[i], nil
}

func (m *ListMirror[T]) Items() []T {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.items)
}

func (m *ListMirror[T]) Subscribe(fn func(ListEvent[T])) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	remove := m.listeners.add(fn)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		remove()
	}
}
