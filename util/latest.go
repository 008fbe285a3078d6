package util

import (
	"sync"
)

// Latest holds the most recently published value of T and a pending
// flag that coalesces any number of publishes into one wake-up.
type Latest[T any] struct {
	mu     sync.Mutex
	value  T
	set    bool
	notify chan struct{}
}

func NewLatest[T any]() *Latest[T] {
	return &Latest[T]{
		notify: make(chan struct{}, 1),
	}
}

// Publish stores v and never blocks.
func (l *Latest[T]) Publish(v T) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.value = v
	l.set = true

	select {
	case l.notify <- struct{}{}:
	default:
		// a wake-up is already pending
	}
}

// C returns the wake-up channel for use in select statements.
func (l *Latest[T]) C() <-chan struct{} {
	return l.notify
}

// Load returns the latest value and whether anything was published yet.
func (l *Latest[T]) Load() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, l.set
}

// Pending reports whether a wake-up is waiting, without consuming it.
func (l *Latest[T]) Pending() bool {
	return len(l.notify) > 0
}
