package scope

import (
	"context"
	"sync"
)

// Latch is a one-shot signal with any number of waiters. Setting it more
// than once has no effect.
type Latch struct {
	once sync.Once
	ch   chan struct{}
}

// NewLatch returns an unset latch.
func NewLatch() *Latch {
	return &Latch{ch: make(chan struct{})}
}

// Set releases every current and future waiter. It reports whether this
// call set the latch.
func (l *Latch) Set() bool {
	set := false
	l.once.Do(func() {
		close(l.ch)
		set = true
	})
	return set
}

// Done is closed once the latch is set.
func (l *Latch) Done() <-chan struct{} {
	return l.ch
}

// IsSet reports whether Set was called.
func (l *Latch) IsSet() bool {
	select {
	case <-l.ch:
		return true
	default:
		return false
	}
}

// Wait blocks until the latch is set or ctx is done.
func (l *Latch) Wait(ctx context.Context) error {
	select {
	case <-l.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
