package taskscope

import (
	"context"
	"sync"
)

// Future is a single-set, multi-wait result handle. Once resolved every
// current and future waiter observes the same value and error.
type Future struct {
	once  sync.Once
	done  chan struct{}
	mu    sync.RWMutex
	value any
	err   error
}

// NewFuture returns an unresolved future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// ResolvedFuture returns a future that is already resolved.
func ResolvedFuture(value any, err error) *Future {
	f := NewFuture()
	f.Resolve(value, err)
	return f
}

// GoFuture runs fn on a new goroutine and resolves the returned future with
// its outcome. A panic in fn resolves the future with a DISPATCH_PANIC error.
func GoFuture(ctx context.Context, fn func(context.Context) (any, error)) *Future {
	f := NewFuture()
	go func() {
		var (
			value any
			err   error
		)
		defer func() {
			f.Resolve(value, err)
		}()
		defer RecoverError("GoFuture", &err, nil)
		value, err = fn(ctx)
	}()
	return f
}

// Resolve sets the outcome. It returns false if the future was already
// resolved, in which case the call has no effect.
func (f *Future) Resolve(value any, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.mu.Lock()
		f.value = value
		f.err = err
		f.mu.Unlock()
		close(f.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the future resolves.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// IsResolved reports whether the outcome is available.
func (f *Future) IsResolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Await blocks until the future resolves or ctx is done.
func (f *Future) Await(ctx context.Context) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-f.done:
	case <-ctx.Done():
		// prefer the outcome if both are ready
		select {
		case <-f.done:
		default:
			return nil, ctx.Err()
		}
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.value, f.err
}
