package taskscope

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Activity is a unit of work scheduled by an orchestration.
type Activity interface {
	Run(ctx context.Context, input any) (any, error)
}

// Orchestration coordinates activities. Run must return its in-flight
// result handle without waiting for the orchestration to finish.
type Orchestration interface {
	Run(ctx context.Context, input any) *Future
}

// ActivityFunc adapts a function to the Activity interface.
type ActivityFunc func(ctx context.Context, input any) (any, error)

// Run calls the underlying function.
func (f ActivityFunc) Run(ctx context.Context, input any) (any, error) {
	return f(ctx, input)
}

// OrchestrationFunc adapts a blocking function to the Orchestration
// interface by running it on its own goroutine.
type OrchestrationFunc func(ctx context.Context, input any) (any, error)

// Run starts the function and returns immediately.
func (f OrchestrationFunc) Run(ctx context.Context, input any) *Future {
	return GoFuture(ctx, func(ctx context.Context) (any, error) {
		return f(ctx, input)
	})
}

// Deferred is an engine-visible handler that holds only an identity until
// a real handler is bound to it.
type Deferred interface {
	Kind() HandlerKind
	Identity() TypeName
	Bind(real any) error
	Bound() bool
	Real() any
}

type slot[T any] struct {
	identity TypeName
	real     atomic.Pointer[T]
}

func (s *slot[T]) bind(kind HandlerKind, real any) error {
	h, ok := real.(T)
	if !ok || real == nil {
		return NewError(ErrHandlerTypeMismatch, "", nil, map[string]any{
			"kind":      kind.String(),
			"type_name": Encode(s.identity),
			"actual":    fmt.Sprintf("%T", real),
		})
	}
	if !s.real.CompareAndSwap(nil, &h) {
		return NewError(ErrHandlerAlreadyInitialized, "", nil, map[string]any{
			"kind":      kind.String(),
			"type_name": Encode(s.identity),
		})
	}
	return nil
}

func (s *slot[T]) load() (T, bool) {
	p := s.real.Load()
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}

func (s *slot[T]) uninitialized(kind HandlerKind) error {
	return NewError(ErrHandlerUninitialized, "", nil, map[string]any{
		"kind":      kind.String(),
		"type_name": Encode(s.identity),
	})
}

// DeferredActivity forwards Run to the bound activity.
type DeferredActivity struct {
	slot[Activity]
}

// NewDeferredActivity returns an unbound activity for identity.
func NewDeferredActivity(identity TypeName) *DeferredActivity {
	d := &DeferredActivity{}
	d.identity = identity
	return d
}

func (d *DeferredActivity) Kind() HandlerKind  { return KindActivity }
func (d *DeferredActivity) Identity() TypeName { return d.identity }

// Bind sets the real activity. It can only be called once.
func (d *DeferredActivity) Bind(real any) error { return d.bind(KindActivity, real) }

func (d *DeferredActivity) Bound() bool {
	_, ok := d.load()
	return ok
}

func (d *DeferredActivity) Real() any {
	h, ok := d.load()
	if !ok {
		return nil
	}
	return h
}

// Run executes the bound activity.
func (d *DeferredActivity) Run(ctx context.Context, input any) (any, error) {
	h, ok := d.load()
	if !ok {
		return nil, d.uninitialized(KindActivity)
	}
	return h.Run(ctx, input)
}

// ContinuationFunc runs after an orchestration future resolves.
type ContinuationFunc func(ctx context.Context, value any, err error) error

// DeferredOrchestration forwards Run to the bound orchestration and runs
// registered continuations once the inner future resolves.
type DeferredOrchestration struct {
	slot[Orchestration]

	mu           sync.Mutex
	then         []ContinuationFunc
	started      atomic.Bool
	continuation *Future
}

// NewDeferredOrchestration returns an unbound orchestration for identity.
func NewDeferredOrchestration(identity TypeName) *DeferredOrchestration {
	d := &DeferredOrchestration{continuation: NewFuture()}
	d.identity = identity
	return d
}

func (d *DeferredOrchestration) Kind() HandlerKind  { return KindOrchestration }
func (d *DeferredOrchestration) Identity() TypeName { return d.identity }

// Bind sets the real orchestration. It can only be called once.
func (d *DeferredOrchestration) Bind(real any) error { return d.bind(KindOrchestration, real) }

func (d *DeferredOrchestration) Bound() bool {
	_, ok := d.load()
	return ok
}

func (d *DeferredOrchestration) Real() any {
	h, ok := d.load()
	if !ok {
		return nil
	}
	return h
}

// Then registers fn to run after the inner future resolves. Continuations
// registered after Run are ignored and reported with false.
func (d *DeferredOrchestration) Then(fn ContinuationFunc) bool {
	if fn == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started.Load() {
		return false
	}
	d.then = append(d.then, fn)
	return true
}

// Continuation resolves after every registered continuation has run. Its
// error joins the continuation errors. It never resolves if Run is never
// called.
func (d *DeferredOrchestration) Continuation() *Future {
	return d.continuation
}

// Run starts the bound orchestration and returns its future without
// waiting. Continuations run detached from the caller.
func (d *DeferredOrchestration) Run(ctx context.Context, input any) *Future {
	d.mu.Lock()
	if !d.started.CompareAndSwap(false, true) {
		d.mu.Unlock()
		return ResolvedFuture(nil, NewError(ErrHandlerAlreadyRun, "", nil, map[string]any{
			"type_name": Encode(d.identity),
		}))
	}
	then := d.then
	d.mu.Unlock()

	h, ok := d.load()
	var inner *Future
	switch {
	case !ok:
		inner = ResolvedFuture(nil, d.uninitialized(KindOrchestration))
	default:
		inner = h.Run(ctx, input)
		if inner == nil {
			inner = ResolvedFuture(nil, NewError(ErrHandlerTypeMismatch, "orchestration returned a nil future", nil, map[string]any{
				"type_name": Encode(d.identity),
			}))
		}
	}

	if len(then) == 0 {
		d.continuation.Resolve(nil, nil)
		return inner
	}

	detached := context.WithoutCancel(ctx)
	go func() {
		var errs error
		defer func() {
			d.continuation.Resolve(nil, errs)
		}()
		<-inner.Done()
		value, err := inner.Await(detached)
		for _, fn := range then {
			var stepErr error
			func() {
				defer RecoverError("DeferredOrchestration.Then", &stepErr, map[string]any{
					"type_name": Encode(d.identity),
				})
				stepErr = fn(detached, value, err)
			}()
			errs = stderrors.Join(errs, stepErr)
		}
	}()

	return inner
}
