package container

import (
	"context"
	stderrors "errors"
	"sync"

	taskscope "github.com/goliatone/go-taskscope"
)

// Scope resolves scoped services once per scope and tracks every
// disposable instance it builds.
type Scope struct {
	root *Container

	mu          sync.Mutex
	instances   map[string]*entry
	disposables []taskscope.Disposable
	disposed    bool
}

func newScope(root *Container) *Scope {
	return &Scope{
		root:      root,
		instances: make(map[string]*entry),
	}
}

// Resolve builds id within the scope.
func (s *Scope) Resolve(ctx context.Context, id taskscope.TypeName) (any, error) {
	if s.isDisposed() {
		return nil, disposedError(id)
	}
	ctx, err := enter(ctx, id)
	if err != nil {
		return nil, err
	}
	reg, err := s.root.lookup(id)
	if err != nil {
		return nil, err
	}

	switch reg.lifetime {
	case taskscope.LifetimeSingleton:
		return s.root.singleton(ctx, reg, id)
	case taskscope.LifetimeScoped:
		return s.scoped(ctx, reg, id)
	default:
		v, err := reg.build(ctx, s, id)
		if err != nil {
			return nil, wrapConstruction(id, err)
		}
		if err := s.track(id, v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

func (s *Scope) scoped(ctx context.Context, reg *registration, id taskscope.TypeName) (any, error) {
	key := id.String()

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil, disposedError(id)
	}
	e, ok := s.instances[key]
	if !ok {
		e = &entry{}
		s.instances[key] = e
	}
	s.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ready {
		return e.value, nil
	}

	v, err := reg.build(ctx, s, id)
	if err != nil {
		return nil, wrapConstruction(id, err)
	}
	if err := s.track(id, v); err != nil {
		return nil, err
	}
	e.value = v
	e.ready = true
	return v, nil
}

// track records v for disposal. When the scope was disposed while v was
// being built, v is disposed right away and SCOPE_DISPOSED is returned.
func (s *Scope) track(id taskscope.TypeName, v any) error {
	d, isDisposable := v.(taskscope.Disposable)

	s.mu.Lock()
	if !s.disposed {
		if isDisposable {
			s.disposables = append(s.disposables, d)
		}
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	err := disposedError(id)
	if isDisposable {
		if derr := disposeOne(d); derr != nil {
			err = stderrors.Join(err, derr)
		}
	}
	return err
}

func disposedError(id taskscope.TypeName) error {
	return taskscope.NewError(taskscope.ErrScopeDisposed, "", nil, map[string]any{
		"type_name": id.String(),
	})
}

func (s *Scope) isDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// Dispose releases every instance built by the scope, newest first.
// Singletons are left to the root container.
func (s *Scope) Dispose() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return taskscope.NewError(taskscope.ErrScopeDisposed, "", nil, nil)
	}
	s.disposed = true
	disposables := s.disposables
	s.disposables = nil
	s.instances = nil
	s.mu.Unlock()

	return disposeReverse(disposables)
}
