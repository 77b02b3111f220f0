package container

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	taskscope "github.com/goliatone/go-taskscope"
)

type registration struct {
	id       taskscope.TypeName
	ctor     taskscope.Constructor
	generic  taskscope.GenericConstructor
	lifetime taskscope.Lifetime
	instance any
}

func (r *registration) build(ctx context.Context, res taskscope.Resolver, id taskscope.TypeName) (any, error) {
	if r.instance != nil {
		return r.instance, nil
	}
	if r.generic != nil {
		return r.generic(ctx, res, id.Args)
	}
	return r.ctor(ctx, res)
}

// entry guards construction of one cached instance.
type entry struct {
	mu    sync.Mutex
	ready bool
	value any
}

// Container is an in-process dependency container. It implements both
// taskscope.Container and taskscope.Registrar.
type Container struct {
	mu       sync.RWMutex
	services map[string]*registration
	generics map[string]*registration

	singletonMu sync.Mutex
	singletons  map[string]*entry
	disposables []taskscope.Disposable
	disposed    bool

	logger taskscope.Logger
}

// New creates an empty container.
func New(opts ...Option) *Container {
	c := &Container{
		services:   make(map[string]*registration),
		generics:   make(map[string]*registration),
		singletons: make(map[string]*entry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.logger = taskscope.NormalizeLogger(c.logger)
	return c
}

// Register adds a constructor for a concrete type name.
func (c *Container) Register(id taskscope.TypeName, ctor taskscope.Constructor, lifetime taskscope.Lifetime) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if id.IsGenericDefinition() {
		return taskscope.NewError(taskscope.ErrHandlerGenericDefinition, "use RegisterGeneric for generic definitions", nil, map[string]any{
			"type_name": id.String(),
		})
	}
	if ctor == nil {
		return taskscope.NewError(taskscope.ErrDescriptorInvalid, "constructor cannot be nil", nil, map[string]any{
			"type_name": id.String(),
		})
	}
	return c.add(c.services, &registration{id: id, ctor: ctor, lifetime: lifetime})
}

// RegisterGeneric adds a constructor for every closed form of def.
func (c *Container) RegisterGeneric(def taskscope.TypeName, ctor taskscope.GenericConstructor, lifetime taskscope.Lifetime) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if !def.IsGenericDefinition() {
		return taskscope.NewError(taskscope.ErrDescriptorInvalid, "RegisterGeneric requires a generic definition", nil, map[string]any{
			"type_name": def.String(),
		})
	}
	if ctor == nil {
		return taskscope.NewError(taskscope.ErrDescriptorInvalid, "generic constructor cannot be nil", nil, map[string]any{
			"type_name": def.String(),
		})
	}
	return c.add(c.generics, &registration{id: def, generic: ctor, lifetime: lifetime})
}

// RegisterInstance adds an existing value as a singleton.
func (c *Container) RegisterInstance(id taskscope.TypeName, instance any) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if instance == nil {
		return taskscope.NewError(taskscope.ErrDescriptorInvalid, "instance cannot be nil", nil, map[string]any{
			"type_name": id.String(),
		})
	}
	return c.add(c.services, &registration{id: id, instance: instance, lifetime: taskscope.LifetimeSingleton})
}

func (c *Container) add(table map[string]*registration, reg *registration) error {
	key := reg.id.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return taskscope.NewError(taskscope.ErrScopeDisposed, "container is disposed", nil, nil)
	}
	if _, exists := table[key]; exists {
		return taskscope.NewError(taskscope.ErrHandlerDuplicate, "service already registered", nil, map[string]any{
			"type_name": key,
		})
	}
	table[key] = reg
	c.logger.Debug("service registered type=%s lifetime=%s", key, reg.lifetime)
	return nil
}

// Contains reports whether id can be resolved.
func (c *Container) Contains(id taskscope.TypeName) bool {
	_, err := c.lookup(id)
	return err == nil
}

func (c *Container) lookup(id taskscope.TypeName) (*registration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.disposed {
		return nil, taskscope.NewError(taskscope.ErrScopeDisposed, "container is disposed", nil, nil)
	}
	if reg, ok := c.services[id.String()]; ok {
		return reg, nil
	}
	if id.IsGeneric() {
		if reg, ok := c.generics[id.Definition().String()]; ok {
			return reg, nil
		}
	}
	return nil, taskscope.NewError(taskscope.ErrServiceNotRegistered, "", nil, map[string]any{
		"type_name": id.String(),
	})
}

// CreateScope returns a new, isolated scope.
func (c *Container) CreateScope() (taskscope.ScopeHandle, error) {
	c.mu.RLock()
	disposed := c.disposed
	c.mu.RUnlock()
	if disposed {
		return nil, taskscope.NewError(taskscope.ErrScopeDisposed, "container is disposed", nil, nil)
	}
	return newScope(c), nil
}

// Resolve builds id from the root container. Scoped services cannot be
// resolved here.
func (c *Container) Resolve(ctx context.Context, id taskscope.TypeName) (any, error) {
	ctx, err := enter(ctx, id)
	if err != nil {
		return nil, err
	}
	reg, err := c.lookup(id)
	if err != nil {
		return nil, err
	}
	switch reg.lifetime {
	case taskscope.LifetimeSingleton:
		return c.singleton(ctx, reg, id)
	case taskscope.LifetimeScoped:
		return nil, taskscope.NewError(taskscope.ErrServiceScopeRequired, "", nil, map[string]any{
			"type_name": id.String(),
		})
	default:
		v, err := reg.build(ctx, c, id)
		if err != nil {
			return nil, wrapConstruction(id, err)
		}
		return v, nil
	}
}

// singleton builds the shared instance for id once. Singleton constructors
// resolve their dependencies from the root container so they never capture
// a scoped value.
func (c *Container) singleton(ctx context.Context, reg *registration, id taskscope.TypeName) (any, error) {
	key := id.String()

	c.singletonMu.Lock()
	e, ok := c.singletons[key]
	if !ok {
		e = &entry{}
		c.singletons[key] = e
	}
	c.singletonMu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ready {
		return e.value, nil
	}

	v, err := reg.build(ctx, c, id)
	if err != nil {
		return nil, wrapConstruction(id, err)
	}
	e.value = v
	e.ready = true

	if d, ok := v.(taskscope.Disposable); ok && reg.instance == nil {
		c.singletonMu.Lock()
		c.disposables = append(c.disposables, d)
		c.singletonMu.Unlock()
	}
	return v, nil
}

// Dispose releases singletons the container built, newest first.
func (c *Container) Dispose() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return taskscope.NewError(taskscope.ErrScopeDisposed, "container is disposed", nil, nil)
	}
	c.disposed = true
	c.mu.Unlock()

	c.singletonMu.Lock()
	disposables := c.disposables
	c.disposables = nil
	c.singletons = make(map[string]*entry)
	c.singletonMu.Unlock()

	return disposeReverse(disposables)
}

// disposeReverse disposes items newest first. A failing or panicking item
// does not stop the rest.
func disposeReverse(items []taskscope.Disposable) error {
	var errs error
	for i := len(items) - 1; i >= 0; i-- {
		if err := disposeOne(items[i]); err != nil {
			errs = stderrors.Join(errs, err)
		}
	}
	return errs
}

func disposeOne(d taskscope.Disposable) (err error) {
	defer taskscope.RecoverError("container.Dispose", &err, map[string]any{
		"instance": fmt.Sprintf("%T", d),
	})
	return d.Dispose()
}

func wrapConstruction(id taskscope.TypeName, err error) error {
	if taskscope.ErrorCode(err) != "" {
		return err
	}
	return taskscope.NewError(taskscope.ErrServiceConstruction, "", err, map[string]any{
		"type_name": id.String(),
	})
}
