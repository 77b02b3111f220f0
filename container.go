package taskscope

import (
	"context"
	"fmt"
)

// Lifetime controls how long a container keeps a constructed instance.
type Lifetime int

const (
	LifetimeTransient Lifetime = iota
	LifetimeScoped
	LifetimeSingleton
)

func (l Lifetime) String() string {
	switch l {
	case LifetimeTransient:
		return "transient"
	case LifetimeScoped:
		return "scoped"
	case LifetimeSingleton:
		return "singleton"
	default:
		return fmt.Sprintf("lifetime(%d)", int(l))
	}
}

// Resolver builds instances by type name, injecting their dependencies.
type Resolver interface {
	Resolve(ctx context.Context, id TypeName) (any, error)
}

// ScopeHandle is a dependency container lifetime boundary.
type ScopeHandle interface {
	Resolver
	Dispose() error
}

// Container creates isolated scopes. Every call returns a new scope.
type Container interface {
	CreateScope() (ScopeHandle, error)
}

// Registrar is the registration side of a container.
type Registrar interface {
	Register(id TypeName, ctor Constructor, lifetime Lifetime) error
	RegisterGeneric(def TypeName, ctor GenericConstructor, lifetime Lifetime) error
}

// Disposable instances are released when the scope or container owning
// them is disposed.
type Disposable interface {
	Dispose() error
}

// Constructor builds an instance, resolving its dependencies from r.
type Constructor func(ctx context.Context, r Resolver) (any, error)

// GenericConstructor builds a closed instance of a generic definition.
type GenericConstructor func(ctx context.Context, r Resolver, args []TypeName) (any, error)

// ResolveAs resolves id and asserts the result to T.
func ResolveAs[T any](ctx context.Context, r Resolver, id TypeName) (T, error) {
	var zero T
	if r == nil {
		return zero, NewError(ErrServiceNotRegistered, "resolver is nil", nil, map[string]any{
			"type_name": Encode(id),
		})
	}
	v, err := r.Resolve(ctx, id)
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, NewError(ErrHandlerTypeMismatch, "resolved instance has an unexpected type", nil, map[string]any{
			"type_name": Encode(id),
			"actual":    fmt.Sprintf("%T", v),
			"expected":  fmt.Sprintf("%T", (*T)(nil)),
		})
	}
	return out, nil
}
