package taskscope

import (
	"context"
	"fmt"
)

// HandlerKind distinguishes activities from orchestrations.
type HandlerKind int

const (
	KindActivity HandlerKind = iota + 1
	KindOrchestration
)

func (k HandlerKind) String() string {
	switch k {
	case KindActivity:
		return "activity"
	case KindOrchestration:
		return "orchestration"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ConstructionPolicy decides how the real handler behind a deferred
// handler is produced.
type ConstructionPolicy int

const (
	// PolicyTransient builds a new handler for every dispatch.
	PolicyTransient ConstructionPolicy = iota
	// PolicySingleton shares one handler for the lifetime of the container.
	PolicySingleton
	// PolicyFactory calls Factory with the dispatch scope on every dispatch.
	PolicyFactory
)

func (p ConstructionPolicy) String() string {
	switch p {
	case PolicyTransient:
		return "transient"
	case PolicySingleton:
		return "singleton"
	case PolicyFactory:
		return "factory"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Lifetime maps the policy onto a container lifetime. Factory handlers are
// never registered in the container.
func (p ConstructionPolicy) Lifetime() Lifetime {
	if p == PolicySingleton {
		return LifetimeSingleton
	}
	return LifetimeTransient
}

// HandlerDescriptor describes one registered handler. Name and Version are
// the lookup key; Identity is the implementation the container builds.
type HandlerDescriptor struct {
	Kind     HandlerKind `validate:"oneof=1 2"`
	Name     string      `validate:"required,taskname"`
	Version  string      `validate:"taskversion"`
	Identity TypeName
	Policy   ConstructionPolicy `validate:"oneof=0 1 2"`

	Constructor Constructor
	Generic     GenericConstructor
	Factory     Constructor
}

// DescriptorOption mutates a descriptor under construction.
type DescriptorOption func(*HandlerDescriptor)

// WithName overrides the name derived from the identity.
func WithName(name string) DescriptorOption {
	return func(d *HandlerDescriptor) {
		d.Name = name
	}
}

// WithVersion sets the handler version.
func WithVersion(version string) DescriptorOption {
	return func(d *HandlerDescriptor) {
		d.Version = version
	}
}

// AsSingleton shares one handler instance across dispatches.
func AsSingleton() DescriptorOption {
	return func(d *HandlerDescriptor) {
		d.Policy = PolicySingleton
	}
}

// AsTransient builds a new handler per dispatch. This is the default.
func AsTransient() DescriptorOption {
	return func(d *HandlerDescriptor) {
		d.Policy = PolicyTransient
	}
}

// FromFactory builds the handler by calling fn with the dispatch scope.
func FromFactory(fn Constructor) DescriptorOption {
	return func(d *HandlerDescriptor) {
		d.Policy = PolicyFactory
		d.Factory = fn
	}
}

// NewActivity describes an activity implemented by identity.
func NewActivity(identity TypeName, ctor Constructor, opts ...DescriptorOption) HandlerDescriptor {
	return newDescriptor(KindActivity, identity, ctor, nil, opts...)
}

// NewOrchestration describes an orchestration implemented by identity.
func NewOrchestration(identity TypeName, ctor Constructor, opts ...DescriptorOption) HandlerDescriptor {
	return newDescriptor(KindOrchestration, identity, ctor, nil, opts...)
}

// NewGenericActivity describes an activity backed by an open generic
// definition, invoked through closed names such as "Cache[Int]".
func NewGenericActivity(def TypeName, ctor GenericConstructor, opts ...DescriptorOption) HandlerDescriptor {
	return newDescriptor(KindActivity, def, nil, ctor, opts...)
}

// NewGenericOrchestration is the orchestration counterpart of NewGenericActivity.
func NewGenericOrchestration(def TypeName, ctor GenericConstructor, opts ...DescriptorOption) HandlerDescriptor {
	return newDescriptor(KindOrchestration, def, nil, ctor, opts...)
}

// ActivityOf describes an activity whose identity is derived from T.
func ActivityOf[T Activity](ctor func(ctx context.Context, r Resolver) (T, error), opts ...DescriptorOption) HandlerDescriptor {
	return NewActivity(MustTypeNameOf[T](), func(ctx context.Context, r Resolver) (any, error) {
		return ctor(ctx, r)
	}, opts...)
}

// OrchestrationOf describes an orchestration whose identity is derived from T.
func OrchestrationOf[T Orchestration](ctor func(ctx context.Context, r Resolver) (T, error), opts ...DescriptorOption) HandlerDescriptor {
	return NewOrchestration(MustTypeNameOf[T](), func(ctx context.Context, r Resolver) (any, error) {
		return ctor(ctx, r)
	}, opts...)
}

func newDescriptor(kind HandlerKind, identity TypeName, ctor Constructor, generic GenericConstructor, opts ...DescriptorOption) HandlerDescriptor {
	d := HandlerDescriptor{
		Kind:        kind,
		Identity:    identity,
		Policy:      PolicyTransient,
		Constructor: ctor,
		Generic:     generic,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&d)
		}
	}
	if d.Name == "" {
		d.Name = Encode(identity)
	}
	return d
}

// IsGeneric reports whether the descriptor registers a generic definition.
func (d HandlerDescriptor) IsGeneric() bool {
	return d.Identity.IsGenericDefinition()
}

// Validate checks the descriptor before it is added to a registry.
func (d HandlerDescriptor) Validate() error {
	meta := map[string]any{
		"name":    d.Name,
		"version": d.Version,
		"kind":    d.Kind.String(),
	}
	if err := validateStruct(d); err != nil {
		return NewError(ErrDescriptorInvalid, "descriptor failed validation", err, meta)
	}
	if err := d.Identity.Validate(); err != nil {
		return NewError(ErrDescriptorInvalid, "descriptor identity is invalid", err, meta)
	}

	if d.IsGeneric() {
		open, err := Decode(d.Name)
		if err != nil || !open.IsGenericDefinition() || open.Arity != d.Identity.Arity {
			return NewError(ErrDescriptorInvalid, "generic handler name must be an open generic name of the same arity", err, meta)
		}
		if d.Policy == PolicyFactory {
			return NewError(ErrDescriptorInvalid, "generic handlers cannot use a factory policy", nil, meta)
		}
		if d.Generic == nil {
			return NewError(ErrDescriptorInvalid, "generic handler requires a generic constructor", nil, meta)
		}
		return nil
	}

	switch d.Policy {
	case PolicyFactory:
		if d.Factory == nil {
			return NewError(ErrDescriptorInvalid, "factory policy requires a factory", nil, meta)
		}
	default:
		if d.Constructor == nil {
			return NewError(ErrDescriptorInvalid, "handler requires a constructor", nil, meta)
		}
	}
	return nil
}

func (d HandlerDescriptor) String() string {
	if d.Version == "" {
		return fmt.Sprintf("%s %s", d.Kind, d.Name)
	}
	return fmt.Sprintf("%s %s@%s", d.Kind, d.Name, d.Version)
}
