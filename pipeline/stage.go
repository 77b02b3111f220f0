package pipeline

import (
	"context"
	"fmt"

	taskscope "github.com/goliatone/go-taskscope"
)

// StageFactory builds a stage from the dispatch scope.
type StageFactory func(ctx context.Context, r taskscope.Resolver) (Middleware, error)

// StageDescriptor registers a middleware stage with a construction policy,
// mirroring handler descriptors.
type StageDescriptor struct {
	Name   string                       `validate:"required"`
	Policy taskscope.ConstructionPolicy `validate:"oneof=0 1 2"`

	Instance    Middleware
	Constructor func() Middleware
	Factory     StageFactory
}

// Singleton shares mw across every dispatch.
func Singleton(name string, mw Middleware) StageDescriptor {
	return StageDescriptor{Name: name, Policy: taskscope.PolicySingleton, Instance: mw}
}

// Transient builds a new stage for every dispatch.
func Transient(name string, ctor func() Middleware) StageDescriptor {
	return StageDescriptor{Name: name, Policy: taskscope.PolicyTransient, Constructor: ctor}
}

// Factory builds the stage from the dispatch scope. Factory stages must run
// after the scope stage.
func Factory(name string, fn StageFactory) StageDescriptor {
	return StageDescriptor{Name: name, Policy: taskscope.PolicyFactory, Factory: fn}
}

// Validate checks the descriptor has what its policy needs.
func (s StageDescriptor) Validate() error {
	meta := map[string]any{"stage": s.Name, "policy": s.Policy.String()}
	if err := taskscope.Validator().Struct(s); err != nil {
		return taskscope.NewError(taskscope.ErrDescriptorInvalid, "stage descriptor failed validation", err, meta)
	}
	var ok bool
	switch s.Policy {
	case taskscope.PolicySingleton:
		ok = s.Instance != nil
	case taskscope.PolicyTransient:
		ok = s.Constructor != nil
	case taskscope.PolicyFactory:
		ok = s.Factory != nil
	}
	if !ok {
		return taskscope.NewError(taskscope.ErrDescriptorInvalid, "stage descriptor is missing its constructor", nil, meta)
	}
	return nil
}

func (s StageDescriptor) resolve(ctx context.Context, dc *DispatchContext) (Middleware, error) {
	switch s.Policy {
	case taskscope.PolicySingleton:
		return s.Instance, nil
	case taskscope.PolicyTransient:
		return s.Constructor(), nil
	}

	if dc.Scope == nil {
		return nil, taskscope.NewError(taskscope.ErrScopeNotFound, "factory stage requires a dispatch scope", nil, map[string]any{
			"stage":        s.Name,
			"instance_key": dc.InstanceKey,
		})
	}
	mw, err := s.Factory(ctx, dc.Scope)
	if err != nil {
		return nil, err
	}
	if mw == nil {
		return nil, taskscope.NewError(taskscope.ErrHandlerTypeMismatch, fmt.Sprintf("stage factory %s returned nil", s.Name), nil, nil)
	}
	return mw, nil
}
