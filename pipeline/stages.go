package pipeline

import (
	"context"

	taskscope "github.com/goliatone/go-taskscope"
	"github.com/goliatone/go-taskscope/scope"
)

const (
	ScopeStageName   = "scope"
	ResolveStageName = "resolve"
)

// ScopeStage opens the dispatch scope, or reuses it on replay, and signals
// completion whenever the chain unwinds: on success, failure, cancellation
// or panic. Disposal is still driven by the caller through SafeDispose.
type ScopeStage struct {
	Manager   *scope.Manager
	Container taskscope.Container
}

// NewScopeStage returns the scope establishing stage.
func NewScopeStage(m *scope.Manager, c taskscope.Container) *ScopeStage {
	return &ScopeStage{Manager: m, Container: c}
}

func (s *ScopeStage) Handle(ctx context.Context, dc *DispatchContext, next Next) (err error) {
	var sc *scope.Scope
	if dc.Replay {
		sc, err = s.Manager.Get(dc.InstanceKey)
	} else {
		sc, err = s.Manager.Create(dc.InstanceKey, s.Container)
	}
	if err != nil {
		return err
	}
	dc.Scope = sc

	defer s.Manager.SignalCompletion(sc)

	return next(ctx)
}

// ResolveStage resolves the real handler from the dispatch scope and binds
// it into the deferred handler.
type ResolveStage struct{}

func (ResolveStage) Handle(ctx context.Context, dc *DispatchContext, next Next) error {
	if dc.Deferred == nil {
		return taskscope.NewError(taskscope.ErrHandlerUninitialized, "dispatch has no deferred handler", nil, dc.Fields())
	}
	if dc.Scope == nil {
		return taskscope.NewError(taskscope.ErrScopeNotFound, "resolve stage requires a dispatch scope", nil, dc.Fields())
	}

	var (
		real any
		err  error
	)
	if dc.Descriptor.Policy == taskscope.PolicyFactory && dc.Descriptor.Factory != nil {
		real, err = dc.Descriptor.Factory(ctx, dc.Scope)
	} else {
		real, err = dc.Scope.Resolve(ctx, dc.Deferred.Identity())
	}
	if err != nil {
		return err
	}

	if !dc.Deferred.Bound() {
		if err := dc.Deferred.Bind(real); err != nil {
			return err
		}
	}
	dc.SetHandler(dc.Deferred.Real())
	return next(ctx)
}

// Compose returns the mandatory scope and resolve stages followed by user stages.
func Compose(m *scope.Manager, c taskscope.Container, user ...StageDescriptor) []StageDescriptor {
	stages := []StageDescriptor{
		Singleton(ScopeStageName, NewScopeStage(m, c)),
		Singleton(ResolveStageName, ResolveStage{}),
	}
	return append(stages, user...)
}
