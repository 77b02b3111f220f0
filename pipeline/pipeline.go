package pipeline

import (
	"context"
	"fmt"

	taskscope "github.com/goliatone/go-taskscope"
)

// Next invokes the remainder of the chain.
type Next func(ctx context.Context) error

// Middleware is one pipeline stage.
type Middleware interface {
	Handle(ctx context.Context, dc *DispatchContext, next Next) error
}

// MiddlewareFunc adapts a function to the Middleware interface.
type MiddlewareFunc func(ctx context.Context, dc *DispatchContext, next Next) error

func (f MiddlewareFunc) Handle(ctx context.Context, dc *DispatchContext, next Next) error {
	return f(ctx, dc, next)
}

// Pipeline runs stages in order and invokes the handler at the end of the
// chain.
type Pipeline struct {
	stages []StageDescriptor
	logger taskscope.Logger
}

// New builds a pipeline from stage descriptors. Stages run in the given order.
func New(stages []StageDescriptor, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.logger = taskscope.NormalizeLogger(p.logger)

	for _, s := range stages {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	p.stages = append(p.stages, stages...)
	return p, nil
}

// Stages returns the stage names in execution order.
func (p *Pipeline) Stages() []string {
	out := make([]string, 0, len(p.stages))
	for _, s := range p.stages {
		out = append(out, s.Name)
	}
	return out
}

// Run dispatches dc through every stage. Panics anywhere in the chain are
// returned as DISPATCH_PANIC errors.
func (p *Pipeline) Run(ctx context.Context, dc *DispatchContext) (err error) {
	defer taskscope.RecoverError("pipeline.Run", &err, dc.Fields())

	next := Next(func(ctx context.Context) error {
		return invoke(ctx, dc)
	})
	for i := len(p.stages) - 1; i >= 0; i-- {
		next = p.wrap(p.stages[i], dc, next)
	}
	return next(ctx)
}

func (p *Pipeline) wrap(stage StageDescriptor, dc *DispatchContext, next Next) Next {
	return func(ctx context.Context) error {
		mw, err := stage.resolve(ctx, dc)
		if err != nil {
			return err
		}
		p.logger.Trace("stage enter %s instance_key=%s", stage.Name, dc.InstanceKey)
		return mw.Handle(ctx, dc, next)
	}
}

// invoke runs the deferred handler, which forwards to the bound real handler.
func invoke(ctx context.Context, dc *DispatchContext) error {
	switch h := dc.Deferred.(type) {
	case *taskscope.DeferredActivity:
		out, err := h.Run(ctx, dc.Input)
		dc.Output = out
		return err
	case *taskscope.DeferredOrchestration:
		dc.Result = h.Run(ctx, dc.Input)
		return nil
	case nil:
		return taskscope.NewError(taskscope.ErrHandlerUninitialized, "dispatch has no handler", nil, dc.Fields())
	default:
		return taskscope.NewError(taskscope.ErrHandlerTypeMismatch, fmt.Sprintf("unsupported deferred handler %T", h), nil, dc.Fields())
	}
}
