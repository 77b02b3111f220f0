package worker

import (
	"context"
	stderrors "errors"
	"sync/atomic"

	taskscope "github.com/goliatone/go-taskscope"
	"github.com/goliatone/go-taskscope/pipeline"
	"github.com/goliatone/go-taskscope/registry"
	"github.com/goliatone/go-taskscope/scope"
)

// Worker dispatches backend requests through the scoped middleware pipeline.
type Worker struct {
	registry *registry.Registry
	manager  *scope.Manager
	pipeline *pipeline.Pipeline
	backend  Backend
	config   taskscope.Config
	logger   taskscope.Logger
	started  atomic.Bool
}

var _ Dispatcher = (*Worker)(nil)

// Registry returns the handler registry.
func (w *Worker) Registry() *registry.Registry { return w.registry }

// Scopes returns the execution scope manager.
func (w *Worker) Scopes() *scope.Manager { return w.manager }

// Stages returns the pipeline stage names in execution order.
func (w *Worker) Stages() []string { return w.pipeline.Stages() }

// Start hands the worker to its backend.
func (w *Worker) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return nil
	}
	for _, desc := range w.registry.Handlers() {
		w.logger.Info("handler available %s policy=%s", desc, desc.Policy)
	}
	if err := w.backend.Start(ctx, w); err != nil {
		w.started.Store(false)
		return err
	}
	w.logger.Info("worker started task_hub=%s handlers=%d", w.config.TaskHub, w.registry.Len())
	return nil
}

// Stop stops the backend and disposes every scope still alive.
func (w *Worker) Stop(ctx context.Context) error {
	if !w.started.CompareAndSwap(true, false) {
		return nil
	}
	var errs error
	if err := w.backend.Stop(ctx); err != nil {
		errs = stderrors.Join(errs, err)
	}
	if err := w.manager.Close(ctx); err != nil {
		errs = stderrors.Join(errs, err)
	}
	w.logger.Info("worker stopped task_hub=%s", w.config.TaskHub)
	return errs
}

// DispatchActivity runs one activity in its own scope and waits for the
// scope to be disposed before returning the activity outcome.
func (w *Worker) DispatchActivity(ctx context.Context, req ActivityRequest) (any, error) {
	deferred, desc, err := w.resolve(taskscope.KindActivity, req.Name, req.Version)
	if err != nil {
		return nil, err
	}

	dc := &pipeline.DispatchContext{
		Kind:         taskscope.KindActivity,
		Name:         req.Name,
		Version:      req.Version,
		InstanceKey:  req.ScopeKey(),
		Input:        req.Input,
		ReleaseScope: true,
		Descriptor:   desc,
		Deferred:     deferred,
	}
	runErr := w.pipeline.Run(ctx, dc)

	if dc.Scope != nil {
		w.awaitCleanup(ctx, dc, w.manager.SafeDispose(dc.InstanceKey))
	}
	return dc.Output, runErr
}

// DispatchOrchestration runs one orchestration episode. The returned result
// is in flight. On the final episode the instance scope is disposed after
// the result resolves, and Execution.Cleanup reports when that happened.
func (w *Worker) DispatchOrchestration(ctx context.Context, req OrchestrationRequest) (*Execution, error) {
	deferred, desc, err := w.resolve(taskscope.KindOrchestration, req.Name, req.Version)
	if err != nil {
		return nil, err
	}
	orchestration, ok := deferred.(*taskscope.DeferredOrchestration)
	if !ok {
		return nil, taskscope.NewError(taskscope.ErrHandlerTypeMismatch, "registry returned a non orchestration handler", nil, map[string]any{
			"name": req.Name,
		})
	}

	key := req.InstanceKey
	if req.Final {
		orchestration.Then(func(ctx context.Context, _ any, _ error) error {
			waitCtx, cancel := w.disposeContext(ctx)
			defer cancel()
			_, err := w.manager.SafeDispose(key).Await(waitCtx)
			return err
		})
	}

	dc := &pipeline.DispatchContext{
		Kind:         taskscope.KindOrchestration,
		Name:         req.Name,
		Version:      req.Version,
		InstanceKey:  key,
		Input:        req.Input,
		Replay:       req.Replay,
		ReleaseScope: req.Final,
		Descriptor:   desc,
		Deferred:     orchestration,
	}
	runErr := w.pipeline.Run(ctx, dc)
	if runErr == nil {
		return &Execution{Result: dc.Result, Cleanup: orchestration.Continuation()}, nil
	}

	w.logger.Error("orchestration dispatch failed instance_key=%s: %v", key, runErr)
	result := dc.Result
	if result == nil {
		result = taskscope.ResolvedFuture(nil, runErr)
	}
	exec := &Execution{Result: result, Cleanup: taskscope.ResolvedFuture(nil, nil)}
	switch {
	case dc.Scope == nil:
		// the scope stage failed, nothing of ours to release
	case req.Final && dc.Result != nil:
		exec.Cleanup = orchestration.Continuation()
	default:
		exec.Cleanup = taskscope.GoFuture(context.WithoutCancel(ctx), func(ctx context.Context) (any, error) {
			if dc.Result != nil {
				<-dc.Result.Done()
			}
			return w.manager.SafeDispose(key).Await(ctx)
		})
	}
	return exec, runErr
}

// ReleaseInstance is the out of band completion callback: it signals the
// instance scope and disposes it. Releasing an unknown instance is a no-op.
func (w *Worker) ReleaseInstance(ctx context.Context, instanceKey string) error {
	s, err := w.manager.Get(instanceKey)
	if err != nil {
		if taskscope.HasCode(err, taskscope.ErrCodeScopeNotFound) {
			w.logger.Debug("release of unknown instance instance_key=%s", instanceKey)
			return nil
		}
		return err
	}
	w.manager.SignalCompletion(s)

	waitCtx, cancel := w.disposeContext(ctx)
	defer cancel()
	_, err = w.manager.SafeDispose(instanceKey).Await(waitCtx)
	return err
}

func (w *Worker) resolve(kind taskscope.HandlerKind, name, version string) (taskscope.Deferred, taskscope.HandlerDescriptor, error) {
	deferred, desc, found, err := w.registry.ResolveDescriptor(kind, name, version)
	if err != nil {
		return nil, desc, err
	}
	if !found {
		return nil, desc, taskscope.NewError(taskscope.ErrHandlerNotFound, "", nil, map[string]any{
			"kind":    kind.String(),
			"name":    name,
			"version": version,
		})
	}
	return deferred, desc, nil
}

func (w *Worker) awaitCleanup(ctx context.Context, dc *pipeline.DispatchContext, f *taskscope.Future) {
	waitCtx, cancel := w.disposeContext(ctx)
	defer cancel()

	logger := taskscope.WithLoggerFields(w.logger, dc.Fields())
	if _, err := f.Await(waitCtx); err != nil {
		if waitCtx.Err() != nil {
			logger.Warn("scope dispose still pending after %s", w.config.DisposeTimeout)
			return
		}
		logger.Error("scope dispose failed: %v", err)
	}
}

// disposeContext detaches waits from caller cancellation and bounds them by
// the configured dispose timeout.
func (w *Worker) disposeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if w.config.DisposeTimeout > 0 {
		return context.WithTimeout(base, w.config.DisposeTimeout)
	}
	return context.WithCancel(base)
}
