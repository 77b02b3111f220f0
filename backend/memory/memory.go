// Package memory is an in-process execution backend. It schedules
// orchestration instances, drives their replay episodes and runs the
// activities they call through a worker dispatcher.
package memory

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	taskscope "github.com/goliatone/go-taskscope"
	"github.com/goliatone/go-taskscope/worker"
)

// Status is the lifecycle state of an instance.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusTerminated Status = "terminated"
)

// IsTerminal reports whether the instance has finished.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTerminated
}

// InstanceState is a snapshot of an orchestration instance.
type InstanceState struct {
	ID       string
	Name     string
	Version  string
	Status   Status
	Output   any
	Err      error
	Episodes int
}

type instance struct {
	mu       sync.Mutex
	state    InstanceState
	input    any
	history  []activityResult
	cancel   context.CancelFunc
	done     chan struct{}
	finished bool
}

type activityResult struct {
	name   string
	output any
	err    error
}

func (i *instance) snapshot() InstanceState {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

func (i *instance) finish(status Status, output any, err error) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.finished {
		return false
	}
	i.finished = true
	i.state.Status = status
	i.state.Output = output
	i.state.Err = err
	close(i.done)
	return true
}

// Backend runs orchestrations in memory.
type Backend struct {
	mu         sync.Mutex
	dispatcher worker.Dispatcher
	instances  map[string]*instance
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	replays int
	logger  taskscope.Logger
}

var _ worker.Backend = (*Backend)(nil)

// New returns a stopped backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		instances: make(map[string]*instance),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	b.logger = taskscope.NormalizeLogger(b.logger)
	return b
}

// Start binds the backend to d.
func (b *Backend) Start(ctx context.Context, d worker.Dispatcher) error {
	if d == nil {
		return taskscope.NewError(taskscope.ErrBackendMissing, "memory backend requires a dispatcher", nil, nil)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dispatcher = d
	b.ctx, b.cancel = context.WithCancel(context.WithoutCancel(ctx))
	b.logger.Debug("memory backend started replays=%d", b.replays)
	return nil
}

// Stop cancels running instances and waits for them until ctx is done.
func (b *Backend) Stop(ctx context.Context) error {
	b.mu.Lock()
	cancel := b.cancel
	b.dispatcher = nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ScheduleOrchestration starts a new instance with a generated id.
func (b *Backend) ScheduleOrchestration(ctx context.Context, name, version string, input any) (string, error) {
	id := uuid.NewString()
	return id, b.ScheduleOrchestrationWithID(ctx, id, name, version, input)
}

// ScheduleOrchestrationWithID starts a new instance under id.
func (b *Backend) ScheduleOrchestrationWithID(_ context.Context, id, name, version string, input any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.dispatcher == nil {
		return taskscope.NewError(taskscope.ErrBackendMissing, "memory backend is not started", nil, map[string]any{
			"instance_key": id,
		})
	}
	if _, exists := b.instances[id]; exists {
		return taskscope.NewError(taskscope.ErrScopeExists, "instance id already in use", nil, map[string]any{
			"instance_key": id,
		})
	}

	ctx, cancel := context.WithCancel(b.ctx)
	inst := &instance{
		state:  InstanceState{ID: id, Name: name, Version: version, Status: StatusPending},
		input:  input,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	b.instances[id] = inst

	b.wg.Add(1)
	go func(d worker.Dispatcher) {
		defer b.wg.Done()
		defer cancel()
		b.run(ctx, d, inst)
	}(b.dispatcher)
	return nil
}

// WaitForInstance blocks until the instance finishes or ctx is done.
func (b *Backend) WaitForInstance(ctx context.Context, id string) (InstanceState, error) {
	inst, err := b.instance(id)
	if err != nil {
		return InstanceState{}, err
	}
	select {
	case <-inst.done:
		return inst.snapshot(), nil
	case <-ctx.Done():
		return inst.snapshot(), ctx.Err()
	}
}

// Instance returns the current state of an instance.
func (b *Backend) Instance(id string) (InstanceState, error) {
	inst, err := b.instance(id)
	if err != nil {
		return InstanceState{}, err
	}
	return inst.snapshot(), nil
}

// Instances returns every known instance ordered by id.
func (b *Backend) Instances() []InstanceState {
	b.mu.Lock()
	out := make([]InstanceState, 0, len(b.instances))
	for _, inst := range b.instances {
		out = append(out, inst.snapshot())
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Terminate cancels a running instance and releases its scope through the
// dispatcher completion callback.
func (b *Backend) Terminate(ctx context.Context, id string, reason error) error {
	inst, err := b.instance(id)
	if err != nil {
		return err
	}
	if reason == nil {
		reason = context.Canceled
	}
	if !inst.finish(StatusTerminated, nil, reason) {
		return nil
	}
	inst.cancel()

	b.mu.Lock()
	d := b.dispatcher
	b.mu.Unlock()
	if d == nil {
		return nil
	}
	return d.ReleaseInstance(ctx, id)
}

func (b *Backend) instance(id string) (*instance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	inst, ok := b.instances[id]
	if !ok {
		return nil, taskscope.NewError(taskscope.ErrScopeNotFound, "unknown orchestration instance", nil, map[string]any{
			"instance_key": id,
		})
	}
	return inst, nil
}

// run drives the replay episodes of one instance. Every episode re-runs the
// orchestration from the start; activity results recorded by the first
// episode are replayed in later ones.
func (b *Backend) run(ctx context.Context, d worker.Dispatcher, inst *instance) {
	state := inst.snapshot()
	logger := taskscope.WithLoggerFields(b.logger, map[string]any{
		"instance_key": state.ID,
		"handler":      state.Name,
	})

	inst.mu.Lock()
	inst.state.Status = StatusRunning
	inst.mu.Unlock()

	for episode := 0; episode <= b.replays; episode++ {
		final := episode == b.replays
		ep := &episodeState{
			backend:    d,
			instance:   inst,
			instanceID: state.ID,
		}
		inst.mu.Lock()
		inst.state.Episodes = episode + 1
		inst.mu.Unlock()

		exec, err := d.DispatchOrchestration(withEpisode(ctx, ep), worker.OrchestrationRequest{
			Name:        state.Name,
			Version:     state.Version,
			InstanceKey: state.ID,
			Input:       inst.input,
			Replay:      episode > 0,
			Final:       final,
		})
		if err != nil {
			logger.Error("episode %d dispatch failed: %v", episode, err)
			if exec != nil {
				b.awaitCleanup(ctx, exec)
			}
			inst.finish(StatusFailed, nil, err)
			return
		}

		output, runErr := exec.Result.Await(ctx)
		if ctx.Err() != nil && !exec.Result.IsResolved() {
			// terminated or backend stopped while the episode was running
			inst.finish(StatusTerminated, nil, ctx.Err())
			return
		}

		if final || runErr != nil {
			if !final {
				if err := d.ReleaseInstance(context.WithoutCancel(ctx), state.ID); err != nil {
					logger.Error("release after failed episode: %v", err)
				}
			}
			if cleanupErr := b.awaitCleanup(ctx, exec); cleanupErr != nil {
				runErr = stderrors.Join(runErr, cleanupErr)
			}
			if runErr != nil {
				logger.Warn("orchestration failed after %d episodes: %v", episode+1, runErr)
				inst.finish(StatusFailed, output, runErr)
				return
			}
			logger.Debug("orchestration completed after %d episodes", episode+1)
			inst.finish(StatusCompleted, output, nil)
			return
		}
	}
}

func (b *Backend) awaitCleanup(ctx context.Context, exec *worker.Execution) error {
	if exec.Cleanup == nil {
		return nil
	}
	_, err := exec.Cleanup.Await(context.WithoutCancel(ctx))
	return err
}
