package cron

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	taskscope "github.com/goliatone/go-taskscope"
	"github.com/goliatone/go-taskscope/backend/memory"
	"github.com/goliatone/go-taskscope/worker"
)

type startCall struct {
	name    string
	version string
	input   any
}

type recordingScheduler struct {
	mu    sync.Mutex
	calls []startCall
	err   error
}

func (r *recordingScheduler) ScheduleOrchestration(_ context.Context, name, version string, input any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.calls = append(r.calls, startCall{name: name, version: version, input: input})
	return name + "-" + string(rune('0'+len(r.calls))), nil
}

func (r *recordingScheduler) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func waitDone(t *testing.T, h Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("expected handle completion")
	}
}

func TestScheduleAfterStartsOneInstance(t *testing.T) {
	target := &recordingScheduler{}
	starter := NewStarter(target)

	handle, err := starter.ScheduleAfter(50*time.Millisecond, "Report", "2", func(ctx context.Context, firedAt time.Time) (any, error) {
		return "payload", nil
	})
	if err != nil {
		t.Fatalf("schedule after: %v", err)
	}
	waitDone(t, handle)

	if status := handle.Status(); status != ScheduleStatusCompleted {
		t.Fatalf("expected completed status, got %s", status)
	}
	if got := target.count(); got != 1 {
		t.Fatalf("expected one start, got %d", got)
	}
	call := target.calls[0]
	if call.name != "Report" || call.version != "2" || call.input != "payload" {
		t.Fatalf("unexpected start %+v", call)
	}
	if ids := handle.Instances(); len(ids) != 1 || ids[0] != "Report-1" {
		t.Fatalf("expected recorded instance id, got %v", ids)
	}
	if starter.Len() != 0 {
		t.Fatalf("expected completed one-shot handle to be removed, got %d", starter.Len())
	}
}

func TestScheduleAtCancelPreventsStart(t *testing.T) {
	target := &recordingScheduler{}
	starter := NewStarter(target)

	handle, err := starter.ScheduleAt(time.Now().Add(250*time.Millisecond), "Report", "", nil)
	if err != nil {
		t.Fatalf("schedule at: %v", err)
	}
	handle.Cancel()
	waitDone(t, handle)

	time.Sleep(300 * time.Millisecond)
	if got := target.count(); got != 0 {
		t.Fatalf("expected zero starts after cancel, got %d", got)
	}
	if status := handle.Status(); status != ScheduleStatusCanceled {
		t.Fatalf("expected canceled status, got %s", status)
	}
}

func TestScheduleAfterReportsFailures(t *testing.T) {
	boom := errors.New("backend down")
	var reported []error
	var mu sync.Mutex
	starter := NewStarter(&recordingScheduler{err: boom}, WithErrorHandler(func(err error) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	}))

	handle, err := starter.ScheduleAfter(0, "Report", "", nil)
	if err != nil {
		t.Fatalf("schedule after: %v", err)
	}
	waitDone(t, handle)

	if status := handle.Status(); status != ScheduleStatusFailed {
		t.Fatalf("expected failed status, got %s", status)
	}
	if !errors.Is(handle.Err(), boom) {
		t.Fatalf("expected backend error, got %v", handle.Err())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 1 {
		t.Fatalf("expected one reported error, got %d", len(reported))
	}
}

func TestInputPanicIsRecovered(t *testing.T) {
	starter := NewStarter(&recordingScheduler{}, WithErrorHandler(func(error) {}))

	handle, err := starter.ScheduleAfter(0, "Report", "", func(ctx context.Context, firedAt time.Time) (any, error) {
		panic("bad input")
	})
	if err != nil {
		t.Fatalf("schedule after: %v", err)
	}
	waitDone(t, handle)

	if !taskscope.HasCode(handle.Err(), taskscope.ErrCodeDispatchPanic) {
		t.Fatalf("expected panic error, got %v", handle.Err())
	}
}

func TestScheduleCronCancelableHandle(t *testing.T) {
	target := &recordingScheduler{}
	starter := NewStarter(target)

	handle, err := starter.Schedule("@every 1s", "Report", "", nil)
	if err != nil {
		t.Fatalf("schedule cron: %v", err)
	}
	if err := starter.Start(context.Background()); err != nil {
		t.Fatalf("starter start: %v", err)
	}
	defer starter.Stop(context.Background())

	deadline := time.After(2500 * time.Millisecond)
	for target.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("expected at least one cron start")
		default:
			time.Sleep(20 * time.Millisecond)
		}
	}

	handle.Cancel()
	waitDone(t, handle)
	if status := handle.Status(); status != ScheduleStatusCanceled {
		t.Fatalf("expected canceled status, got %s", status)
	}
}

func TestStopMarksHandleStopped(t *testing.T) {
	starter := NewStarter(&recordingScheduler{})
	handle, err := starter.Schedule("@every 5s", "Report", "", nil)
	if err != nil {
		t.Fatalf("schedule cron: %v", err)
	}
	if err := starter.Start(context.Background()); err != nil {
		t.Fatalf("starter start: %v", err)
	}
	if err := starter.Stop(context.Background()); err != nil {
		t.Fatalf("starter stop: %v", err)
	}
	waitDone(t, handle)

	if status := handle.Status(); status != ScheduleStatusStopped {
		t.Fatalf("expected stopped status, got %s", status)
	}
}

func TestScheduleValidation(t *testing.T) {
	starter := NewStarter(&recordingScheduler{})

	if _, err := starter.Schedule("", "Report", "", nil); !taskscope.HasCode(err, taskscope.ErrCodeConfigInvalid) {
		t.Fatalf("expected empty expression error, got %v", err)
	}
	if _, err := starter.Schedule("not a cron", "Report", "", nil); !taskscope.HasCode(err, taskscope.ErrCodeConfigInvalid) {
		t.Fatalf("expected invalid expression error, got %v", err)
	}
	if _, err := starter.Schedule("@every 1s", "Bad[", "", nil); !taskscope.HasCode(err, taskscope.ErrCodeDescriptorInvalid) {
		t.Fatalf("expected invalid name error, got %v", err)
	}
	if _, err := NewStarter(nil).ScheduleAfter(0, "Report", "", nil); !taskscope.HasCode(err, taskscope.ErrCodeBackendMissing) {
		t.Fatalf("expected missing scheduler error, got %v", err)
	}
}

func TestStartsRunOnMemoryBackend(t *testing.T) {
	backend := memory.New()
	b := worker.NewBuilder().Use(backend)
	err := b.Register(taskscope.NewOrchestration(taskscope.Simple("Nightly"), func(ctx context.Context, r taskscope.Resolver) (any, error) {
		return taskscope.OrchestrationFunc(func(ctx context.Context, input any) (any, error) {
			return input, nil
		}), nil
	}))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	w, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("worker start: %v", err)
	}
	defer w.Stop(context.Background())

	starter := NewStarter(backend)
	handle, err := starter.ScheduleAfter(0, "Nightly", "", func(ctx context.Context, firedAt time.Time) (any, error) {
		return "run", nil
	})
	if err != nil {
		t.Fatalf("schedule after: %v", err)
	}
	waitDone(t, handle)

	ids := handle.Instances()
	if len(ids) != 1 {
		t.Fatalf("expected one instance, got %v", ids)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	state, err := backend.WaitForInstance(ctx, ids[0])
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if state.Status != memory.StatusCompleted || state.Output != "run" {
		t.Fatalf("unexpected instance state %+v", state)
	}
	if w.Scopes().Len() != 0 {
		t.Fatalf("expected no live scopes, got %d", w.Scopes().Len())
	}
}
