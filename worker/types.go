package worker

import (
	"context"
	"fmt"

	taskscope "github.com/goliatone/go-taskscope"
)

// Backend is the orchestration engine side of a worker. It receives the
// dispatcher on Start and calls it for every activity and orchestration
// episode it executes.
type Backend interface {
	Start(ctx context.Context, d Dispatcher) error
	Stop(ctx context.Context) error
}

// Dispatcher is what a backend calls into.
type Dispatcher interface {
	DispatchActivity(ctx context.Context, req ActivityRequest) (any, error)
	DispatchOrchestration(ctx context.Context, req OrchestrationRequest) (*Execution, error)
	ReleaseInstance(ctx context.Context, instanceKey string) error
}

// ActivityRequest asks for one activity execution on behalf of an
// orchestration instance.
type ActivityRequest struct {
	Name        string
	Version     string
	InstanceKey string
	Sequence    int
	Input       any
}

// ScopeKey returns the scope key of the activity execution.
func (r ActivityRequest) ScopeKey() string {
	return fmt.Sprintf("%s/activity/%d", r.InstanceKey, r.Sequence)
}

// OrchestrationRequest asks for one orchestration episode.
type OrchestrationRequest struct {
	Name        string
	Version     string
	InstanceKey string
	Input       any
	// Replay is set for every episode after the first one of an instance.
	Replay bool
	// Final is set on the episode after which the instance is done.
	Final bool
}

// Execution is the outcome of an orchestration dispatch. Result is the
// in-flight orchestration result. Cleanup resolves once the instance scope
// work scheduled by this dispatch has finished.
type Execution struct {
	Result  *taskscope.Future
	Cleanup *taskscope.Future
}
