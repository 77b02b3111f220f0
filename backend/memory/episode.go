package memory

import (
	"context"
	"sync"

	taskscope "github.com/goliatone/go-taskscope"
	"github.com/goliatone/go-taskscope/worker"
)

type episodeKey struct{}

type episodeState struct {
	backend    worker.Dispatcher
	instance   *instance
	instanceID string

	mu  sync.Mutex
	seq int
}

func withEpisode(ctx context.Context, ep *episodeState) context.Context {
	return context.WithValue(ctx, episodeKey{}, ep)
}

// InstanceID returns the orchestration instance id carried by ctx.
func InstanceID(ctx context.Context) (string, bool) {
	ep, ok := ctx.Value(episodeKey{}).(*episodeState)
	if !ok {
		return "", false
	}
	return ep.instanceID, true
}

// IsReplaying reports whether the next CallActivity on ctx replays a
// recorded result instead of executing the activity.
func IsReplaying(ctx context.Context) bool {
	ep, ok := ctx.Value(episodeKey{}).(*episodeState)
	if !ok {
		return false
	}
	ep.mu.Lock()
	seq := ep.seq
	ep.mu.Unlock()

	ep.instance.mu.Lock()
	defer ep.instance.mu.Unlock()
	return seq < len(ep.instance.history)
}

// CallActivity runs an activity on behalf of the orchestration running in
// ctx. Results recorded by an earlier episode are replayed without running
// the activity again. Calls must be issued sequentially.
func CallActivity(ctx context.Context, name, version string, input any) (any, error) {
	ep, ok := ctx.Value(episodeKey{}).(*episodeState)
	if !ok {
		return nil, taskscope.NewError(taskscope.ErrScopeNotFound, "CallActivity requires an orchestration context", nil, map[string]any{
			"name": name,
		})
	}

	ep.mu.Lock()
	seq := ep.seq
	ep.seq++
	ep.mu.Unlock()

	inst := ep.instance
	inst.mu.Lock()
	if seq < len(inst.history) {
		recorded := inst.history[seq]
		inst.mu.Unlock()
		if recorded.name != name {
			return nil, taskscope.NewError(taskscope.ErrHandlerTypeMismatch, "orchestration replay diverged from history", nil, map[string]any{
				"instance_key": ep.instanceID,
				"sequence":     seq,
				"recorded":     recorded.name,
				"requested":    name,
			})
		}
		return recorded.output, recorded.err
	}
	inst.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	output, err := ep.backend.DispatchActivity(ctx, worker.ActivityRequest{
		Name:        name,
		Version:     version,
		InstanceKey: ep.instanceID,
		Sequence:    seq,
		Input:       input,
	})

	inst.mu.Lock()
	inst.history = append(inst.history, activityResult{name: name, output: output, err: err})
	inst.mu.Unlock()
	return output, err
}
