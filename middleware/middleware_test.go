package middleware

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	taskscope "github.com/goliatone/go-taskscope"
	"github.com/goliatone/go-taskscope/container"
	"github.com/goliatone/go-taskscope/pipeline"
	"github.com/goliatone/go-taskscope/scope"
)

var errActivity = errors.New("activity failed")

func newContainer(t *testing.T) *container.Container {
	t.Helper()
	c := container.New()
	require.NoError(t, c.Register(taskscope.Simple("Echo"), func(ctx context.Context, r taskscope.Resolver) (any, error) {
		return taskscope.ActivityFunc(func(ctx context.Context, input any) (any, error) {
			return input, nil
		}), nil
	}, taskscope.LifetimeTransient))
	require.NoError(t, c.Register(taskscope.Simple("Fail"), func(ctx context.Context, r taskscope.Resolver) (any, error) {
		return taskscope.ActivityFunc(func(ctx context.Context, input any) (any, error) {
			return nil, errActivity
		}), nil
	}, taskscope.LifetimeTransient))
	require.NoError(t, c.Register(taskscope.Simple("Panic"), func(ctx context.Context, r taskscope.Resolver) (any, error) {
		return taskscope.ActivityFunc(func(ctx context.Context, input any) (any, error) {
			panic("bad input")
		}), nil
	}, taskscope.LifetimeTransient))
	return c
}

func dispatch(name, key string) *pipeline.DispatchContext {
	identity := taskscope.Simple(name)
	return &pipeline.DispatchContext{
		Kind:         taskscope.KindActivity,
		Name:         name,
		InstanceKey:  key,
		Input:        "payload",
		ReleaseScope: true,
		Descriptor: taskscope.NewActivity(identity, func(ctx context.Context, r taskscope.Resolver) (any, error) {
			return r.Resolve(ctx, identity)
		}),
		Deferred: taskscope.NewDeferredActivity(identity),
	}
}

func run(t *testing.T, m *scope.Manager, p *pipeline.Pipeline, dc *pipeline.DispatchContext) error {
	t.Helper()
	err := p.Run(context.Background(), dc)
	_, derr := m.SafeDispose(dc.InstanceKey).Await(context.Background())
	require.NoError(t, derr)
	return err
}

func TestMetricsStageAndObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics("taskscope", reg)
	require.NoError(t, err)

	m := scope.NewManager(scope.WithObserver(metrics))
	p, err := pipeline.New(pipeline.Compose(m, newContainer(t), pipeline.Singleton("metrics", metrics)))
	require.NoError(t, err)

	require.NoError(t, run(t, m, p, dispatch("Echo", "a")))
	require.NoError(t, run(t, m, p, dispatch("Echo", "b")))
	require.ErrorIs(t, run(t, m, p, dispatch("Fail", "c")), errActivity)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.dispatches.WithLabelValues("activity", "Echo", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.dispatches.WithLabelValues("activity", "Fail", "error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.liveScopes))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.disposedScopes.WithLabelValues("success")))

	_, err = NewMetrics("taskscope", reg)
	assert.True(t, taskscope.HasCode(err, taskscope.ErrCodeConfigInvalid))
}

func TestRecoveryReportsPanic(t *testing.T) {
	var (
		mu       sync.Mutex
		reported []any
	)
	recovery := NewRecovery(func(funcName string, err any, stack []byte, fields ...map[string]any) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, err)
	})

	m := scope.NewManager()
	p, err := pipeline.New(pipeline.Compose(m, newContainer(t), pipeline.Singleton("recovery", recovery)))
	require.NoError(t, err)

	dc := dispatch("Panic", "p-1")
	err = run(t, m, p, dc)
	require.Error(t, err)
	assert.True(t, taskscope.HasCode(err, taskscope.ErrCodeDispatchPanic))
	assert.Equal(t, []any{"bad input"}, reported)
	assert.Equal(t, 0, m.Len())
}

func TestLoggingStage(t *testing.T) {
	buf := &bytes.Buffer{}
	logging := NewLogging(taskscope.NewFmtLogger(buf))

	m := scope.NewManager()
	p, err := pipeline.New(pipeline.Compose(m, newContainer(t), pipeline.Singleton("logging", logging)))
	require.NoError(t, err)

	require.NoError(t, run(t, m, p, dispatch("Echo", "log-1")))
	require.Error(t, run(t, m, p, dispatch("Fail", "log-2")))

	out := buf.String()
	assert.Contains(t, out, "dispatch completed")
	assert.Contains(t, out, "instance_key=log-1")
	assert.Contains(t, out, "dispatch failed")
	assert.Contains(t, out, "activity failed")
	assert.Contains(t, out, "handler=Fail")
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	breaker := NewCircuitBreaker(BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          time.Minute,
		FailureThreshold: 0.5,
		MinRequests:      2,
	}, nil)

	m := scope.NewManager()
	p, err := pipeline.New(pipeline.Compose(m, newContainer(t), pipeline.Singleton("breaker", breaker)))
	require.NoError(t, err)

	require.ErrorIs(t, run(t, m, p, dispatch("Fail", "f-1")), errActivity)
	require.ErrorIs(t, run(t, m, p, dispatch("Fail", "f-2")), errActivity)
	assert.Equal(t, gobreaker.StateOpen, breaker.State(taskscope.KindActivity, "Fail", ""))

	err = run(t, m, p, dispatch("Fail", "f-3"))
	require.Error(t, err)
	assert.True(t, taskscope.HasCode(err, ErrCodeCircuitOpen))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)

	// other handlers keep their own breaker
	require.NoError(t, run(t, m, p, dispatch("Echo", "e-1")))
	assert.Equal(t, gobreaker.StateClosed, breaker.State(taskscope.KindActivity, "Echo", ""))
}
