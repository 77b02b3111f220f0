package middleware

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	taskscope "github.com/goliatone/go-taskscope"
	"github.com/goliatone/go-taskscope/pipeline"
)

const (
	outcomeSuccess = "success"
	outcomeError   = "error"
)

// Metrics records dispatch and scope metrics. It is both a pipeline stage
// and a scope.Observer.
type Metrics struct {
	dispatches     *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	liveScopes     prometheus.Gauge
	disposedScopes *prometheus.CounterVec
	scopeLifetime  prometheus.Histogram
}

// NewMetrics creates the collectors under namespace and registers them
// with reg. A nil reg skips registration.
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatches_total",
				Help:      "Total number of handler dispatches",
			},
			[]string{"kind", "handler", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Time spent in the dispatch pipeline",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind", "handler"},
		),
		liveScopes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scopes_live",
				Help:      "Number of execution scopes currently registered",
			},
		),
		disposedScopes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scopes_disposed_total",
				Help:      "Total number of disposed execution scopes",
			},
			[]string{"outcome"},
		),
		scopeLifetime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scope_lifetime_seconds",
				Help:      "Time between scope creation and disposal",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	if reg != nil {
		for _, c := range m.Collectors() {
			if err := reg.Register(c); err != nil {
				return nil, taskscope.NewError(taskscope.ErrConfigInvalid, "register metrics collector", err, map[string]any{
					"namespace": namespace,
				})
			}
		}
	}
	return m, nil
}

// Collectors returns every collector owned by m.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.dispatches,
		m.duration,
		m.liveScopes,
		m.disposedScopes,
		m.scopeLifetime,
	}
}

func (m *Metrics) Handle(ctx context.Context, dc *pipeline.DispatchContext, next pipeline.Next) error {
	start := time.Now()
	err := next(ctx)

	kind := dc.Kind.String()
	m.duration.WithLabelValues(kind, dc.Name).Observe(time.Since(start).Seconds())
	m.dispatches.WithLabelValues(kind, dc.Name, outcome(err)).Inc()
	return err
}

func (m *Metrics) ScopeCreated(string) {
	m.liveScopes.Inc()
}

func (m *Metrics) ScopeDisposed(_ string, lifetime time.Duration, err error) {
	m.liveScopes.Dec()
	m.disposedScopes.WithLabelValues(outcome(err)).Inc()
	m.scopeLifetime.Observe(lifetime.Seconds())
}

func outcome(err error) string {
	if err != nil {
		return outcomeError
	}
	return outcomeSuccess
}
