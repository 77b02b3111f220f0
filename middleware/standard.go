package middleware

import (
	"github.com/prometheus/client_golang/prometheus"

	taskscope "github.com/goliatone/go-taskscope"
	"github.com/goliatone/go-taskscope/pipeline"
)

const (
	RecoveryStageName = "recovery"
	LoggingStageName  = "logging"
	MetricsStageName  = "metrics"
	BreakerStageName  = "breaker"
)

// Set is the standard stage list built from a worker configuration.
type Set struct {
	Stages  []pipeline.StageDescriptor
	Metrics *Metrics
	Breaker *CircuitBreaker
}

// Standard builds logging, metrics (when cfg.Metrics.Enabled), circuit
// breaking and panic recovery stages, in that order. Register Set.Metrics as the
// scope observer to also record scope lifetimes.
func Standard(cfg taskscope.Config, logger taskscope.Logger, reg prometheus.Registerer) (Set, error) {
	logger = taskscope.NormalizeLogger(logger)
	set := Set{
		Breaker: NewCircuitBreaker(DefaultBreakerConfig(), logger),
	}
	set.Stages = append(set.Stages, pipeline.Singleton(LoggingStageName, NewLogging(logger)))

	if cfg.Metrics.Enabled {
		m, err := NewMetrics(cfg.Metrics.Namespace, reg)
		if err != nil {
			return Set{}, err
		}
		set.Metrics = m
		set.Stages = append(set.Stages, pipeline.Singleton(MetricsStageName, m))
	}

	// recovery runs innermost; outer stages see panics as DISPATCH_PANIC errors
	set.Stages = append(set.Stages,
		pipeline.Singleton(BreakerStageName, set.Breaker),
		pipeline.Singleton(RecoveryStageName, NewRecovery(func(funcName string, err any, stack []byte, fields ...map[string]any) {
			l := logger
			if len(fields) > 0 {
				l = taskscope.WithLoggerFields(logger, fields[0])
			}
			l.Error("recovered panic in %s: %v\n%s", funcName, err, stack)
		})),
	)
	return set, nil
}
