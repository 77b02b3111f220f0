package middleware

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/goliatone/go-errors"
	"github.com/sony/gobreaker"

	taskscope "github.com/goliatone/go-taskscope"
	"github.com/goliatone/go-taskscope/pipeline"
)

const ErrCodeCircuitOpen = "CIRCUIT_OPEN"

var ErrCircuitOpen = apperrors.New("handler circuit is open", apperrors.CategoryExternal).
	WithTextCode(ErrCodeCircuitOpen)

// BreakerConfig configures the per handler circuit breakers.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns conservative breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// CircuitBreaker rejects dispatches to a handler that keeps failing. Each
// (kind, name, version) gets its own breaker.
type CircuitBreaker struct {
	config   BreakerConfig
	logger   taskscope.Logger
	breakers sync.Map
}

// NewCircuitBreaker returns a breaker stage.
func NewCircuitBreaker(config BreakerConfig, logger taskscope.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		config: config,
		logger: taskscope.NormalizeLogger(logger),
	}
}

func (c *CircuitBreaker) Handle(ctx context.Context, dc *pipeline.DispatchContext, next pipeline.Next) error {
	cb := c.breaker(dc)

	var inner error
	_, err := cb.Execute(func() (any, error) {
		inner = next(ctx)
		return nil, inner
	})
	if inner != nil {
		return inner
	}
	if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		return taskscope.NewError(ErrCircuitOpen, "", err, dc.Fields())
	}
	return err
}

// State returns the breaker state for a handler.
func (c *CircuitBreaker) State(kind taskscope.HandlerKind, name, version string) gobreaker.State {
	v, ok := c.breakers.Load(breakerName(kind, name, version))
	if !ok {
		return gobreaker.StateClosed
	}
	return v.(*gobreaker.CircuitBreaker).State()
}

func (c *CircuitBreaker) breaker(dc *pipeline.DispatchContext) *gobreaker.CircuitBreaker {
	name := breakerName(dc.Kind, dc.Name, dc.Version)
	if v, ok := c.breakers.Load(name); ok {
		return v.(*gobreaker.CircuitBreaker)
	}

	cfg := c.config
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker %s changed from %s to %s", name, from, to)
		},
	})
	v, _ := c.breakers.LoadOrStore(name, cb)
	return v.(*gobreaker.CircuitBreaker)
}

func breakerName(kind taskscope.HandlerKind, name, version string) string {
	if version == "" {
		return fmt.Sprintf("%s:%s", kind, name)
	}
	return fmt.Sprintf("%s:%s@%s", kind, name, version)
}
