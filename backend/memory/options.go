package memory

import taskscope "github.com/goliatone/go-taskscope"

// Option configures a Backend.
type Option func(*Backend)

// WithReplays sets how many replay episodes run before the final episode
// of every instance.
func WithReplays(n int) Option {
	return func(b *Backend) {
		if n < 0 {
			n = 0
		}
		b.replays = n
	}
}

func WithLogger(logger taskscope.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// WithConfig applies the backend section of the worker configuration.
func WithConfig(cfg taskscope.Config) Option {
	return WithReplays(cfg.Backend.Replays)
}
