package registry

import taskscope "github.com/goliatone/go-taskscope"

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger taskscope.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}
