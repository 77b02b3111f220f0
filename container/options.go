package container

import taskscope "github.com/goliatone/go-taskscope"

// Option configures a Container.
type Option func(*Container)

// WithLogger sets the container logger.
func WithLogger(logger taskscope.Logger) Option {
	return func(c *Container) {
		c.logger = logger
	}
}
