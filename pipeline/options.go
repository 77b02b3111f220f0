package pipeline

import taskscope "github.com/goliatone/go-taskscope"

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithLogger(logger taskscope.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}
