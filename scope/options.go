package scope

import taskscope "github.com/goliatone/go-taskscope"

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(logger taskscope.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithObserver reports scope lifecycle events to o.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		m.observer = o
	}
}
