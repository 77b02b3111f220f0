package worker

import (
	taskscope "github.com/goliatone/go-taskscope"
	"github.com/goliatone/go-taskscope/registry"
	"github.com/goliatone/go-taskscope/scope"
)

// Option configures a Builder.
type Option func(*Builder)

func WithLogger(logger taskscope.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

// WithContainer sets the dependency container handlers resolve from. When
// c also implements taskscope.Registrar, registered handlers are added to it.
func WithContainer(c taskscope.Container) Option {
	return func(b *Builder) {
		b.container = c
		if r, ok := c.(taskscope.Registrar); ok {
			b.registrar = r
		} else {
			b.registrar = nil
		}
	}
}

func WithConfig(cfg taskscope.Config) Option {
	return func(b *Builder) {
		b.config = cfg
	}
}

func WithRegistry(r *registry.Registry) Option {
	return func(b *Builder) {
		b.registry = r
	}
}

func WithScopeManager(m *scope.Manager) Option {
	return func(b *Builder) {
		b.manager = m
	}
}

func WithBackend(backend Backend) Option {
	return func(b *Builder) {
		b.backend = backend
	}
}
