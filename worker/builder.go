package worker

import (
	"sync"

	taskscope "github.com/goliatone/go-taskscope"
	"github.com/goliatone/go-taskscope/container"
	"github.com/goliatone/go-taskscope/pipeline"
	"github.com/goliatone/go-taskscope/registry"
	"github.com/goliatone/go-taskscope/scope"
)

// Builder collects handler and middleware registrations and produces a
// Worker bound to an execution backend.
type Builder struct {
	mu         sync.Mutex
	registry   *registry.Registry
	container  taskscope.Container
	registrar  taskscope.Registrar
	manager    *scope.Manager
	backend    Backend
	config     taskscope.Config
	logger     taskscope.Logger
	stages     []pipeline.StageDescriptor
	identities map[string]bool
	built      bool
}

// NewBuilder returns a builder. Without WithContainer an in-process
// container is used.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		config:     taskscope.DefaultConfig(),
		identities: make(map[string]bool),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	b.logger = taskscope.NormalizeLogger(b.logger)

	if b.container == nil {
		c := container.New(container.WithLogger(b.logger))
		b.container = c
		b.registrar = c
	}
	if b.registry == nil {
		b.registry = registry.New(registry.WithLogger(b.logger))
	}
	if b.manager == nil {
		b.manager = scope.NewManager(scope.WithLogger(b.logger))
	}
	return b
}

// Register adds handler descriptors. Handlers that are not built by a
// factory are also registered in the container under their identity.
func (b *Builder) Register(descs ...taskscope.HandlerDescriptor) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, desc := range descs {
		if err := b.register(desc); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) register(desc taskscope.HandlerDescriptor) error {
	needsContainer := desc.Policy != taskscope.PolicyFactory
	identity := desc.Identity.String()

	if needsContainer && b.registrar == nil && !b.identities[identity] {
		return taskscope.NewError(taskscope.ErrDescriptorInvalid, "container does not accept registrations; use a factory policy", nil, map[string]any{
			"name":     desc.Name,
			"identity": identity,
		})
	}
	if err := b.registry.Add(desc); err != nil {
		return err
	}
	if !needsContainer || b.identities[identity] {
		return nil
	}

	lifetime := desc.Policy.Lifetime()
	var err error
	if desc.IsGeneric() {
		err = b.registrar.RegisterGeneric(desc.Identity, desc.Generic, lifetime)
	} else {
		err = b.registrar.Register(desc.Identity, desc.Constructor, lifetime)
	}
	if err != nil {
		return err
	}
	b.identities[identity] = true
	return nil
}

// RegisterMiddleware appends a user stage. User stages run after the scope
// and resolve stages, in registration order.
func (b *Builder) RegisterMiddleware(stages ...pipeline.StageDescriptor) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.built {
		return taskscope.NewError(taskscope.ErrRegistrySealed, "cannot register middleware after the worker was built", nil, nil)
	}
	for _, s := range stages {
		if err := s.Validate(); err != nil {
			return err
		}
		b.stages = append(b.stages, s)
	}
	return nil
}

// Use sets the execution backend.
func (b *Builder) Use(backend Backend) *Builder {
	b.mu.Lock()
	b.backend = backend
	b.mu.Unlock()
	return b
}

// Build seals the registrations and returns the worker.
func (b *Builder) Build() (*Worker, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.backend == nil {
		return nil, taskscope.NewError(taskscope.ErrBackendMissing, "", nil, nil)
	}
	if b.built {
		return nil, taskscope.NewError(taskscope.ErrRegistrySealed, "worker already built", nil, nil)
	}
	if err := b.config.Validate(); err != nil {
		return nil, err
	}

	p, err := pipeline.New(
		pipeline.Compose(b.manager, b.container, b.stages...),
		pipeline.WithLogger(b.logger),
	)
	if err != nil {
		return nil, err
	}

	b.registry.Seal()
	b.built = true

	return &Worker{
		registry: b.registry,
		manager:  b.manager,
		pipeline: p,
		backend:  b.backend,
		config:   b.config,
		logger:   b.logger,
	}, nil
}
