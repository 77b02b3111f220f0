package registry

import (
	"sort"
	"sync"
	"sync/atomic"

	taskscope "github.com/goliatone/go-taskscope"
)

// Key identifies a registration. Names and versions compare case sensitively.
type Key struct {
	Kind    taskscope.HandlerKind
	Name    string
	Version string
}

// Registration is one handler entry. It creates deferred handlers; the real
// handler is resolved later from a dispatch scope.
type Registration struct {
	Descriptor taskscope.HandlerDescriptor
}

// Create returns a deferred handler for the registered identity. Generic
// definitions cannot be created directly.
func (r *Registration) Create() (taskscope.Deferred, error) {
	if r.Descriptor.IsGeneric() {
		return nil, taskscope.NewError(taskscope.ErrHandlerGenericDefinition, "", nil, map[string]any{
			"name":    r.Descriptor.Name,
			"version": r.Descriptor.Version,
		})
	}
	return newDeferred(r.Descriptor.Kind, r.Descriptor.Identity), nil
}

// CreateClosed returns a deferred handler for the closed form of a generic
// registration named by closedName, for example "Cache[Int]".
func (r *Registration) CreateClosed(closedName string) (taskscope.Deferred, error) {
	identity, err := r.closedIdentity(closedName)
	if err != nil {
		return nil, err
	}
	return newDeferred(r.Descriptor.Kind, identity), nil
}

func (r *Registration) closedIdentity(closedName string) (taskscope.TypeName, error) {
	meta := map[string]any{
		"name":       closedName,
		"definition": r.Descriptor.Name,
		"version":    r.Descriptor.Version,
	}
	if !r.Descriptor.IsGeneric() {
		return taskscope.TypeName{}, taskscope.NewError(taskscope.ErrHandlerNotFound, "registration is not generic", nil, meta)
	}
	closed, err := taskscope.Decode(closedName)
	if err != nil {
		return taskscope.TypeName{}, taskscope.NewError(taskscope.ErrHandlerNotFound, "closed handler name is malformed", err, meta)
	}
	identity, err := r.Descriptor.Identity.Close(closed.Args...)
	if err != nil {
		return taskscope.TypeName{}, taskscope.NewError(taskscope.ErrHandlerNotFound, "closed handler name does not fit the definition", err, meta)
	}
	return identity, nil
}

func newDeferred(kind taskscope.HandlerKind, identity taskscope.TypeName) taskscope.Deferred {
	if kind == taskscope.KindOrchestration {
		return taskscope.NewDeferredOrchestration(identity)
	}
	return taskscope.NewDeferredActivity(identity)
}

// Stats reports resolution cache usage. Resolutions before Seal are
// counted as misses and never cached.
type Stats struct {
	Registrations int
	Cached        int
	Hits          uint64
	Misses        uint64
}

// plan is a cached resolution: which registration serves a key and with
// which concrete identity.
type plan struct {
	reg      *Registration
	identity taskscope.TypeName
}

// Registry maps (kind, name, version) to handler registrations.
type Registry struct {
	mu      sync.RWMutex
	entries map[Key]*Registration
	sealed  bool

	cache  sync.Map
	cached atomic.Int64
	hits   atomic.Uint64
	misses atomic.Uint64

	logger taskscope.Logger
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[Key]*Registration),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.logger = taskscope.NormalizeLogger(r.logger)
	return r
}

// Add validates desc and registers it.
func (r *Registry) Add(desc taskscope.HandlerDescriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}

	key := Key{Kind: desc.Kind, Name: desc.Name, Version: desc.Version}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return taskscope.NewError(taskscope.ErrRegistrySealed, "cannot register handlers after the worker was built", nil, map[string]any{
			"name":    desc.Name,
			"version": desc.Version,
		})
	}
	if _, exists := r.entries[key]; exists {
		return taskscope.NewError(taskscope.ErrHandlerDuplicate, "", nil, map[string]any{
			"kind":    desc.Kind.String(),
			"name":    desc.Name,
			"version": desc.Version,
		})
	}
	r.entries[key] = &Registration{Descriptor: desc}
	r.logger.Debug("handler registered %s", desc)
	return nil
}

// Seal stops further registrations.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether Seal was called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Lookup returns the registration stored under the exact key.
func (r *Registry) Lookup(kind taskscope.HandlerKind, name, version string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[Key{Kind: kind, Name: name, Version: version}]
	return reg, ok
}

// Resolve returns a new deferred handler for (name, version). A direct
// registration wins; otherwise a closed generic name such as "Cache[Int]"
// is matched against its open definition "Cache`1". The boolean is false
// when nothing matches, which is not an error.
func (r *Registry) Resolve(kind taskscope.HandlerKind, name, version string) (taskscope.Deferred, bool, error) {
	d, _, found, err := r.ResolveDescriptor(kind, name, version)
	return d, found, err
}

// ResolveDescriptor is Resolve that also returns the descriptor of the
// matching registration.
func (r *Registry) ResolveDescriptor(kind taskscope.HandlerKind, name, version string) (taskscope.Deferred, taskscope.HandlerDescriptor, bool, error) {
	key := Key{Kind: kind, Name: name, Version: version}

	// entries are immutable once sealed, so only then are plans cached
	sealed := r.Sealed()
	if sealed {
		if v, ok := r.cache.Load(key); ok {
			r.hits.Add(1)
			p := v.(plan)
			return newDeferred(kind, p.identity), p.reg.Descriptor, true, nil
		}
	}
	r.misses.Add(1)

	if reg, ok := r.Lookup(kind, name, version); ok {
		d, err := reg.Create()
		if err != nil {
			return nil, reg.Descriptor, true, err
		}
		if sealed {
			r.store(key, plan{reg: reg, identity: reg.Descriptor.Identity})
		}
		return d, reg.Descriptor, true, nil
	}

	var none taskscope.HandlerDescriptor
	openName, ok := taskscope.TryGetOpenGenericName(name)
	if !ok {
		return nil, none, false, nil
	}
	reg, ok := r.Lookup(kind, openName, version)
	if !ok {
		return nil, none, false, nil
	}
	identity, err := reg.closedIdentity(name)
	if err != nil {
		return nil, none, false, err
	}
	if sealed {
		r.store(key, plan{reg: reg, identity: identity})
	}
	return newDeferred(kind, identity), reg.Descriptor, true, nil
}

func (r *Registry) store(key Key, p plan) {
	if _, loaded := r.cache.LoadOrStore(key, p); !loaded {
		r.cached.Add(1)
	}
}

// Handlers returns every registered descriptor ordered by kind, name and version.
func (r *Registry) Handlers() []taskscope.HandlerDescriptor {
	r.mu.RLock()
	out := make([]taskscope.HandlerDescriptor, 0, len(r.entries))
	for _, reg := range r.entries {
		out = append(out, reg.Descriptor)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version < out[j].Version
	})
	return out
}

// Len returns the number of registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Stats returns resolution counters.
func (r *Registry) Stats() Stats {
	return Stats{
		Registrations: r.Len(),
		Cached:        int(r.cached.Load()),
		Hits:          r.hits.Load(),
		Misses:        r.misses.Load(),
	}
}
