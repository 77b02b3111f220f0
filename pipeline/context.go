package pipeline

import (
	"reflect"
	"sync"

	taskscope "github.com/goliatone/go-taskscope"
	"github.com/goliatone/go-taskscope/scope"
)

// DispatchContext carries one dispatch through the middleware chain.
type DispatchContext struct {
	Kind        taskscope.HandlerKind
	Name        string
	Version     string
	InstanceKey string
	Input       any

	// Replay reuses the live scope for InstanceKey instead of creating one.
	Replay bool
	// ReleaseScope marks the last dispatch of the scope. The caller disposes
	// the scope after this dispatch; earlier dispatches leave it live.
	ReleaseScope bool

	Descriptor taskscope.HandlerDescriptor
	Deferred   taskscope.Deferred
	Scope      *scope.Scope

	// Output holds the activity result.
	Output any
	// Result holds the in-flight orchestration result.
	Result *taskscope.Future

	mu      sync.RWMutex
	handler any
	props   map[string]any
	typed   map[reflect.Type]any
}

// Handler returns the current handler reference: the deferred handler until
// the resolve stage replaces it with the real one.
func (c *DispatchContext) Handler() any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.handler == nil {
		return c.Deferred
	}
	return c.handler
}

// SetHandler replaces the current handler reference.
func (c *DispatchContext) SetHandler(h any) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Fields returns logging correlation fields for the dispatch.
func (c *DispatchContext) Fields() map[string]any {
	return map[string]any{
		"instance_key": c.InstanceKey,
		"handler":      c.Name,
		"version":      c.Version,
		"kind":         c.Kind.String(),
		"release":      c.ReleaseScope,
	}
}

// SetProperty stores a typed value on the dispatch.
func SetProperty[T any](c *DispatchContext, key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.props == nil {
		c.props = make(map[string]any)
	}
	c.props[key] = value
}

// Property reads a typed value stored with SetProperty.
func Property[T any](c *DispatchContext, key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.props[key]
	if !ok {
		var zero T
		return zero, false
	}
	out, ok := v.(T)
	return out, ok
}

// Store keeps value on the dispatch keyed by its type T. A later Store of
// the same T replaces it.
func Store[T any](c *DispatchContext, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.typed == nil {
		c.typed = make(map[reflect.Type]any)
	}
	c.typed[reflect.TypeFor[T]()] = value
}

// Load returns the value stored for type T.
func Load[T any](c *DispatchContext) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.typed[reflect.TypeFor[T]()]
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}
