package scope

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"
	"time"

	taskscope "github.com/goliatone/go-taskscope"
)

// Observer is notified when scopes are created and disposed.
type Observer interface {
	ScopeCreated(key string)
	ScopeDisposed(key string, lifetime time.Duration, err error)
}

// Scope is the dependency scope of one logical execution.
type Scope struct {
	key     string
	handle  taskscope.ScopeHandle
	latch   *Latch
	created time.Time
}

// Key returns the instance key the scope belongs to.
func (s *Scope) Key() string { return s.key }

// Resolve builds id from the scope container.
func (s *Scope) Resolve(ctx context.Context, id taskscope.TypeName) (any, error) {
	return s.handle.Resolve(ctx, id)
}

// Done is closed once completion has been signaled.
func (s *Scope) Done() <-chan struct{} { return s.latch.Done() }

// Signaled reports whether completion has been signaled.
func (s *Scope) Signaled() bool { return s.latch.IsSet() }

// Manager keeps at most one live scope per instance key.
type Manager struct {
	mu     sync.Mutex
	scopes map[string]*Scope

	logger   taskscope.Logger
	observer Observer
	onPanic  func(funcName string, fields ...map[string]any)
}

// NewManager creates an empty manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		scopes: make(map[string]*Scope),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.logger = taskscope.NormalizeLogger(m.logger)
	m.onPanic = taskscope.MakePanicHandler(func(funcName string, err any, stack []byte, fields ...map[string]any) {
		logger := m.logger
		if len(fields) > 0 {
			logger = taskscope.WithLoggerFields(logger, fields[0])
		}
		logger.Error("recovered panic in %s: %v\n%s", funcName, err, stack)
	})
	return m
}

// Create opens a scope on c for key. It fails with SCOPE_ALREADY_EXISTS
// while another scope is live for the same key.
func (m *Manager) Create(key string, c taskscope.Container) (*Scope, error) {
	if c == nil {
		return nil, taskscope.NewError(taskscope.ErrDescriptorInvalid, "container cannot be nil", nil, map[string]any{
			"instance_key": key,
		})
	}
	if m.exists(key) {
		return nil, m.duplicate(key)
	}

	// scope construction can be slow so it runs outside the lock
	handle, err := c.CreateScope()
	if err != nil {
		return nil, err
	}
	s := &Scope{
		key:     key,
		handle:  handle,
		latch:   NewLatch(),
		created: time.Now(),
	}

	m.mu.Lock()
	if _, exists := m.scopes[key]; exists {
		m.mu.Unlock()
		if err := disposeHandle(key, handle); err != nil {
			m.logger.Warn("discarded scope dispose failed instance_key=%s: %v", key, err)
		}
		return nil, m.duplicate(key)
	}
	m.scopes[key] = s
	m.mu.Unlock()

	m.logger.Debug("scope created instance_key=%s", key)
	m.notifyCreated(key)
	return s, nil
}

func (m *Manager) notifyCreated(key string) {
	if m.observer == nil {
		return
	}
	defer m.onPanic("scope.ScopeCreated", map[string]any{"instance_key": key})
	m.observer.ScopeCreated(key)
}

func (m *Manager) notifyDisposed(key string, lifetime time.Duration, err error) {
	if m.observer == nil {
		return
	}
	defer m.onPanic("scope.ScopeDisposed", map[string]any{"instance_key": key})
	m.observer.ScopeDisposed(key, lifetime, err)
}

// disposeHandle turns a panic raised while disposing into a DISPATCH_PANIC error.
func disposeHandle(key string, handle taskscope.ScopeHandle) (err error) {
	defer taskscope.RecoverError("scope.Dispose", &err, map[string]any{"instance_key": key})
	return handle.Dispose()
}

func (m *Manager) exists(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.scopes[key]
	return ok
}

func (m *Manager) duplicate(key string) error {
	return taskscope.NewError(taskscope.ErrScopeExists, "", nil, map[string]any{
		"instance_key": key,
	})
}

// Get returns the live scope for key or SCOPE_NOT_FOUND.
func (m *Manager) Get(key string) (*Scope, error) {
	m.mu.Lock()
	s, ok := m.scopes[key]
	m.mu.Unlock()
	if !ok {
		return nil, taskscope.NewError(taskscope.ErrScopeNotFound, "", nil, map[string]any{
			"instance_key": key,
		})
	}
	return s, nil
}

// SignalCompletion marks the scope as finished. It is safe to call more
// than once.
func (m *Manager) SignalCompletion(s *Scope) {
	if s == nil {
		return
	}
	if s.latch.Set() {
		m.logger.Trace("scope completion signaled instance_key=%s", s.key)
	}
}

// SafeDispose removes the scope for key and disposes it once completion is
// signaled. The returned future resolves with the dispose error, or with a
// DISPATCH_PANIC error when disposal panics. When no scope is registered it
// resolves immediately. Waiting on the future with a deadline does not stop
// the disposal.
func (m *Manager) SafeDispose(key string) *taskscope.Future {
	m.mu.Lock()
	s, ok := m.scopes[key]
	if ok {
		delete(m.scopes, key)
	}
	m.mu.Unlock()

	if !ok {
		return taskscope.ResolvedFuture(nil, nil)
	}

	f := taskscope.NewFuture()
	go func() {
		<-s.latch.Done()
		err := disposeHandle(key, s.handle)
		defer f.Resolve(nil, err)

		lifetime := time.Since(s.created)
		if err != nil {
			m.logger.Error("scope dispose failed instance_key=%s: %v", key, err)
		} else {
			m.logger.Debug("scope disposed instance_key=%s lifetime=%s", key, lifetime)
		}
		m.notifyDisposed(key, lifetime, err)
	}()
	return f
}

// Len returns the number of live scopes.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.scopes)
}

// Keys returns the live instance keys in sorted order.
func (m *Manager) Keys() []string {
	m.mu.Lock()
	keys := make([]string, 0, len(m.scopes))
	for k := range m.scopes {
		keys = append(keys, k)
	}
	m.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Close signals and disposes every live scope and waits for the disposals
// until ctx is done.
func (m *Manager) Close(ctx context.Context) error {
	keys := m.Keys()
	pending := make([]*taskscope.Future, 0, len(keys))
	for _, key := range keys {
		if s, err := m.Get(key); err == nil {
			m.SignalCompletion(s)
		}
		pending = append(pending, m.SafeDispose(key))
	}

	var errs error
	for _, f := range pending {
		if _, err := f.Await(ctx); err != nil {
			errs = stderrors.Join(errs, err)
		}
	}
	return errs
}
