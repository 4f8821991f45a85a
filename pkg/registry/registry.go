// Package registry implements HandlerRegistry: versioned handler
// registration, middleware chains, migrators, usage tracking and caps.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type handlerEntry struct {
	id         string
	handler    Handler
	version    int
	lastUsed   time.Time
	usageCount int64
}

type middlewareEntry struct {
	id         string
	mw         Middleware
	lastUsed   time.Time
	usageCount int64
}

// Thresholds configures Cleanup: entries whose lastUsed is older than the
// matching threshold are removed. A zero threshold disables cleanup for
// that kind.
type Thresholds struct {
	Handlers   time.Duration
	Middleware time.Duration
}

// Registry is the HandlerRegistry: a registrar of versioned handlers,
// middleware chains and migrators, all guarded against interleaved mutation
// and iteration per the shared-resource policy (mutation snapshots the
// table; dispatch never runs under the registry's lock).
type Registry struct {
	mu sync.RWMutex

	maxHandlersPerEvent   int
	maxMiddlewarePerEvent int

	handlers    map[string][]*handlerEntry
	middlewares map[string][]*middlewareEntry
	migrators   map[string]map[int]Migrator
}

// Option configures a Registry at construction.
type Option func(*Registry)

// WithMaxHandlersPerEvent caps the number of handlers per event name. 0
// (the default) means unlimited.
func WithMaxHandlersPerEvent(n int) Option {
	return func(r *Registry) { r.maxHandlersPerEvent = n }
}

// WithMaxMiddlewarePerEvent caps the number of middlewares per event name. 0
// (the default) means unlimited.
func WithMaxMiddlewarePerEvent(n int) Option {
	return func(r *Registry) { r.maxMiddlewarePerEvent = n }
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		handlers:    make(map[string][]*handlerEntry),
		middlewares: make(map[string][]*middlewareEntry),
		migrators:   make(map[string]map[int]Migrator),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// On registers handler for (name, version). version defaults to 1 when 0.
// Returns a registration id usable with Off.
func (r *Registry) On(name string, handler Handler, version int) (string, error) {
	if name == "" {
		return "", &Error{Op: "on", Message: "event name cannot be empty"}
	}
	if handler == nil {
		return "", &Error{Op: "on", Message: "handler cannot be nil"}
	}
	if version == 0 {
		version = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxHandlersPerEvent > 0 && len(r.handlers[name]) >= r.maxHandlersPerEvent {
		return "", &Error{Op: "on", Message: "max handlers per event exceeded"}
	}

	id := uuid.NewString()
	r.handlers[name] = append(r.handlers[name], &handlerEntry{
		id:      id,
		handler: handler,
		version: version,
	})
	return id, nil
}

// Off removes a handler registration by id. It is a no-op if the id is
// unknown.
func (r *Registry) Off(name, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.handlers[name]
	for i, e := range entries {
		if e.id == id {
			r.handlers[name] = append(entries[:i:i], entries[i+1:]...)
			if len(r.handlers[name]) == 0 {
				delete(r.handlers, name)
			}
			return
		}
	}
}

// Use registers middleware for name, in call order. Returns a registration
// id usable with OffMiddleware.
func (r *Registry) Use(name string, mw Middleware) (string, error) {
	if name == "" {
		return "", &Error{Op: "use", Message: "event name cannot be empty"}
	}
	if mw == nil {
		return "", &Error{Op: "use", Message: "middleware cannot be nil"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxMiddlewarePerEvent > 0 && len(r.middlewares[name]) >= r.maxMiddlewarePerEvent {
		return "", &Error{Op: "use", Message: "max middleware per event exceeded"}
	}

	id := uuid.NewString()
	r.middlewares[name] = append(r.middlewares[name], &middlewareEntry{id: id, mw: mw})
	return id, nil
}

// OffMiddleware removes a middleware registration by id.
func (r *Registry) OffMiddleware(name, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.middlewares[name]
	for i, e := range entries {
		if e.id == id {
			r.middlewares[name] = append(entries[:i:i], entries[i+1:]...)
			if len(r.middlewares[name]) == 0 {
				delete(r.middlewares, name)
			}
			return
		}
	}
}

// RegisterMigrator registers fn as the migrator taking (name, fromVersion)
// to fromVersion+1.
func (r *Registry) RegisterMigrator(name string, fromVersion int, fn Migrator) error {
	if name == "" {
		return &Error{Op: "register_migrator", Message: "event name cannot be empty"}
	}
	if fn == nil {
		return &Error{Op: "register_migrator", Message: "migrator cannot be nil"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.migrators[name] == nil {
		r.migrators[name] = make(map[int]Migrator)
	}
	r.migrators[name][fromVersion] = fn
	return nil
}

// GetHandlers returns a snapshot of handlers registered for (name, version),
// in insertion order, marking each as used.
func (r *Registry) GetHandlers(name string, version int) []Handler {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Handler
	now := time.Now()
	for _, e := range r.handlers[name] {
		if e.version == version {
			out = append(out, e.handler)
			e.lastUsed = now
			e.usageCount++
		}
	}
	return out
}

// GetMiddlewares returns a snapshot of middlewares registered for name, in
// registration order, marking each as used.
func (r *Registry) GetMiddlewares(name string) []Middleware {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Middleware, 0, len(r.middlewares[name]))
	now := time.Now()
	for _, e := range r.middlewares[name] {
		out = append(out, e.mw)
		e.lastUsed = now
		e.usageCount++
	}
	return out
}

// GetLatestVersion returns the highest version registered for name and
// whether any handler is registered at all.
func (r *Registry) GetLatestVersion(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	latest := 0
	for _, e := range r.handlers[name] {
		if e.version > latest {
			latest = e.version
		}
	}
	return latest, latest > 0
}

// Cleanup removes handler and middleware registrations whose lastUsed is
// older than the matching threshold. A never-used entry (zero lastUsed) is
// exempt, since it hasn't had a chance to age.
func (r *Registry) Cleanup(t Thresholds) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	if t.Handlers > 0 {
		for name, entries := range r.handlers {
			kept := entries[:0:0]
			for _, e := range entries {
				if e.lastUsed.IsZero() || now.Sub(e.lastUsed) < t.Handlers {
					kept = append(kept, e)
				}
			}
			if len(kept) == 0 {
				delete(r.handlers, name)
			} else {
				r.handlers[name] = kept
			}
		}
	}

	if t.Middleware > 0 {
		for name, entries := range r.middlewares {
			kept := entries[:0:0]
			for _, e := range entries {
				if e.lastUsed.IsZero() || now.Sub(e.lastUsed) < t.Middleware {
					kept = append(kept, e)
				}
			}
			if len(kept) == 0 {
				delete(r.middlewares, name)
			} else {
				r.middlewares[name] = kept
			}
		}
	}
}
