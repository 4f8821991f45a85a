// Package memory provides an in-process Adapter backed by a process-wide
// singleton registry, for multi-bus tests and single-binary deployments
// that want broadcast fan-out without an external transport.
package memory

import (
	"context"
	"sync"

	"github.com/evkernel/evkernel/pkg/broadcast"
)

// Registry is a shared switchboard: every Adapter built from the same
// Registry observes every other Adapter's publishes, as if they were
// separate processes connected to the same broker.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]map[string]broadcast.Callback // channel -> adapterName -> callback
}

func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]map[string]broadcast.Callback)}
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// DefaultRegistry returns the process-wide singleton registry.
func DefaultRegistry() *Registry {
	defaultOnce.Do(func() { defaultReg = NewRegistry() })
	return defaultReg
}

// Adapter is a broadcast.Adapter backed by a Registry.
type Adapter struct {
	name string
	reg  *Registry
}

// New creates a named Adapter against reg. Use memory.DefaultRegistry() to
// share a switchboard across adapters constructed independently.
func New(name string, reg *Registry) *Adapter {
	return &Adapter{name: name, reg: reg}
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Publish(ctx context.Context, channel string, msg broadcast.Message) error {
	a.reg.mu.RLock()
	subscribers := a.reg.subs[channel]
	callbacks := make([]broadcast.Callback, 0, len(subscribers))
	for _, cb := range subscribers {
		callbacks = append(callbacks, cb)
	}
	a.reg.mu.RUnlock()

	for _, cb := range callbacks {
		// Adapters must tolerate subscriber callback errors and keep
		// delivering to others.
		_ = cb(ctx, msg)
	}
	return nil
}

func (a *Adapter) Subscribe(ctx context.Context, channel string, cb broadcast.Callback) error {
	a.reg.mu.Lock()
	defer a.reg.mu.Unlock()

	if a.reg.subs[channel] == nil {
		a.reg.subs[channel] = make(map[string]broadcast.Callback)
	}
	a.reg.subs[channel][a.name] = cb
	return nil
}

func (a *Adapter) Unsubscribe(ctx context.Context, channel string) error {
	a.reg.mu.Lock()
	defer a.reg.mu.Unlock()

	delete(a.reg.subs[channel], a.name)
	return nil
}
