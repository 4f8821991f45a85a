package broadcast

import (
	"context"
	"fmt"
	"sync"
)

const DefaultChannel = "default"

// Options controls a single Publish call. Channels defaults to
// {DefaultChannel}. Publish does not read ExcludeSelf, and its zero value is
// false: self-exclusion is enforced only on the receiving end, by the
// excludeSelf argument each subscriber passes to Subscribe (the adapter
// itself is free to echo back to the publisher).
type Options struct {
	Channels    []string
	ExcludeSelf bool
}

// Manager deduplicates and fans out cross-instance broadcast messages
// across pluggable adapters. It owns the filter chain and the
// already-processed set; adapters are dumb transports.
type Manager struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	filters  []Filter
	dedup    *dedupSet
	nodeID   string
	onError  func(*Error)
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithErrorHandler routes adapter publish/subscribe failures to handle
// instead of silently dropping them. A panic raised by handle is recovered
// and discarded.
func WithErrorHandler(handle func(*Error)) Option {
	return func(m *Manager) { m.onError = handle }
}

// WithMaxProcessedBroadcasts caps the inbound dedup set (FIFO eviction).
func WithMaxProcessedBroadcasts(max int) Option {
	return func(m *Manager) { m.dedup = newDedupSet(max) }
}

// WithFilter appends a filter to the inbound chain, run in registration
// order.
func WithFilter(f Filter) Option {
	return func(m *Manager) { m.filters = append(m.filters, f) }
}

// New creates a Manager identified by nodeID (used for self-exclusion).
func New(nodeID string, opts ...Option) *Manager {
	m := &Manager{
		adapters: make(map[string]Adapter),
		dedup:    newDedupSet(0),
		nodeID:   nodeID,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterAdapter adds a, failing if its name is already registered.
func (m *Manager) RegisterAdapter(a Adapter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.adapters[a.Name()]; exists {
		return fmt.Errorf("broadcast: adapter %q already registered", a.Name())
	}
	m.adapters[a.Name()] = a
	return nil
}

// snapshotAdapters returns the current adapter set without holding the lock
// across publish/subscribe calls, per the shared-resource policy: mutation
// and iteration never interleave.
func (m *Manager) snapshotAdapters() []Adapter {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Adapter, 0, len(m.adapters))
	for _, a := range m.adapters {
		out = append(out, a)
	}
	return out
}

func (m *Manager) snapshotFilters() []Filter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Filter(nil), m.filters...)
}

// Publish fans msg out to every adapter for every selected channel. It
// returns immediately; delivery happens in the background and failures are
// routed to the error handler, never to the caller (spec.md §4.5: broadcast
// fan-out is not awaited).
func (m *Manager) Publish(ctx context.Context, msg Message, opts Options) {
	channels := opts.Channels
	if len(channels) == 0 {
		channels = []string{DefaultChannel}
	}

	adapters := m.snapshotAdapters()
	for _, a := range adapters {
		for _, channel := range channels {
			go func(a Adapter, channel string) {
				if err := a.Publish(ctx, channel, msg); err != nil {
					m.reportError(a.Name(), "Publish", err)
				}
			}(a, channel)
		}
	}
}

// Subscribe registers onMessage, wrapped with dedup/self-exclusion/filter
// handling, on every adapter for every channel.
func (m *Manager) Subscribe(ctx context.Context, channels []string, excludeSelf bool, onMessage Callback) error {
	if len(channels) == 0 {
		channels = []string{DefaultChannel}
	}

	adapters := m.snapshotAdapters()
	wrapped := m.wrapInbound(excludeSelf, onMessage)

	for _, a := range adapters {
		for _, channel := range channels {
			if err := a.Subscribe(ctx, channel, wrapped); err != nil {
				return &Error{Adapter: a.Name(), Op: "Subscribe", Err: err}
			}
		}
	}
	return nil
}

// wrapInbound applies dedup, self-exclusion, and the filter chain before
// delegating to onMessage, per spec.md §4.5's subscribeBroadcast steps.
func (m *Manager) wrapInbound(excludeSelf bool, onMessage Callback) Callback {
	return func(ctx context.Context, msg Message) error {
		if m.dedup.seenOrAdd(msg.key()) {
			return nil
		}
		if excludeSelf && msg.Source == m.nodeID {
			return nil
		}

		ok, err := runFilters(ctx, m.snapshotFilters(), msg)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		return onMessage(ctx, msg)
	}
}

// Unsubscribe removes channel's inbound registration from every adapter.
func (m *Manager) Unsubscribe(ctx context.Context, channels []string) {
	adapters := m.snapshotAdapters()
	for _, a := range adapters {
		for _, channel := range channels {
			if err := a.Unsubscribe(ctx, channel); err != nil {
				m.reportError(a.Name(), "Unsubscribe", err)
			}
		}
	}
}

// Disconnect tears down every adapter that implements Disconnector.
func (m *Manager) Disconnect(ctx context.Context) {
	for _, a := range m.snapshotAdapters() {
		if d, ok := a.(Disconnector); ok {
			if err := d.Disconnect(ctx); err != nil {
				m.reportError(a.Name(), "Disconnect", err)
			}
		}
	}
}

func (m *Manager) reportError(adapter, op string, err error) {
	if m.onError == nil {
		return
	}
	defer func() { _ = recover() }()
	m.onError(&Error{Adapter: adapter, Op: op, Err: err})
}
