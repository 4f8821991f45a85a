package eventbus

import (
	"github.com/evkernel/evkernel/pkg/broadcast"
	"github.com/evkernel/evkernel/pkg/diagnostics"
	"github.com/evkernel/evkernel/pkg/observability"
	"github.com/evkernel/evkernel/pkg/store"
	"github.com/evkernel/evkernel/pkg/tag"
)

// Option configures a Bus at construction.
type Option func(*Bus)

// WithStore overrides the default in-memory EventStore.
func WithStore(s store.EventStore) Option {
	return func(b *Bus) { b.store = s }
}

// WithErrorHandler routes store/adapter/handler/middleware/migrator/cleanup
// failures that must never stop dispatch to handle, tagged by provenance.
// handle must never panic; the bus recovers around the call and logs the
// secondary failure instead of propagating it.
func WithErrorHandler(handle func(*tag.Error)) Option {
	return func(b *Bus) { b.errorHandler = handle }
}

// WithNodeID overrides the generated node_<random>_<timestampMs> id, mainly
// for tests that need a deterministic broadcast source identity.
func WithNodeID(id string) Option {
	return func(b *Bus) { b.nodeID = id }
}

// WithMaxHandlersPerEvent caps registry.Registry's handlers-per-event.
func WithMaxHandlersPerEvent(n int) Option {
	return func(b *Bus) { b.maxHandlersPerEvent = n }
}

// WithMaxMiddlewarePerEvent caps registry.Registry's middleware-per-event.
func WithMaxMiddlewarePerEvent(n int) Option {
	return func(b *Bus) { b.maxMiddlewarePerEvent = n }
}

// WithMaxRequeue caps how many times a DLQ record may be requeued. <= 0
// means unlimited.
func WithMaxRequeue(n int) Option {
	return func(b *Bus) { b.maxRequeue = n }
}

// WithMaxProcessedBroadcasts caps the inbound broadcast dedup set.
func WithMaxProcessedBroadcasts(n int) Option {
	return func(b *Bus) { b.maxProcessedBroadcasts = n }
}

// WithBroadcastAdapter registers a, the pluggable cross-instance transport.
// Names must be unique; a duplicate is logged and skipped rather than
// failing construction.
func WithBroadcastAdapter(a broadcast.Adapter) Option {
	return func(b *Bus) { b.pendingAdapters = append(b.pendingAdapters, a) }
}

// WithBroadcastFilter appends f to the inbound broadcast filter chain, run
// in registration order before a message is re-emitted locally.
func WithBroadcastFilter(f broadcast.Filter) Option {
	return func(b *Bus) { b.broadcastFilters = append(b.broadcastFilters, f) }
}

// WithDisableRetry forces every emitted task's retry count to 0 regardless
// of its taskOptions, the explicit configuration knob a test environment
// uses instead of an env-mode probe.
func WithDisableRetry(disable bool) Option {
	return func(b *Bus) { b.disableRetry = disable }
}

// WithDiagnostics routes per-handler scheduling/completion/failure counters
// into rec.
func WithDiagnostics(rec *diagnostics.Recorder) Option {
	return func(b *Bus) { b.diagnostics = rec }
}

// WithObservability sets the Observability facade the bus logs through.
// Defaults to a no-op provider.
func WithObservability(o11y observability.Observability) Option {
	return func(b *Bus) { b.o11y = o11y }
}
