package dispatcher

import (
	"time"

	"github.com/evkernel/evkernel/pkg/diagnostics"
	"github.com/evkernel/evkernel/pkg/injector"
	"github.com/evkernel/evkernel/pkg/observability"
	"github.com/evkernel/evkernel/pkg/retrystrategy"
)

// NodeOptions configures the task a node's action runs in: timeout, retry
// count and backoff. Zero value means no timeout and no retries.
type NodeOptions struct {
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  retrystrategy.Func
	IsRetryable func(err error) bool
	OnRetry     func(attempt int, err error)
	OnTimeout   func(timeout time.Duration)
}

// Option configures a Dispatcher at construction.
type Option func(*Dispatcher)

// WithMiddleware appends middleware to the pipeline every node's action
// runs through, outermost first.
func WithMiddleware(mws ...Middleware) Option {
	return func(d *Dispatcher) { d.middlewares = append(d.middlewares, mws...) }
}

// WithDisableRetry forces every node's retry count to 0 regardless of its
// NodeOptions, the explicit configuration knob the test-environment retry
// guard is reproduced as.
func WithDisableRetry(disable bool) Option {
	return func(d *Dispatcher) { d.disableRetry = disable }
}

// WithDiagnostics routes lifecycle counters into rec.
func WithDiagnostics(rec *diagnostics.Recorder) Option {
	return func(d *Dispatcher) { d.diagnostics = rec }
}

// WithCloneStrategy overrides the injector's default deep-clone walk.
func WithCloneStrategy(strategy injector.CloneStrategy) Option {
	return func(d *Dispatcher) { d.cloneStrategy = strategy }
}

// WithObservability sets the Observability facade the dispatcher logs node
// skip/failure events through. Defaults to a no-op provider.
func WithObservability(o11y observability.Observability) Option {
	return func(d *Dispatcher) { d.o11y = o11y }
}
