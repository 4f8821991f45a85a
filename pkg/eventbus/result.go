package eventbus

import (
	"time"

	"github.com/evkernel/evkernel/pkg/statemachine"
)

// EmitOptions controls how one emission's handlers are scheduled.
type EmitOptions struct {
	// GlobalTimeout, if positive, races the whole emission against a
	// deadline; on expiry every outstanding handler task is cancelled and
	// Emit returns an EventTimeoutError alongside whatever results already
	// landed.
	GlobalTimeout time.Duration
	// Parallel selects concurrent scheduling (bounded by MaxConcurrency)
	// instead of the default serial, insertion-order scheduling.
	Parallel bool
	// StopOnError stops scheduling further handlers (serial) or cancels
	// pending ones (parallel) after the first handler error.
	StopOnError bool
	// MaxConcurrency caps in-flight handler tasks under Parallel. <= 0
	// means "all of them at once".
	MaxConcurrency int
}

// EmitResult is one handler's outcome within a single emission. Results are
// always reported in handler-index order, regardless of completion order
// under parallel scheduling.
type EmitResult struct {
	HandlerIndex int
	State        statemachine.State
	TraceID      string
	Result       any
	Error        error
}

// Err satisfies store.EmitOutcome, the minimal interface store.RequeueDLQ
// needs from an emission result. This is how the DLQ requeue path calls
// back into the bus without store importing eventbus.
func (r EmitResult) Err() error {
	return r.Error
}
