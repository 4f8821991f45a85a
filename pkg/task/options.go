package task

import (
	"context"
	"time"

	"github.com/evkernel/evkernel/pkg/retrystrategy"
	"github.com/evkernel/evkernel/pkg/statemachine"
)

// Handler processes one execution. It must honor ctx cancellation promptly.
type Handler func(ctx context.Context) (any, error)

// Options configures a single Task. Zero value means no timeout, no
// retries, and every error is treated as non-retryable.
type Options struct {
	ID   string
	Name string

	Timeout time.Duration

	MaxRetries int
	// RetryDelay computes the sleep before a given 1-based retry attempt.
	// Defaults to retrystrategy.Fixed(0) (no delay) when nil.
	RetryDelay retrystrategy.Func
	// IsRetryable decides whether a handler error should be retried.
	// Defaults to "never retry" when nil. Timeouts are always retryable
	// regardless of this function.
	IsRetryable func(err error) bool

	// Signal is the external cancellation handle. Defaults to
	// context.Background() (never cancelled) when nil.
	Signal context.Context

	OnStateChange func(statemachine.State)
	OnRetry       func(attempt int, err error)
	OnTimeout     func(timeout time.Duration)
	OnCancel      func()

	// ThrowOnError is not read by Task, whose Run returns the terminal error
	// either way; the EventBus reads it to decide whether Emit returns a
	// failed task's error instead of only recording it in the results.
	ThrowOnError bool
}

func (o Options) signal() context.Context {
	if o.Signal == nil {
		return context.Background()
	}
	return o.Signal
}

func (o Options) retryDelay() retrystrategy.Func {
	if o.RetryDelay == nil {
		return retrystrategy.Fixed(0)
	}
	return o.RetryDelay
}

func (o Options) isRetryable(err error) bool {
	if o.IsRetryable == nil {
		return false
	}
	return o.IsRetryable(err)
}
