// Package task implements EventTask: a single handler invocation wrapped
// with timeout, retry, and cancellation discipline, observable through a
// statemachine.Machine.
package task

import (
	"context"
	"time"

	"github.com/evkernel/evkernel/pkg/statemachine"
)

type result struct {
	value any
	err   error
	// panicValue is set when the handler panicked instead of returning. It
	// is re-panicked in runAttempt's own goroutine, the one Run is called
	// from, rather than left to crash the detached handler goroutine it
	// actually occurred in.
	panicValue any
}

// Task is a single-shot execution envelope around one Handler.
type Task struct {
	opts    Options
	handler Handler
	machine *statemachine.Machine

	ran bool
}

// New creates a Task around handler with the given options. The task does
// nothing until Run is called.
func New(handler Handler, opts Options) *Task {
	t := &Task{opts: opts, handler: handler}
	t.machine = statemachine.New(func(s statemachine.State) {
		if t.opts.OnStateChange != nil {
			t.opts.OnStateChange(s)
		}
	})
	return t
}

// State returns the task's current statemachine state.
func (t *Task) State() statemachine.State {
	return t.machine.Current()
}

// Run executes the task to completion: success, timeout, cancellation, or
// exhausted retries. Run must be called at most once per Task.
func (t *Task) Run() (any, error) {
	if t.ran {
		return nil, &AlreadyRunningError{}
	}
	t.ran = true

	signal := t.opts.signal()

	if signal.Err() != nil {
		if t.opts.OnCancel != nil {
			t.opts.OnCancel()
		}
		t.machine.Transition(statemachine.Cancelled)
		return nil, &CancelledError{Reason: signal.Err()}
	}

	t.machine.Transition(statemachine.Running)

	totalAttempts := 1 + t.opts.MaxRetries
	if totalAttempts < 1 {
		totalAttempts = 1
	}

	for attempt := 1; attempt <= totalAttempts; attempt++ {
		value, err, timedOut := t.runAttempt(signal)

		if err == nil {
			t.machine.Transition(statemachine.Succeeded)
			return value, nil
		}

		if cancelErr, ok := err.(*CancelledError); ok {
			t.machine.Transition(statemachine.Cancelled)
			return nil, cancelErr
		}

		retryable := timedOut || t.opts.isRetryable(err)
		moreAttempts := attempt < totalAttempts

		if timedOut {
			t.machine.Transition(statemachine.Timeout)
		}

		if !retryable || !moreAttempts {
			t.machine.Transition(statemachine.Failed)
			return nil, err
		}

		t.machine.Transition(statemachine.Retrying)
		if t.opts.OnRetry != nil {
			t.opts.OnRetry(attempt, err)
		}

		if cancelled := t.sleep(signal, t.opts.retryDelay()(attempt)); cancelled != nil {
			t.machine.Transition(statemachine.Cancelled)
			return nil, cancelled
		}

		t.machine.Transition(statemachine.Running)
	}

	// Unreachable: the loop always returns by its last iteration.
	return nil, &CancelledError{}
}

// Options returns the task's configuration, for callers (EventBus) that
// need to read ThrowOnError or other options after construction.
func (t *Task) Options() Options {
	return t.opts
}

// runAttempt races one handler invocation against the composed
// cancellation source (external signal + per-attempt timeout).
func (t *Task) runAttempt(signal context.Context) (value any, err error, timedOut bool) {
	attemptCtx := signal
	var cancel context.CancelFunc
	if t.opts.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(signal, t.opts.Timeout)
	} else {
		attemptCtx, cancel = context.WithCancel(signal)
	}
	defer cancel()

	resultCh := make(chan result, 1)
	go func() {
		var r result
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.panicValue = p
				}
			}()
			r.value, r.err = t.handler(attemptCtx)
		}()
		resultCh <- r
	}()

	select {
	case r := <-resultCh:
		if r.panicValue != nil {
			panic(r.panicValue)
		}
		return r.value, r.err, false
	case <-attemptCtx.Done():
		if signal.Err() != nil {
			if t.opts.OnCancel != nil {
				t.opts.OnCancel()
			}
			return nil, &CancelledError{Reason: signal.Err()}, false
		}
		if t.opts.OnTimeout != nil {
			t.opts.OnTimeout(t.opts.Timeout)
		}
		return nil, &TimeoutError{Timeout: t.opts.Timeout.Milliseconds()}, true
	}
}

// sleep waits for d, or returns a CancelledError immediately if signal fires
// first. No busy loops: the wait is a single select over a timer and the
// signal's Done channel.
func (t *Task) sleep(signal context.Context, d time.Duration) *CancelledError {
	if d <= 0 {
		select {
		case <-signal.Done():
			return &CancelledError{Reason: signal.Err()}
		default:
			return nil
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-signal.Done():
		return &CancelledError{Reason: signal.Err()}
	}
}
