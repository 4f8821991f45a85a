// Package eventbus implements the EventBus: the top-level orchestrator
// gluing the HandlerRegistry, EventTask, the Store+DLQ, and the Broadcast
// Manager into a single emit/broadcast surface.
package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/evkernel/evkernel/pkg/broadcast"
	"github.com/evkernel/evkernel/pkg/diagnostics"
	"github.com/evkernel/evkernel/pkg/eventcontext"
	"github.com/evkernel/evkernel/pkg/observability"
	"github.com/evkernel/evkernel/pkg/observability/noop"
	"github.com/evkernel/evkernel/pkg/registry"
	"github.com/evkernel/evkernel/pkg/statemachine"
	"github.com/evkernel/evkernel/pkg/store"
	"github.com/evkernel/evkernel/pkg/tag"
	"github.com/evkernel/evkernel/pkg/task"
	"github.com/google/uuid"
)

// Bus is the EventBus: a registry of versioned handlers and middleware, a
// pluggable store with DLQ operations on top, and a broadcast manager for
// cross-instance fan-out.
type Bus struct {
	nodeID   string
	registry *registry.Registry
	store    store.EventStore
	dlq      *store.DLQ

	broadcastMgr *broadcast.Manager

	errorHandler func(*tag.Error)
	disableRetry bool
	diagnostics  *diagnostics.Recorder
	o11y         observability.Observability

	maxHandlersPerEvent    int
	maxMiddlewarePerEvent  int
	maxRequeue             int
	maxProcessedBroadcasts int
	pendingAdapters        []broadcast.Adapter
	broadcastFilters       []broadcast.Filter
}

// New creates a Bus. Its EventStore defaults to an in-memory one and its
// Observability to a no-op provider; both are overridable via options.
func New(opts ...Option) *Bus {
	b := &Bus{
		nodeID:     generateNodeID(),
		store:      store.NewMemoryStore(),
		o11y:       noop.NewProvider(),
		maxRequeue: 5,
	}
	for _, opt := range opts {
		opt(b)
	}

	var regOpts []registry.Option
	if b.maxHandlersPerEvent > 0 {
		regOpts = append(regOpts, registry.WithMaxHandlersPerEvent(b.maxHandlersPerEvent))
	}
	if b.maxMiddlewarePerEvent > 0 {
		regOpts = append(regOpts, registry.WithMaxMiddlewarePerEvent(b.maxMiddlewarePerEvent))
	}
	b.registry = registry.New(regOpts...)
	b.dlq = store.NewDLQ(b.store, b.maxRequeue)

	var mgrOpts []broadcast.Option
	if b.maxProcessedBroadcasts > 0 {
		mgrOpts = append(mgrOpts, broadcast.WithMaxProcessedBroadcasts(b.maxProcessedBroadcasts))
	}
	for _, f := range b.broadcastFilters {
		mgrOpts = append(mgrOpts, broadcast.WithFilter(f))
	}
	mgrOpts = append(mgrOpts, broadcast.WithErrorHandler(func(e *broadcast.Error) {
		b.reportError(tag.Adapter, e)
	}))
	b.broadcastMgr = broadcast.New(b.nodeID, mgrOpts...)
	for _, a := range b.pendingAdapters {
		if err := b.broadcastMgr.RegisterAdapter(a); err != nil {
			b.o11y.Logger().Warn(context.Background(), "skipping broadcast adapter", observability.String("adapter", a.Name()), observability.Error(err))
		}
	}

	return b
}

// NodeID returns the bus's broadcast source identity.
func (b *Bus) NodeID() string {
	return b.nodeID
}

// On registers handler for (name, version); version defaults to 1 when 0.
func (b *Bus) On(name string, handler Handler, version int) (string, error) {
	return b.registry.On(name, handler, version)
}

// Off removes a handler registration by id.
func (b *Bus) Off(name, id string) {
	b.registry.Off(name, id)
}

// Use registers middleware for name, in call order.
func (b *Bus) Use(name string, mw Middleware) (string, error) {
	return b.registry.Use(name, mw)
}

// OffMiddleware removes a middleware registration by id.
func (b *Bus) OffMiddleware(name, id string) {
	b.registry.OffMiddleware(name, id)
}

// RegisterMigrator registers fn as the migrator taking (name, fromVersion)
// to fromVersion+1.
func (b *Bus) RegisterMigrator(name string, fromVersion int, fn Migrator) error {
	return b.registry.RegisterMigrator(name, fromVersion, fn)
}

// Cleanup evicts handler and middleware registrations aged past t's
// thresholds.
func (b *Bus) Cleanup(t registry.Thresholds) {
	b.registry.Cleanup(t)
}

// Emit runs ctx through every handler registered for name at its migrated
// version, per spec.md §4.4's eight-step sequence: normalize, migrate,
// resolve, execute each handler as a task behind the event's middleware
// chain, schedule per emitOpts, persist, dead-letter, return.
func (b *Bus) Emit(ctx context.Context, name string, evCtx eventcontext.Context, taskOpts task.Options, emitOpts EmitOptions) ([]EmitResult, error) {
	evCtx = eventcontext.Normalize(evCtx, name)
	evCtx = b.registry.MigrateContext(name, evCtx)

	handlers := b.registry.GetHandlers(name, evCtx.Version)
	if len(handlers) == 0 {
		return nil, nil
	}
	mws := b.registry.GetMiddlewares(name)

	emitCtx := ctx
	if emitOpts.GlobalTimeout > 0 {
		var cancel context.CancelFunc
		emitCtx, cancel = context.WithTimeout(ctx, emitOpts.GlobalTimeout)
		defer cancel()
	}

	results := make([]EmitResult, len(handlers))
	var mu sync.Mutex
	var throwErr error

	if !emitOpts.Parallel {
		b.runSerial(ctx, emitCtx, name, evCtx, handlers, mws, taskOpts, emitOpts, results, &throwErr)
	} else {
		b.runParallel(ctx, emitCtx, name, evCtx, handlers, mws, taskOpts, emitOpts, results, &mu, &throwErr)
	}

	if throwErr != nil {
		return results, throwErr
	}
	if emitOpts.GlobalTimeout > 0 && emitCtx.Err() == context.DeadlineExceeded {
		return results, &EventTimeoutError{Name: name, TraceID: evCtx.TraceID, TimeoutMS: emitOpts.GlobalTimeout.Milliseconds()}
	}
	return results, nil
}

// runSerial schedules handlers one at a time in insertion order. A handler
// error with StopOnError set aborts the rest, which are reported as
// cancelled rather than simply absent, keeping len(results) == len(handlers).
func (b *Bus) runSerial(
	ctx, emitCtx context.Context,
	name string, evCtx eventcontext.Context,
	handlers []Handler, mws []Middleware,
	taskOpts task.Options, emitOpts EmitOptions,
	results []EmitResult, throwErr *error,
) {
	for idx, h := range handlers {
		select {
		case <-emitCtx.Done():
			b.fillCancelled(results, idx, evCtx.TraceID, emitCtx.Err())
			return
		default:
		}

		res := b.runHandler(ctx, name, evCtx, idx, h, mws, taskOpts, emitCtx)
		results[idx] = res

		if res.Error == nil {
			continue
		}
		if taskOpts.ThrowOnError && *throwErr == nil {
			*throwErr = &HandlerError{Name: name, HandlerIndex: idx, Err: res.Error}
		}
		if emitOpts.StopOnError {
			b.fillCancelled(results, idx+1, evCtx.TraceID, fmt.Errorf("eventbus: skipped after stopOnError at handler %d", idx))
			return
		}
	}
}

// fillCancelled fills results[from:] with a Cancelled outcome, used when
// serial scheduling stops early (stopOnError or the emit deadline firing).
func (b *Bus) fillCancelled(results []EmitResult, from int, traceID string, reason error) {
	for j := from; j < len(results); j++ {
		results[j] = EmitResult{HandlerIndex: j, State: statemachine.Cancelled, TraceID: traceID, Error: &task.CancelledError{Reason: reason}}
	}
}

// runParallel schedules up to emitOpts.MaxConcurrency handlers at once.
// StopOnError cancels every pending or not-yet-started handler on the first
// error; results for handlers that never got a chance to run are reported
// as cancelled.
func (b *Bus) runParallel(
	ctx, emitCtx context.Context,
	name string, evCtx eventcontext.Context,
	handlers []Handler, mws []Middleware,
	taskOpts task.Options, emitOpts EmitOptions,
	results []EmitResult, mu *sync.Mutex, throwErr *error,
) {
	maxConcurrency := emitOpts.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = len(handlers)
	}
	sem := make(chan struct{}, maxConcurrency)

	cancelCtx, cancelAll := context.WithCancel(emitCtx)
	defer cancelAll()

	var stopped bool
	var wg sync.WaitGroup

	for idx, h := range handlers {
		idx, h := idx, h
		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-cancelCtx.Done():
				results[idx] = EmitResult{HandlerIndex: idx, State: statemachine.Cancelled, TraceID: evCtx.TraceID, Error: &task.CancelledError{Reason: cancelCtx.Err()}}
				return
			}
			defer func() { <-sem }()

			mu.Lock()
			alreadyStopped := stopped
			mu.Unlock()
			if alreadyStopped {
				results[idx] = EmitResult{HandlerIndex: idx, State: statemachine.Cancelled, TraceID: evCtx.TraceID, Error: &task.CancelledError{Reason: cancelCtx.Err()}}
				return
			}

			res := b.runHandler(ctx, name, evCtx, idx, h, mws, taskOpts, cancelCtx)
			results[idx] = res

			if res.Error == nil {
				return
			}
			mu.Lock()
			if taskOpts.ThrowOnError && *throwErr == nil {
				*throwErr = &HandlerError{Name: name, HandlerIndex: idx, Err: res.Error}
			}
			if emitOpts.StopOnError {
				stopped = true
			}
			mu.Unlock()
			if emitOpts.StopOnError {
				cancelAll()
			}
		}()
	}
	wg.Wait()
}

// runHandler wraps h in the middleware chain for name, runs it as an
// EventTask, and persists/dead-letters the outcome.
func (b *Bus) runHandler(ctx context.Context, name string, evCtx eventcontext.Context, idx int, h Handler, mws []Middleware, taskOpts task.Options, signal context.Context) EmitResult {
	wrapped := registry.Chain(mws, h)
	attemptCtx := evCtx

	opts := perHandlerTaskOptions(taskOpts, name, idx, b.disableRetry)
	opts.Signal = signal

	if b.diagnostics != nil {
		b.diagnostics.RecordScheduled()
		b.diagnostics.RecordRunning()
	}

	t := task.New(func(taskCtx context.Context) (any, error) {
		attemptCtx.Signal = taskCtx
		return wrapped(attemptCtx)
	}, opts)

	value, err := t.Run()
	state := t.State()
	result := EmitResult{HandlerIndex: idx, State: state, TraceID: evCtx.TraceID, Result: value, Error: err}

	if err == nil {
		if b.diagnostics != nil {
			b.diagnostics.RecordCompleted()
		}
		b.persist(ctx, name, evCtx, idx, state, value, nil)
		return result
	}

	if b.diagnostics != nil {
		b.diagnostics.RecordFailed(fmt.Sprintf("%s#%d", name, idx), tag.Handler.String(), err, time.Now().UnixMilli())
	}
	b.persist(ctx, name, evCtx, idx, state, nil, err)

	if state == statemachine.Failed && !evCtx.DisableAutoDLQ {
		b.moveToDLQ(ctx, name, evCtx, idx, state, err)
	}
	return result
}

// perHandlerTaskOptions fills in a per-handler id/name when the caller left
// them blank and applies the bus-wide disableRetry override.
func perHandlerTaskOptions(base task.Options, name string, idx int, disableRetry bool) task.Options {
	opts := base
	if opts.ID == "" {
		opts.ID = fmt.Sprintf("%s#%d", name, idx)
	}
	if opts.Name == "" {
		opts.Name = name
	}
	if disableRetry {
		opts.MaxRetries = 0
	}
	return opts
}

// persist saves an EventRecord for one handler's outcome, routing a save
// failure to the error handler tagged "store" rather than surfacing it.
func (b *Bus) persist(ctx context.Context, name string, evCtx eventcontext.Context, idx int, state statemachine.State, value any, handlerErr error) {
	if b.store == nil {
		return
	}
	record := store.Record{
		ID:          fmt.Sprintf("%s_%d", evCtx.ID, idx),
		TraceID:     evCtx.TraceID,
		Name:        name,
		Version:     evCtx.Version,
		State:       state,
		TimestampMS: time.Now().UnixMilli(),
		Context:     evCtx,
		Result:      value,
		Err:         handlerErr,
	}
	if err := b.store.Save(ctx, record); err != nil {
		b.reportError(tag.Store, &store.Error{Op: "Save", Err: err})
	}
}

// moveToDLQ dead-letters one handler's terminal failure.
func (b *Bus) moveToDLQ(ctx context.Context, name string, evCtx eventcontext.Context, idx int, state statemachine.State, handlerErr error) {
	record := store.Record{
		ID:          fmt.Sprintf("%s_%d", evCtx.ID, idx),
		TraceID:     evCtx.TraceID,
		Name:        name,
		Version:     evCtx.Version,
		State:       state,
		TimestampMS: time.Now().UnixMilli(),
		Context:     evCtx,
		Err:         handlerErr,
	}
	if err := b.dlq.MoveToDLQ(ctx, record, handlerErr); err != nil {
		b.reportError(tag.Store, err)
	} else if b.diagnostics != nil {
		b.diagnostics.RecordDeadLettered()
	}
}

// ListDLQ returns every dead-lettered record for traceID, newest first.
func (b *Bus) ListDLQ(ctx context.Context, traceID string) ([]store.Record, error) {
	return b.dlq.ListDLQ(ctx, traceID)
}

// PurgeDLQ deletes dlqID (or every dead-lettered record for traceID when
// dlqID is empty).
func (b *Bus) PurgeDLQ(ctx context.Context, traceID, dlqID string, reason error) (int, error) {
	return b.dlq.PurgeDLQ(ctx, traceID, dlqID, reason)
}

// RequeueDLQ re-emits the dead-lettered record traceID/dlqID through Emit.
// On success the original DLQ record is deleted; on failure its requeue
// count is incremented, unless that would exceed the configured max.
func (b *Bus) RequeueDLQ(ctx context.Context, traceID, dlqID string, taskOpts task.Options, emitOpts EmitOptions) error {
	emitter := func(ctx context.Context, evCtx eventcontext.Context) ([]store.EmitOutcome, error) {
		results, err := b.Emit(ctx, evCtx.Name, evCtx, taskOpts, emitOpts)
		if err != nil {
			return nil, err
		}
		outcomes := make([]store.EmitOutcome, len(results))
		for i, r := range results {
			outcomes[i] = r
		}
		return outcomes, nil
	}
	return b.dlq.RequeueDLQ(ctx, traceID, dlqID, emitter)
}

// Broadcast performs a local Emit, then asynchronously publishes the
// emission as a broadcast message on every selected adapter and channel.
// Broadcast fan-out failures never surface here; they route to the error
// handler tagged "adapter".
func (b *Bus) Broadcast(ctx context.Context, name string, evCtx eventcontext.Context, broadcastOpts broadcast.Options, taskOpts task.Options, emitOpts EmitOptions) ([]EmitResult, error) {
	evCtx = eventcontext.Normalize(evCtx, name)
	results, err := b.Emit(ctx, name, evCtx, taskOpts, emitOpts)

	if len(broadcastOpts.Channels) == 0 {
		broadcastOpts.Channels = []string{broadcast.DefaultChannel}
	}
	msg := broadcast.Message{
		BroadcastID: uuid.NewString(),
		ID:          evCtx.ID,
		Source:      b.nodeID,
		EventName:   name,
		Context:     evCtx,
		TraceID:     evCtx.TraceID,
		Version:     evCtx.Version,
		TimestampMS: time.Now().UnixMilli(),
	}
	b.broadcastMgr.Publish(ctx, msg, broadcastOpts)

	return results, err
}

// SubscribeBroadcast registers this bus to receive inbound broadcasts on
// channels (defaulting to "default"), re-emitting each one locally with its
// broadcast envelope fields populated per spec.md §4.5. excludeSelf should
// be true to match the spec's default and suppress a bus's own broadcasts
// being re-delivered to itself; Go's zero value gives no such default, so
// callers must pass it explicitly.
func (b *Bus) SubscribeBroadcast(ctx context.Context, channels []string, excludeSelf bool) error {
	if len(channels) == 0 {
		channels = []string{broadcast.DefaultChannel}
	}
	return b.broadcastMgr.Subscribe(ctx, channels, excludeSelf, func(cbCtx context.Context, msg broadcast.Message) error {
		evCtx, ok := msg.Context.(eventcontext.Context)
		if !ok {
			return fmt.Errorf("eventbus: broadcast message context is not an eventcontext.Context")
		}
		evCtx.Broadcast = true
		evCtx.BroadcastID = msg.BroadcastID
		evCtx.BroadcastSource = msg.Source
		evCtx.BroadcastChannels = channels
		evCtx.ReceivedAtMS = time.Now().UnixMilli()

		_, err := b.Emit(cbCtx, msg.EventName, evCtx, task.Options{}, EmitOptions{})
		return err
	})
}

// Disconnect tears down every broadcast adapter that supports it.
func (b *Bus) Disconnect(ctx context.Context) {
	b.broadcastMgr.Disconnect(ctx)
}

// reportError routes err, tagged by source, to the configured error
// handler. A handler that panics is recovered and logged instead of
// propagating, per spec.md §7's "must itself never throw" contract.
func (b *Bus) reportError(source tag.Tag, err error) {
	if b.errorHandler == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			b.o11y.Logger().Error(context.Background(), "error handler panicked", observability.Any("panic", p), observability.String("tag", source.String()))
		}
	}()
	b.errorHandler(&tag.Error{Tag: source, Err: err})
}
