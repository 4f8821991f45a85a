// Package dispatcher implements the dependency dispatcher: a DAG of named
// nodes scheduled in topological layers, each node's action run through a
// retry/timeout-aware task and a middleware pipeline, with results passed
// from ancestors to descendants through a write-once injector and
// transitions broadcast through a per-node state machine and a shared
// PubSub.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/evkernel/evkernel/pkg/dag"
	"github.com/evkernel/evkernel/pkg/diagnostics"
	"github.com/evkernel/evkernel/pkg/injector"
	"github.com/evkernel/evkernel/pkg/observability"
	"github.com/evkernel/evkernel/pkg/observability/noop"
	"github.com/evkernel/evkernel/pkg/pubsub"
	"github.com/evkernel/evkernel/pkg/statemachine"
	"github.com/evkernel/evkernel/pkg/task"
)

type nodeRun struct {
	done    chan struct{}
	result  any
	err     error
	started bool
}

// Dispatcher schedules a dag.Graph of nodes, running each node's handler
// only after every dependency has completed.
type Dispatcher struct {
	mu    sync.Mutex
	graph *dag.Graph

	handlers map[string]Handler
	nodeOpts map[string]NodeOptions
	machines map[string]*statemachine.Machine
	runs     map[string]*nodeRun

	middlewares   []Middleware
	disableRetry  bool
	cloneStrategy injector.CloneStrategy

	injector    *injector.Injector
	events      *pubsub.PubSub
	diagnostics *diagnostics.Recorder
	o11y        observability.Observability
}

// New creates an empty Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		graph:    dag.New(),
		handlers: make(map[string]Handler),
		nodeOpts: make(map[string]NodeOptions),
		machines: make(map[string]*statemachine.Machine),
		runs:     make(map[string]*nodeRun),
		events:   pubsub.New(),
		o11y:     noop.NewProvider(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.injector = injector.New(d.cloneStrategy)
	return d
}

// Events returns the PubSub every node transition is published to.
func (d *Dispatcher) Events() *pubsub.PubSub {
	return d.events
}

// Add registers node with the given dependencies, creating placeholder
// entries for any dependency not yet added, per dag.Graph.Add.
func (d *Dispatcher) Add(node string, deps ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.graph.Add(node, deps...)
	d.machineFor(node)
}

// Handle registers node's action. opts configures its timeout/retry
// strategy; the zero value means no timeout and no retries.
func (d *Dispatcher) Handle(node string, fn Handler, opts NodeOptions) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.graph.Add(node)
	d.handlers[node] = fn
	d.nodeOpts[node] = opts
	d.machineFor(node)
}

// machineFor returns node's Machine, creating it (and wiring its onEnter to
// publish a pubsub event) if this is the first time node is seen. Caller
// must hold d.mu.
func (d *Dispatcher) machineFor(node string) *statemachine.Machine {
	if m, ok := d.machines[node]; ok {
		return m
	}
	m := statemachine.New(func(s statemachine.State) {
		d.publish(node, stateToPhase(s), 0, nil)
	})
	d.machines[node] = m
	return m
}

// publish sends an Event for node's transition into phase. Call sites that
// only have a statemachine.State convert it via stateToPhase first; the
// retry/timeout call sites in execute already know their phase directly,
// since the generic state-to-phase map deliberately excludes them.
func (d *Dispatcher) publish(node string, phase pubsub.Phase, attempt int, err error) {
	if phase == "" {
		return
	}
	d.events.Publish(pubsub.Event{
		NodeID:      node,
		Phase:       phase,
		Attempt:     attempt,
		Err:         err,
		TimestampMS: time.Now().UnixMilli(),
	})
}

// stateToPhase maps a state to the pubsub phase auto-published on entry.
// Retrying and Timeout are excluded: those carry an attempt number or
// duration the generic onEnter hook has no access to, so the task's
// OnRetry/OnTimeout callbacks publish them explicitly instead.
func stateToPhase(s statemachine.State) pubsub.Phase {
	switch s {
	case statemachine.Scheduled:
		return pubsub.Scheduled
	case statemachine.Running:
		return pubsub.Running
	case statemachine.Succeeded:
		return pubsub.Completed
	case statemachine.Failed:
		return pubsub.Failed
	default:
		return ""
	}
}

// Run executes node (recursively running its dependencies first) and
// returns its result. Concurrent calls to Run for the same node, such as
// two dependents of a diamond sharing an ancestor, observe a single
// execution: the first caller runs the node, the rest wait on its result.
func (d *Dispatcher) Run(ctx context.Context, node string) (any, error) {
	d.mu.Lock()
	if _, ok := d.machines[node]; !ok {
		d.mu.Unlock()
		return nil, &NotHandledError{Node: node}
	}

	run, exists := d.runs[node]
	if !exists {
		run = &nodeRun{done: make(chan struct{})}
		d.runs[node] = run
	}
	firstCaller := !run.started
	run.started = true
	deps := d.graph.Dependencies(node)
	d.mu.Unlock()

	if !firstCaller {
		select {
		case <-run.done:
			d.o11y.Logger().Info(ctx, "node already executed, reusing result", observability.String("node", node))
			return run.result, run.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	result, err := d.execute(ctx, node, deps)
	run.result, run.err = result, err
	close(run.done)
	return result, err
}

// execute runs node's dependencies concurrently, then node's own action.
func (d *Dispatcher) execute(ctx context.Context, node string, deps []string) (any, error) {
	depResults, err := d.runDependencies(ctx, deps)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	machine := d.machines[node]
	handler, handled := d.handlers[node]
	nodeOpts := d.nodeOpts[node]
	mws := append([]Middleware(nil), d.middlewares...)
	d.mu.Unlock()

	if !handled {
		return nil, &NotHandledError{Node: node}
	}

	if d.diagnostics != nil {
		d.diagnostics.RecordScheduled()
	}
	machine.Transition(statemachine.Scheduled)
	machine.Transition(statemachine.Running)
	if d.diagnostics != nil {
		d.diagnostics.RecordRunning()
	}

	action := chain(node, mws, handler)

	maxRetries := nodeOpts.MaxRetries
	if d.disableRetry {
		maxRetries = 0
	}

	t := task.New(func(taskCtx context.Context) (any, error) {
		return action(taskCtx, depResults)
	}, task.Options{
		ID:          node,
		Name:        node,
		Timeout:     nodeOpts.Timeout,
		MaxRetries:  maxRetries,
		RetryDelay:  nodeOpts.RetryDelay,
		IsRetryable: nodeOpts.IsRetryable,
		Signal:      ctx,
		OnRetry: func(attempt int, taskErr error) {
			machine.Transition(statemachine.Retrying)
			d.publish(node, pubsub.Retry, attempt, taskErr)
			if d.diagnostics != nil {
				d.diagnostics.RecordRetried()
			}
			if nodeOpts.OnRetry != nil {
				nodeOpts.OnRetry(attempt, taskErr)
			}
			machine.Transition(statemachine.Running)
		},
		OnTimeout: func(timeout time.Duration) {
			d.publish(node, pubsub.Timeout, 0, nil)
			if nodeOpts.OnTimeout != nil {
				nodeOpts.OnTimeout(timeout)
			}
		},
	})

	value, runErr := t.Run()
	if runErr != nil {
		if t.State() == statemachine.Cancelled {
			machine.Transition(statemachine.Cancelled)
		} else {
			machine.Transition(statemachine.Failed)
		}
		if d.diagnostics != nil {
			d.diagnostics.RecordFailed(node, "handler", runErr, time.Now().UnixMilli())
		}
		d.o11y.Logger().Error(ctx, "node failed", observability.String("node", node), observability.Error(runErr))
		return nil, runErr
	}

	if err := d.injector.Register(node, value); err != nil {
		return nil, err
	}
	machine.Transition(statemachine.Succeeded)
	if d.diagnostics != nil {
		d.diagnostics.RecordCompleted()
	}
	return value, nil
}

// runDependencies awaits every dep concurrently, resolving each one's
// registered result via the injector. The first dependency error cancels
// the rest.
func (d *Dispatcher) runDependencies(ctx context.Context, deps []string) (map[string]any, error) {
	if len(deps) == 0 {
		return nil, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex
	results := make(map[string]any, len(deps))
	var firstErr error

	for _, dep := range deps {
		wg.Add(1)
		go func(dep string) {
			defer wg.Done()
			if _, err := d.Run(runCtx, dep); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				mu.Unlock()
				return
			}
			cloned, err := d.injector.Resolve(dep)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				return
			}
			results[dep] = cloned
		}(dep)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// RunAll runs every node in nodes (or the whole graph, if nodes is empty)
// concurrently, relying on Run's dependency recursion to sequence each
// node's own dependencies first. It returns every requested node's result,
// or the first fatal error after the rest have been cancelled.
func (d *Dispatcher) RunAll(ctx context.Context, nodes ...string) (map[string]any, error) {
	d.mu.Lock()
	if len(nodes) == 0 {
		nodes = d.graph.Nodes()
	}
	d.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex
	results := make(map[string]any, len(nodes))
	var firstErr error

	for _, node := range nodes {
		wg.Add(1)
		go func(node string) {
			defer wg.Done()
			value, err := d.Run(runCtx, node)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				return
			}
			results[node] = value
		}(node)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// TopologicalOrder returns the graph's flat topological order.
func (d *Dispatcher) TopologicalOrder() ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.graph.TopologicalSort()
}

// Layers returns the graph's wave/layer decomposition, the order RunAll's
// concurrency follows.
func (d *Dispatcher) Layers() ([][]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.graph.LayeredTopologicalSort()
}

// Subgraph returns the layered closure of roots in the requested direction.
func (d *Dispatcher) Subgraph(roots []string, mode dag.SubgraphMode) ([][]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.graph.LayeredSubgraphSort(roots, mode)
}
