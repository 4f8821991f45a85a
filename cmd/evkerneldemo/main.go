// Command evkerneldemo wires pkg/eventbus, pkg/dispatcher and pkg/store (in
// memory, or Postgres when EVKERNEL_POSTGRES_DSN is set) into a single
// process and walks through the kernel's main scenarios end to end: a plain
// emit, a handler that exhausts its retries and lands in the DLQ, and a
// two-node broadcast fan-out. A second demo builds a small dependency DAG
// through pkg/dispatcher.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/evkernel/evkernel/pkg/broadcast"
	"github.com/evkernel/evkernel/pkg/broadcast/adapters/memory"
	"github.com/evkernel/evkernel/pkg/dispatcher"
	"github.com/evkernel/evkernel/pkg/eventbus"
	"github.com/evkernel/evkernel/pkg/eventcontext"
	"github.com/evkernel/evkernel/pkg/evkernelconfig"
	"github.com/evkernel/evkernel/pkg/logger"
	"github.com/evkernel/evkernel/pkg/observability"
	"github.com/evkernel/evkernel/pkg/observability/noop"
	"github.com/evkernel/evkernel/pkg/retrystrategy"
	"github.com/evkernel/evkernel/pkg/store"
	"github.com/evkernel/evkernel/pkg/storeadapters/postgres"
	"github.com/evkernel/evkernel/pkg/tag"
	"github.com/evkernel/evkernel/pkg/task"
)

// loggingObservability pairs pkg/logger's structured JSON logger with the
// no-op tracer and metrics; the demo has nowhere to ship spans or metrics
// but still wants readable logs for every kernel error callback.
type loggingObservability struct {
	observability.Observability
	logger observability.Logger
}

func newLoggingObservability() *loggingObservability {
	return &loggingObservability{Observability: noop.NewProvider(), logger: logger.New()}
}

func (o *loggingObservability) Logger() observability.Logger { return o.logger }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := evkernelconfig.FromEnv()
	o11y := newLoggingObservability()

	eventStore, closeStore := buildStore(ctx, cfg, o11y)
	defer closeStore()

	reg := memory.DefaultRegistry()

	fmt.Println("=== plain emit ===")
	nodeA := newBus("node-a", eventStore, reg, o11y)
	runPlainEmit(ctx, nodeA)

	fmt.Println("=== retry exhaustion -> DLQ ===")
	runDLQDemo(ctx, nodeA)

	fmt.Println("=== broadcast fan-out ===")
	nodeB := newBus("node-b", store.NewMemoryStore(), reg, o11y)
	runBroadcastDemo(ctx, nodeA, nodeB)

	fmt.Println("=== dependency dispatcher ===")
	runDispatcherDemo(ctx, o11y)

	nodeA.Disconnect(ctx)
	nodeB.Disconnect(ctx)

	select {
	case <-ctx.Done():
		o11y.Logger().Info(context.Background(), "shutting down evkerneldemo on signal")
	case <-time.After(200 * time.Millisecond):
	}
}

// buildStore selects the Postgres-backed store when a DSN is configured,
// running its embedded migrations first, and otherwise falls back to the
// in-memory store. The returned func releases whatever resources were
// opened, a no-op for the in-memory case.
func buildStore(ctx context.Context, cfg evkernelconfig.Config, o11y observability.Observability) (store.EventStore, func()) {
	if cfg.PostgresDSN == "" {
		return store.NewMemoryStore(), func() {}
	}

	pgCfg := postgres.DefaultConfig(cfg.PostgresDSN)
	if err := postgres.Migrate(ctx, pgCfg, o11y); err != nil {
		log.Fatalf("evkerneldemo: migrate: %v", err)
	}
	pool, err := postgres.NewPool(ctx, pgCfg)
	if err != nil {
		log.Fatalf("evkerneldemo: connect: %v", err)
	}
	return postgres.NewStore(pool, o11y), pool.Close
}

// newBus builds a Bus sharing eventStore and reg's broadcast switchboard,
// logging adapter/handler/store failures through o11y instead of letting
// them interrupt dispatch.
func newBus(nodeID string, eventStore store.EventStore, reg *memory.Registry, o11y observability.Observability) *eventbus.Bus {
	return eventbus.New(
		eventbus.WithNodeID(nodeID),
		eventbus.WithStore(eventStore),
		eventbus.WithObservability(o11y),
		eventbus.WithBroadcastAdapter(memory.New(nodeID, reg)),
		eventbus.WithErrorHandler(func(e *tag.Error) {
			o11y.Logger().Warn(context.Background(), "bus error", observability.String("tag", e.Tag.String()), observability.Error(e.Err))
		}),
	)
}

// runPlainEmit registers a single handler for "order.created" and emits it
// once, printing the handler's result.
func runPlainEmit(ctx context.Context, bus *eventbus.Bus) {
	_, err := bus.On("order.created", func(evCtx eventcontext.Context) (any, error) {
		return fmt.Sprintf("order %s confirmed", evCtx.ID), nil
	}, 1)
	if err != nil {
		log.Fatalf("evkerneldemo: register order.created: %v", err)
	}

	results, err := bus.Emit(ctx, "order.created", eventcontext.Context{}, task.Options{}, eventbus.EmitOptions{})
	if err != nil {
		log.Printf("evkerneldemo: emit order.created: %v", err)
		return
	}
	for _, r := range results {
		fmt.Printf("  handler[%d] state=%s result=%v\n", r.HandlerIndex, r.State, r.Result)
	}
}

// runDLQDemo registers a handler that always fails, emits it with a couple
// of retries so it exhausts them and lands in the DLQ, then lists and
// purges that DLQ entry.
func runDLQDemo(ctx context.Context, bus *eventbus.Bus) {
	_, err := bus.On("payment.charge", func(eventcontext.Context) (any, error) {
		return nil, errors.New("acquirer unreachable")
	}, 1)
	if err != nil {
		log.Fatalf("evkerneldemo: register payment.charge: %v", err)
	}

	evCtx := eventcontext.Context{TraceID: "trace-dlq-demo"}
	taskOpts := task.Options{
		MaxRetries:  2,
		RetryDelay:  retrystrategy.Fixed(10 * time.Millisecond),
		IsRetryable: func(error) bool { return true },
	}
	if _, err := bus.Emit(ctx, "payment.charge", evCtx, taskOpts, eventbus.EmitOptions{}); err != nil {
		log.Printf("evkerneldemo: emit payment.charge: %v", err)
	}

	entries, err := bus.ListDLQ(ctx, evCtx.TraceID)
	if err != nil {
		log.Printf("evkerneldemo: list dlq: %v", err)
		return
	}
	for _, e := range entries {
		fmt.Printf("  dead-lettered id=%s name=%s err=%v\n", e.ID, e.Name, e.Err)
	}
	if n, err := bus.PurgeDLQ(ctx, evCtx.TraceID, "", errors.New("demo cleanup")); err != nil {
		log.Printf("evkerneldemo: purge dlq: %v", err)
	} else {
		fmt.Printf("  purged %d dlq entries\n", n)
	}
}

// runBroadcastDemo subscribes nodeB to the default channel, then has nodeA
// broadcast an event; nodeB's own handler runs from the inbound message,
// not from a local Emit call.
func runBroadcastDemo(ctx context.Context, nodeA, nodeB *eventbus.Bus) {
	received := make(chan string, 1)
	_, err := nodeB.On("inventory.reserved", func(evCtx eventcontext.Context) (any, error) {
		received <- evCtx.BroadcastSource
		return nil, nil
	}, 1)
	if err != nil {
		log.Fatalf("evkerneldemo: register inventory.reserved: %v", err)
	}
	if err := nodeB.SubscribeBroadcast(ctx, nil, true); err != nil {
		log.Fatalf("evkerneldemo: subscribe broadcast: %v", err)
	}

	if _, err := nodeA.Broadcast(ctx, "inventory.reserved", eventcontext.Context{}, broadcast.Options{}, task.Options{}, eventbus.EmitOptions{}); err != nil {
		log.Printf("evkerneldemo: broadcast inventory.reserved: %v", err)
	}

	select {
	case source := <-received:
		fmt.Printf("  node-b received broadcast from %q\n", source)
	case <-time.After(time.Second):
		fmt.Println("  node-b never received the broadcast")
	}
}

// runDispatcherDemo builds a three-node DAG (fetch -> transform -> persist)
// and runs its sink node, which transitively runs its ancestors first.
func runDispatcherDemo(ctx context.Context, o11y observability.Observability) {
	d := dispatcher.New(dispatcher.WithObservability(o11y))

	d.Handle("fetch", func(context.Context, map[string]any) (any, error) {
		return []int{1, 2, 3}, nil
	}, dispatcher.NodeOptions{Timeout: time.Second})

	d.Handle("transform", func(_ context.Context, deps map[string]any) (any, error) {
		rows := deps["fetch"].([]int)
		sum := 0
		for _, v := range rows {
			sum += v
		}
		return sum, nil
	}, dispatcher.NodeOptions{})
	d.Add("transform", "fetch")

	d.Handle("persist", func(_ context.Context, deps map[string]any) (any, error) {
		return fmt.Sprintf("persisted sum=%v", deps["transform"]), nil
	}, dispatcher.NodeOptions{})
	d.Add("persist", "transform")

	result, err := d.Run(ctx, "persist")
	if err != nil {
		log.Printf("evkerneldemo: dispatcher run: %v", err)
		return
	}
	fmt.Printf("  %v\n", result)
}
