package dispatcher_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/evkernel/evkernel/pkg/dispatcher"
	"github.com/evkernel/evkernel/pkg/pubsub"
	"github.com/evkernel/evkernel/pkg/retrystrategy"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_DiamondDependencyOrdering(t *testing.T) {
	d := dispatcher.New()

	d.Add("D")
	d.Add("B", "D")
	d.Add("C", "D")
	d.Add("A", "B", "C")

	var mu sync.Mutex
	type span struct{ start, end time.Time }
	spans := make(map[string]span)

	record := func(name string, sleep time.Duration) dispatcher.Handler {
		return func(ctx context.Context, deps map[string]any) (any, error) {
			mu.Lock()
			spans[name] = span{start: time.Now()}
			mu.Unlock()
			time.Sleep(sleep)
			mu.Lock()
			s := spans[name]
			s.end = time.Now()
			spans[name] = s
			mu.Unlock()
			return name + "-result", nil
		}
	}

	d.Handle("D", record("D", 20*time.Millisecond), dispatcher.NodeOptions{})
	d.Handle("B", record("B", 10*time.Millisecond), dispatcher.NodeOptions{})
	d.Handle("C", record("C", 10*time.Millisecond), dispatcher.NodeOptions{})
	d.Handle("A", func(ctx context.Context, deps map[string]any) (any, error) {
		mu.Lock()
		spans["A"] = span{start: time.Now()}
		mu.Unlock()
		require.Equal(t, "B-result", deps["B"])
		require.Equal(t, "C-result", deps["C"])
		return "A-result", nil
	}, dispatcher.NodeOptions{})

	results, err := d.RunAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, "A-result", results["A"])

	mu.Lock()
	defer mu.Unlock()
	require.True(t, !spans["B"].start.Before(spans["D"].end), "B must start after D completes")
	require.True(t, !spans["C"].start.Before(spans["D"].end), "C must start after D completes")

	maxBC := spans["B"].end
	if spans["C"].end.After(maxBC) {
		maxBC = spans["C"].end
	}
	require.True(t, !spans["A"].start.Before(maxBC), "A must start after both B and C complete")

	skew := spans["B"].start.Sub(spans["C"].start)
	if skew < 0 {
		skew = -skew
	}
	require.Less(t, skew, 50*time.Millisecond, "B and C must start within a small window of each other")
}

func TestDispatcher_DependentsDoNotShareAncestorResult(t *testing.T) {
	d := dispatcher.New()

	d.Add("D")
	d.Add("B", "D")
	d.Add("C", "D")

	d.Handle("D", func(context.Context, map[string]any) (any, error) {
		return map[string]int{"count": 1}, nil
	}, dispatcher.NodeOptions{})

	var bSeen, cSeen int
	d.Handle("B", func(_ context.Context, deps map[string]any) (any, error) {
		shared := deps["D"].(map[string]int)
		shared["count"] = 100 // mutate B's own clone
		bSeen = shared["count"]
		return nil, nil
	}, dispatcher.NodeOptions{})
	d.Handle("C", func(_ context.Context, deps map[string]any) (any, error) {
		time.Sleep(10 * time.Millisecond) // give B a chance to mutate first
		shared := deps["D"].(map[string]int)
		cSeen = shared["count"]
		return nil, nil
	}, dispatcher.NodeOptions{})

	_, err := d.RunAll(context.Background())
	require.NoError(t, err)

	require.Equal(t, 100, bSeen, "B observes its own mutation")
	require.Equal(t, 1, cSeen, "C must not observe B's mutation of a sibling's clone")
}

func TestDispatcher_RetryToSuccess(t *testing.T) {
	d := dispatcher.New()
	d.Add("n")

	var calls int
	var onRetryCalls []int
	d.Handle("n", func(ctx context.Context, deps map[string]any) (any, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	}, dispatcher.NodeOptions{
		MaxRetries:  2,
		RetryDelay:  retrystrategy.Fixed(time.Millisecond),
		IsRetryable: func(error) bool { return true },
		OnRetry:     func(attempt int, err error) { onRetryCalls = append(onRetryCalls, attempt) },
	})

	result, err := d.Run(context.Background(), "n")
	require.NoError(t, err)
	require.Equal(t, "ok", result)
	require.Equal(t, 3, calls)
	require.Equal(t, []int{1, 2}, onRetryCalls)
}

func TestDispatcher_NonRetryableFailsFast(t *testing.T) {
	d := dispatcher.New()
	d.Add("n")

	var calls int
	d.Handle("n", func(ctx context.Context, deps map[string]any) (any, error) {
		calls++
		return nil, errors.New("boom")
	}, dispatcher.NodeOptions{
		MaxRetries:  3,
		IsRetryable: func(error) bool { return false },
	})

	_, err := d.Run(context.Background(), "n")
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestDispatcher_FailingDependencyCancelsDependent(t *testing.T) {
	d := dispatcher.New()
	d.Add("dep")
	d.Add("n", "dep")

	d.Handle("dep", func(ctx context.Context, deps map[string]any) (any, error) {
		return nil, errors.New("dep failed")
	}, dispatcher.NodeOptions{})

	var ran bool
	d.Handle("n", func(ctx context.Context, deps map[string]any) (any, error) {
		ran = true
		return "n-result", nil
	}, dispatcher.NodeOptions{})

	_, err := d.Run(context.Background(), "n")
	require.Error(t, err)
	require.False(t, ran, "a node must not run when its dependency fails")
}

func TestDispatcher_DisableRetryOverridesNodeOptions(t *testing.T) {
	d := dispatcher.New(dispatcher.WithDisableRetry(true))
	d.Add("n")

	var calls int
	d.Handle("n", func(ctx context.Context, deps map[string]any) (any, error) {
		calls++
		return nil, errors.New("boom")
	}, dispatcher.NodeOptions{
		MaxRetries:  5,
		IsRetryable: func(error) bool { return true },
	})

	_, err := d.Run(context.Background(), "n")
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestDispatcher_MiddlewareNextCalledTwiceIsFatal(t *testing.T) {
	d := dispatcher.New(dispatcher.WithMiddleware(func(next dispatcher.Handler) dispatcher.Handler {
		return func(ctx context.Context, deps map[string]any) (any, error) {
			_, _ = next(ctx, deps)
			return next(ctx, deps)
		}
	}))
	d.Add("n")
	d.Handle("n", func(ctx context.Context, deps map[string]any) (any, error) {
		return "ok", nil
	}, dispatcher.NodeOptions{})

	require.Panics(t, func() {
		_, _ = d.Run(context.Background(), "n")
	})
}

func TestDispatcher_MiddlewareShortCircuit(t *testing.T) {
	var innerCalled bool
	d := dispatcher.New(dispatcher.WithMiddleware(func(next dispatcher.Handler) dispatcher.Handler {
		return func(ctx context.Context, deps map[string]any) (any, error) {
			return "short-circuited", nil
		}
	}))
	d.Add("n")
	d.Handle("n", func(ctx context.Context, deps map[string]any) (any, error) {
		innerCalled = true
		return "ok", nil
	}, dispatcher.NodeOptions{})

	result, err := d.Run(context.Background(), "n")
	require.NoError(t, err)
	require.Equal(t, "short-circuited", result)
	require.False(t, innerCalled)
}

func TestDispatcher_LifecycleEventsPublished(t *testing.T) {
	d := dispatcher.New()
	d.Add("n")
	d.Handle("n", func(ctx context.Context, deps map[string]any) (any, error) {
		return "ok", nil
	}, dispatcher.NodeOptions{})

	var mu sync.Mutex
	var phases []pubsub.Phase
	for _, phase := range []pubsub.Phase{pubsub.Scheduled, pubsub.Running, pubsub.Completed} {
		d.Events().Subscribe(phase, func(e pubsub.Event) {
			mu.Lock()
			defer mu.Unlock()
			phases = append(phases, e.Phase)
		})
	}

	_, err := d.Run(context.Background(), "n")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []pubsub.Phase{pubsub.Scheduled, pubsub.Running, pubsub.Completed}, phases)
}

func TestDispatcher_TerminalNodeRunIsIdempotent(t *testing.T) {
	d := dispatcher.New()
	d.Add("n")

	var calls int
	d.Handle("n", func(ctx context.Context, deps map[string]any) (any, error) {
		calls++
		return "ok", nil
	}, dispatcher.NodeOptions{})

	first, err := d.Run(context.Background(), "n")
	require.NoError(t, err)

	second, err := d.Run(context.Background(), "n")
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 1, calls, "a completed node must not re-run on a later Run call")
}

func TestDispatcher_RetryPhaseIsPublished(t *testing.T) {
	d := dispatcher.New()
	d.Add("n")

	var calls int
	d.Handle("n", func(ctx context.Context, deps map[string]any) (any, error) {
		calls++
		if calls < 2 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	}, dispatcher.NodeOptions{
		MaxRetries:  1,
		RetryDelay:  retrystrategy.Fixed(time.Millisecond),
		IsRetryable: func(error) bool { return true },
	})

	var mu sync.Mutex
	var phases []pubsub.Phase
	d.Events().Subscribe(pubsub.Retry, func(e pubsub.Event) {
		mu.Lock()
		defer mu.Unlock()
		phases = append(phases, e.Phase)
	})

	_, err := d.Run(context.Background(), "n")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []pubsub.Phase{pubsub.Retry}, phases, "a retried node must publish exactly one Retry phase event")
}
