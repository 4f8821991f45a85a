package broadcast_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/evkernel/evkernel/pkg/broadcast"
	"github.com/stretchr/testify/require"
)

// fakeAdapter is an in-process Adapter double wired directly to another
// fakeAdapter's inbound callback, simulating two nodes sharing one channel.
type fakeAdapter struct {
	mu    sync.Mutex
	name  string
	peers []*fakeAdapter
	cbs   map[string]broadcast.Callback
}

func newFakeAdapter(name string) *fakeAdapter {
	return &fakeAdapter{name: name, cbs: make(map[string]broadcast.Callback)}
}

func link(adapters ...*fakeAdapter) {
	for _, a := range adapters {
		for _, b := range adapters {
			if a != b {
				a.peers = append(a.peers, b)
			}
		}
	}
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Publish(ctx context.Context, channel string, msg broadcast.Message) error {
	for _, peer := range f.peers {
		peer.mu.Lock()
		cb, ok := peer.cbs[channel]
		peer.mu.Unlock()
		if ok {
			_ = cb(ctx, msg)
		}
	}
	return nil
}

func (f *fakeAdapter) Subscribe(ctx context.Context, channel string, cb broadcast.Callback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cbs[channel] = cb
	return nil
}

func (f *fakeAdapter) Unsubscribe(ctx context.Context, channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cbs, channel)
	return nil
}

// TestManager_ExcludeSelf covers S5: two nodes A and B share channel "c";
// A publishes with excludeSelf and only B's handler should fire for the
// broadcast leg (A's own call is the local emit, handled upstream of this
// package).
func TestManager_ExcludeSelf(t *testing.T) {
	adapterA := newFakeAdapter("mem")
	adapterB := newFakeAdapter("mem")
	link(adapterA, adapterB)

	mgrA := broadcast.New("node-a")
	require.NoError(t, mgrA.RegisterAdapter(adapterA))
	mgrB := broadcast.New("node-b")
	require.NoError(t, mgrB.RegisterAdapter(adapterB))

	var aCount, bCount int
	var mu sync.Mutex

	require.NoError(t, mgrA.Subscribe(context.Background(), []string{"c"}, true, func(ctx context.Context, msg broadcast.Message) error {
		mu.Lock()
		aCount++
		mu.Unlock()
		return nil
	}))
	require.NoError(t, mgrB.Subscribe(context.Background(), []string{"c"}, true, func(ctx context.Context, msg broadcast.Message) error {
		mu.Lock()
		bCount++
		mu.Unlock()
		return nil
	}))

	mgrA.Publish(context.Background(), broadcast.Message{BroadcastID: "b1", Source: "node-a"}, broadcast.Options{Channels: []string{"c"}, ExcludeSelf: true})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return bCount == 1
	}, time.Second, time.Millisecond)

	// The fake adapter only delivers to peers, so hand A's own broadcast
	// straight to A's registered callback to exercise self-exclusion.
	adapterA.mu.Lock()
	selfCB := adapterA.cbs["c"]
	adapterA.mu.Unlock()
	require.NoError(t, selfCB(context.Background(), broadcast.Message{BroadcastID: "b1", Source: "node-a"}))

	mu.Lock()
	require.Equal(t, 0, aCount, "publisher's own subscription must be suppressed by excludeSelf")
	require.Equal(t, 1, bCount)
	mu.Unlock()
}

func TestDedup_FIFOEviction(t *testing.T) {
	adapter := newFakeAdapter("mem")
	link(adapter)

	mgr := broadcast.New("node-a", broadcast.WithMaxProcessedBroadcasts(2))
	require.NoError(t, mgr.RegisterAdapter(adapter))

	var calls int
	var mu sync.Mutex
	require.NoError(t, mgr.Subscribe(context.Background(), []string{"c"}, false, func(ctx context.Context, msg broadcast.Message) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	}))

	// deliver the same broadcastId twice directly through the adapter's
	// registered callback to bypass Publish's self-loopback skip.
	adapter.mu.Lock()
	cb := adapter.cbs["c"]
	adapter.mu.Unlock()

	_ = cb(context.Background(), broadcast.Message{BroadcastID: "dup", Source: "other"})
	_ = cb(context.Background(), broadcast.Message{BroadcastID: "dup", Source: "other"})

	mu.Lock()
	require.Equal(t, 1, calls, "second delivery of the same broadcastId+source must be dropped")
	mu.Unlock()

	// With a cap of 2, two further distinct messages evict "dup" (the
	// oldest entry), so a third delivery of it is processed again.
	_ = cb(context.Background(), broadcast.Message{BroadcastID: "m2", Source: "other"})
	_ = cb(context.Background(), broadcast.Message{BroadcastID: "m3", Source: "other"})
	_ = cb(context.Background(), broadcast.Message{BroadcastID: "dup", Source: "other"})

	mu.Lock()
	require.Equal(t, 4, calls, "once evicted, the same broadcastId+source must be processed again")
	mu.Unlock()
}

func TestManager_FilterChainDropsMessage(t *testing.T) {
	adapter := newFakeAdapter("mem")
	link(adapter)

	reject := func(ctx context.Context, msg broadcast.Message) (bool, error) { return false, nil }
	mgr := broadcast.New("node-a", broadcast.WithFilter(reject))
	require.NoError(t, mgr.RegisterAdapter(adapter))

	var called bool
	require.NoError(t, mgr.Subscribe(context.Background(), []string{"c"}, false, func(ctx context.Context, msg broadcast.Message) error {
		called = true
		return nil
	}))

	adapter.mu.Lock()
	cb := adapter.cbs["c"]
	adapter.mu.Unlock()
	_ = cb(context.Background(), broadcast.Message{BroadcastID: "m1", Source: "other"})

	require.False(t, called)
}
