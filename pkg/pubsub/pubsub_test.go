package pubsub_test

import (
	"sync"
	"testing"

	"github.com/evkernel/evkernel/pkg/pubsub"
	"github.com/stretchr/testify/require"
)

func TestPubSub_PublishDeliversToAllSubscribers(t *testing.T) {
	p := pubsub.New()

	var mu sync.Mutex
	var seen []string

	p.Subscribe(pubsub.Running, func(e pubsub.Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, "first:"+e.NodeID)
	})
	p.Subscribe(pubsub.Running, func(e pubsub.Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, "second:"+e.NodeID)
	})

	p.Publish(pubsub.Event{NodeID: "n1", Phase: pubsub.Running})

	require.ElementsMatch(t, []string{"first:n1", "second:n1"}, seen)
}

func TestPubSub_PublishOnlyReachesMatchingPhase(t *testing.T) {
	p := pubsub.New()

	var calls int
	p.Subscribe(pubsub.Completed, func(pubsub.Event) { calls++ })

	p.Publish(pubsub.Event{NodeID: "n1", Phase: pubsub.Failed})

	require.Equal(t, 0, calls)
}

func TestPubSub_Unsubscribe(t *testing.T) {
	p := pubsub.New()

	var calls int
	unsubscribe := p.Subscribe(pubsub.Scheduled, func(pubsub.Event) { calls++ })

	p.Publish(pubsub.Event{Phase: pubsub.Scheduled})
	require.Equal(t, 1, calls)

	unsubscribe()

	p.Publish(pubsub.Event{Phase: pubsub.Scheduled})
	require.Equal(t, 1, calls, "unsubscribed handler must not receive further events")
}

func TestPubSub_UnsubscribeOneLeavesOthersIntact(t *testing.T) {
	p := pubsub.New()

	var aCalls, bCalls int
	unsubA := p.Subscribe(pubsub.Retry, func(pubsub.Event) { aCalls++ })
	p.Subscribe(pubsub.Retry, func(pubsub.Event) { bCalls++ })

	unsubA()
	p.Publish(pubsub.Event{Phase: pubsub.Retry})

	require.Equal(t, 0, aCalls)
	require.Equal(t, 1, bCalls)
}

func TestPubSub_PanicInHandlerDoesNotStopDelivery(t *testing.T) {
	p := pubsub.New()

	var secondCalled bool
	p.Subscribe(pubsub.Timeout, func(pubsub.Event) { panic("boom") })
	p.Subscribe(pubsub.Timeout, func(pubsub.Event) { secondCalled = true })

	require.NotPanics(t, func() {
		p.Publish(pubsub.Event{Phase: pubsub.Timeout})
	})
	require.True(t, secondCalled, "a panicking subscriber must not suppress delivery to the next one")
}

func TestPubSub_SubscribeDuringPublishDoesNotRace(t *testing.T) {
	p := pubsub.New()

	p.Subscribe(pubsub.Running, func(pubsub.Event) {
		p.Subscribe(pubsub.Running, func(pubsub.Event) {})
	})

	require.NotPanics(t, func() {
		p.Publish(pubsub.Event{Phase: pubsub.Running})
	})
}
