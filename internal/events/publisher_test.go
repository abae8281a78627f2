package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestPublisher_SubscribeAndReceive(t *testing.T) {
	p := New(zap.NewNop())
	defer p.Close()

	sub := NewSubscriber("client-1", 0)
	p.Register(sub)
	require.NoError(t, p.Subscribe("client-1", ChannelTrade, "BTCUSDT"))

	p.Publish(ChannelTrade, "BTCUSDT", map[string]string{"id": "t1"})

	var payload []byte
	select {
	case payload = <-sub.Outbound:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	var evt Event
	require.NoError(t, json.Unmarshal(payload, &evt))
	assert.Equal(t, ChannelTrade, evt.Channel)
	assert.Equal(t, "BTCUSDT", evt.Symbol)
}

func TestPublisher_UnsubscribedClientReceivesNothing(t *testing.T) {
	p := New(zap.NewNop())
	defer p.Close()

	sub := NewSubscriber("client-1", 0)
	p.Register(sub)
	require.NoError(t, p.Subscribe("client-1", ChannelTrade, "BTCUSDT"))
	p.Unsubscribe("client-1", ChannelTrade, "BTCUSDT")

	p.Publish(ChannelTrade, "BTCUSDT", "payload")

	select {
	case <-sub.Outbound:
		t.Fatal("unsubscribed client should not receive the event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublisher_SlowConsumerIsDisconnected(t *testing.T) {
	p := New(zap.NewNop())
	defer p.Close()

	sub := NewSubscriber("client-1", 1)
	p.Register(sub)
	require.NoError(t, p.Subscribe("client-1", ChannelDepth, "BTCUSDT"))

	for i := 0; i < 5; i++ {
		p.Publish(ChannelDepth, "BTCUSDT", i)
	}

	waitFor(t, time.Second, func() bool {
		p.mu.RLock()
		_, ok := p.subscribers["client-1"]
		p.mu.RUnlock()
		return !ok
	})
}

func TestPublisher_MultipleSubscribersSameTopic(t *testing.T) {
	p := New(zap.NewNop())
	defer p.Close()

	sub1 := NewSubscriber("client-1", 0)
	sub2 := NewSubscriber("client-2", 0)
	p.Register(sub1)
	p.Register(sub2)
	require.NoError(t, p.Subscribe("client-1", ChannelOrder, "ETHUSDT"))
	require.NoError(t, p.Subscribe("client-2", ChannelOrder, "ETHUSDT"))

	p.Publish(ChannelOrder, "ETHUSDT", "update")

	for _, sub := range []*Subscriber{sub1, sub2} {
		select {
		case <-sub.Outbound:
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s did not receive the event", sub.ID)
		}
	}
}

// TestPublisher_DispatcherSurvivesFirstSubscriberDisconnect guards against
// the topic dispatcher's lifetime being tied to whichever client happened
// to be first: disconnecting that client must not silence the topic for
// everyone subscribed after it.
func TestPublisher_DispatcherSurvivesFirstSubscriberDisconnect(t *testing.T) {
	p := New(zap.NewNop())
	defer p.Close()

	sub1 := NewSubscriber("client-1", 0)
	sub2 := NewSubscriber("client-2", 0)
	p.Register(sub1)
	p.Register(sub2)
	require.NoError(t, p.Subscribe("client-1", ChannelOrder, "BTCUSDT"))
	require.NoError(t, p.Subscribe("client-2", ChannelOrder, "BTCUSDT"))

	p.Disconnect("client-1")

	p.Publish(ChannelOrder, "BTCUSDT", "update")

	select {
	case <-sub2.Outbound:
	case <-time.After(time.Second):
		t.Fatal("remaining subscriber stopped receiving events after the first subscriber disconnected")
	}

	// A late joiner to the same topic must also still be served by the
	// dispatcher rather than needing one restarted under it.
	sub3 := NewSubscriber("client-3", 0)
	p.Register(sub3)
	require.NoError(t, p.Subscribe("client-3", ChannelOrder, "BTCUSDT"))
	p.Publish(ChannelOrder, "BTCUSDT", "update-2")

	select {
	case <-sub3.Outbound:
	case <-time.After(time.Second):
		t.Fatal("late joiner did not receive events on an already-running topic")
	}
}

func TestSubscriber_StaleAfterMissedHeartbeats(t *testing.T) {
	sub := NewSubscriber("client-1", 0)
	assert.False(t, sub.Stale(time.Now()))
	assert.True(t, sub.Stale(time.Now().Add(3*HeartbeatInterval)))
	sub.Touch()
	assert.False(t, sub.Stale(time.Now()))
}

// TestSubscriber_ConcurrentOfferAndCloseDoesNotPanic exercises the race
// between an in-flight offer and a concurrent disconnect, e.g. a
// subscriber fanned out to by several per-topic dispatchers while the
// heartbeat loop disconnects it. Before offer/markClosed shared a lock,
// this could send on a channel markClosed had just closed.
func TestSubscriber_ConcurrentOfferAndCloseDoesNotPanic(t *testing.T) {
	for i := 0; i < 200; i++ {
		sub := NewSubscriber("client-1", 4)
		var wg sync.WaitGroup
		wg.Add(3)
		for g := 0; g < 2; g++ {
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					sub.offer([]byte("payload"))
				}
			}()
		}
		go func() {
			defer wg.Done()
			sub.markClosed()
		}()
		wg.Wait()
	}
}
