package events

import (
	"sync"
	"time"
)

// DefaultOutboundQueueSize is the bounded per-client outbound capacity
// named in spec §5 ("Subscriber outbound queues: bounded (default 1,024)").
const DefaultOutboundQueueSize = 1024

// HeartbeatInterval is how often subscribers are pinged, per spec §4.6.
const HeartbeatInterval = 30 * time.Second

// Subscriber is one connected client's subscription state and bounded
// outbound queue. The Publisher writes serialized events into Outbound;
// the transport layer (internal/transport/ws) drains it onto the wire.
type Subscriber struct {
	ID       string
	Outbound chan []byte

	mu            sync.RWMutex
	subscriptions map[string]bool // "channel.symbol" -> true
	closed        bool
	lastPong      time.Time
}

// NewSubscriber creates a Subscriber with a queue of the given capacity
// (DefaultOutboundQueueSize when size <= 0).
func NewSubscriber(id string, size int) *Subscriber {
	if size <= 0 {
		size = DefaultOutboundQueueSize
	}
	return &Subscriber{
		ID:            id,
		Outbound:      make(chan []byte, size),
		subscriptions: make(map[string]bool),
		lastPong:      time.Now(),
	}
}

func (s *Subscriber) subscribe(channel Channel, symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[topic(channel, symbol)] = true
}

func (s *Subscriber) unsubscribe(channel Channel, symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, topic(channel, symbol))
}

func (s *Subscriber) isSubscribed(channel Channel, symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscriptions[topic(channel, symbol)]
}

// Offer is the exported form of offer, for transports that write
// control-plane acknowledgements (e.g. a subscribe confirmation) directly
// onto a subscriber's queue outside of the Publisher's own dispatch path.
func (s *Subscriber) Offer(payload []byte) bool {
	return s.offer(payload)
}

// offer attempts a non-blocking send. It returns false when the queue is
// full, signaling the caller to disconnect this subscriber as a
// SlowConsumer, per spec §4.6/§7.
//
// The closed-check and the send share markClosed's lock so a concurrent
// close can never land between them: multiple per-topic dispatcher
// goroutines can be offering to the same subscriber at once, and any of
// them racing a markClosed triggered by the heartbeat loop or another
// dispatcher's SlowConsumer disconnect must never send on the channel
// markClosed is closing.
func (s *Subscriber) offer(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.Outbound <- payload:
		return true
	default:
		return false
	}
}

func (s *Subscriber) markClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.Outbound)
}

// Touch records a successful heartbeat response.
func (s *Subscriber) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPong = time.Now()
}

// Stale reports whether the subscriber missed its last heartbeat window.
func (s *Subscriber) Stale(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.Sub(s.lastPong) > 2*HeartbeatInterval
}
