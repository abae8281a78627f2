package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"

	"github.com/kairostrade/matchingcore/internal/apperrors"
)

// Publisher is the Event Publisher. Internally it drives one watermill
// gochannel topic per (channel, symbol) — this is what guarantees the
// per-(channel,symbol) emission ordering required by spec §4.6/§5 — and
// fans each message out to every subscriber currently registered for that
// topic.
type Publisher struct {
	bus    *gochannel.GoChannel
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	// topicSubs mirrors subscriptions for O(subscribers-of-topic) fan-out
	// instead of scanning every connected client on every publish.
	topicSubs map[string]map[string]bool // topic -> subscriber ID set

	// ctx governs every per-topic dispatcher goroutine. It must outlive any
	// single client: a dispatcher started for the first subscriber to a
	// topic keeps running for every subscriber that comes after, so its
	// lifetime can never be tied to one client's connection context.
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Publisher. Call Close to stop its background dispatch and
// heartbeat loops.
func New(logger *zap.Logger) *Publisher {
	wmLogger := watermill.NopLogger{}
	bus := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 1000,
		Persistent:          false,
	}, wmLogger)

	ctx, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		bus:         bus,
		logger:      logger,
		subscribers: make(map[string]*Subscriber),
		topicSubs:   make(map[string]map[string]bool),
		ctx:         ctx,
		cancel:      cancel,
	}
	go p.heartbeatLoop(ctx)
	return p
}

// Register adds a new subscriber with no subscriptions yet.
func (p *Publisher) Register(sub *Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers[sub.ID] = sub
}

// Subscribe adds (channel, symbol) to a registered client's subscription
// set and starts consuming that topic from the bus the first time any
// client subscribes to it; that one dispatcher then serves the topic for
// the Publisher's lifetime.
func (p *Publisher) Subscribe(clientID string, channel Channel, symbol string) error {
	p.mu.Lock()
	sub, ok := p.subscribers[clientID]
	if !ok {
		p.mu.Unlock()
		return apperrors.Newf(apperrors.ErrNotFound, "unknown subscriber %s", clientID)
	}
	t := topic(channel, symbol)
	// The per-topic set is never removed once created, so its absence
	// means no dispatcher has been started for t yet.
	firstSubscriber := p.topicSubs[t] == nil
	if p.topicSubs[t] == nil {
		p.topicSubs[t] = make(map[string]bool)
	}
	p.topicSubs[t][clientID] = true
	p.mu.Unlock()

	sub.subscribe(channel, symbol)

	if firstSubscriber {
		return p.consumeTopic(t)
	}
	return nil
}

// consumeTopic starts a dispatcher goroutine draining the bus topic and
// fanning messages out to every currently interested subscriber. It runs
// off the Publisher's own context, not any one client's, so the first
// subscriber to a topic disconnecting never silences it for everyone
// still subscribed.
func (p *Publisher) consumeTopic(t string) error {
	messages, err := p.bus.Subscribe(p.ctx, t)
	if err != nil {
		return err
	}
	go func() {
		for msg := range messages {
			p.dispatch(t, msg.Payload)
			msg.Ack()
		}
	}()
	return nil
}

func (p *Publisher) dispatch(t string, payload []byte) {
	p.mu.RLock()
	clientIDs := make([]string, 0, len(p.topicSubs[t]))
	for id := range p.topicSubs[t] {
		clientIDs = append(clientIDs, id)
	}
	subs := make([]*Subscriber, 0, len(clientIDs))
	for _, id := range clientIDs {
		if s, ok := p.subscribers[id]; ok {
			subs = append(subs, s)
		}
	}
	p.mu.RUnlock()

	for _, sub := range subs {
		if !sub.offer(payload) {
			p.logger.Warn("disconnecting slow consumer", zap.String("subscriber_id", sub.ID))
			p.Disconnect(sub.ID)
		}
	}
}

// Unsubscribe removes (channel, symbol) from a client's subscription set.
func (p *Publisher) Unsubscribe(clientID string, channel Channel, symbol string) {
	p.mu.Lock()
	sub, ok := p.subscribers[clientID]
	t := topic(channel, symbol)
	if ok {
		delete(p.topicSubs[t], clientID)
	}
	p.mu.Unlock()
	if ok {
		sub.unsubscribe(channel, symbol)
	}
}

// Publish emits an event onto its (channel, symbol) topic. Delivery
// failures are logged, never rolled back against persisted state, per
// spec §7/§9.
func (p *Publisher) Publish(channel Channel, symbol string, data interface{}) {
	evt := Event{Channel: channel, Symbol: symbol, Data: data, Timestamp: time.Now()}
	payload, err := json.Marshal(evt)
	if err != nil {
		p.logger.Error("failed to marshal event", zap.Error(err))
		return
	}
	t := topic(channel, symbol)
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := p.bus.Publish(t, msg); err != nil {
		p.logger.Error("failed to publish event", zap.Error(err), zap.String("topic", t))
	}
}

// Disconnect tears down a subscriber: its outbound queue is closed and it
// is removed from every topic it was subscribed to.
func (p *Publisher) Disconnect(clientID string) {
	p.mu.Lock()
	sub, ok := p.subscribers[clientID]
	if ok {
		delete(p.subscribers, clientID)
		for t := range p.topicSubs {
			delete(p.topicSubs[t], clientID)
		}
	}
	p.mu.Unlock()
	if ok {
		sub.markClosed()
	}
}

func (p *Publisher) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			p.mu.RLock()
			stale := make([]string, 0)
			for id, sub := range p.subscribers {
				if sub.Stale(now) {
					stale = append(stale, id)
				}
			}
			p.mu.RUnlock()
			for _, id := range stale {
				p.logger.Info("heartbeat timeout, disconnecting subscriber", zap.String("subscriber_id", id))
				p.Disconnect(id)
			}
		}
	}
}

// Close stops the heartbeat loop and the underlying bus.
func (p *Publisher) Close() error {
	p.cancel()
	return p.bus.Close()
}
