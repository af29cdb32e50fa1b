package device

import (
	"context"
	"sync"

	"github.com/fisaks/uhn-relay/internal/messaging"
)

type fakeBus struct {
	mu        sync.Mutex
	handlers  map[string]messaging.Handler
	published []string
	topics    []string
	unsubbed  []string
	subErr    error
	pubErr    error
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string]messaging.Handler)}
}

func (b *fakeBus) Subscribe(ctx context.Context, topic string, qos messaging.QoS, handler messaging.Handler) (messaging.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subErr != nil {
		return nil, b.subErr
	}
	b.handlers[topic] = handler
	return &fakeSub{bus: b, topic: topic}, nil
}

func (b *fakeBus) Publish(ctx context.Context, topic string, qos messaging.QoS, retain bool, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubErr != nil {
		return b.pubErr
	}
	b.topics = append(b.topics, topic)
	b.published = append(b.published, string(payload))
	return nil
}

// deliver runs the handler on the caller's goroutine.
func (b *fakeBus) deliver(topic, payload string) {
	b.mu.Lock()
	h := b.handlers[topic]
	b.mu.Unlock()
	if h != nil {
		h(context.Background(), topic, []byte(payload))
	}
}

// deliverAs calls the handler registered for subscribed with a different message topic.
func (b *fakeBus) deliverAs(subscribed, topic, payload string) {
	b.mu.Lock()
	h := b.handlers[subscribed]
	b.mu.Unlock()
	if h != nil {
		h(context.Background(), topic, []byte(payload))
	}
}

func (b *fakeBus) feedback() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.published...)
}

type fakeSub struct {
	bus   *fakeBus
	topic string
}

func (s *fakeSub) Topic() string { return s.topic }

func (s *fakeSub) Unsubscribe(ctx context.Context) error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.handlers, s.topic)
	s.bus.unsubbed = append(s.bus.unsubbed, s.topic)
	return nil
}
