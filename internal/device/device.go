// Package device implements the Lamp and Shutter state machines.
//
// Every device serializes its own command handlers with a mutex. Button
// edges, MQTT deliveries and the shutter safety timer all end up in the same
// handlers, so a command is always applied completely before the next one
// starts. There is no locking across devices.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fisaks/uhn-relay/internal/logging"
	"github.com/fisaks/uhn-relay/internal/messaging"
	"github.com/fisaks/uhn-relay/internal/uhn"
)

var (
	ErrAlreadyRegistered  = errors.New("device: already registered")
	ErrAlreadyBound       = errors.New("device: buttons already bound")
	ErrUnsupportedCommand = errors.New("device: unsupported command")
)

// Bus is the part of the message broker a device uses.
type Bus interface {
	Subscribe(ctx context.Context, topic string, qos messaging.QoS, handler messaging.Handler) (messaging.Subscription, error)
	Publish(ctx context.Context, topic string, qos messaging.QoS, retain bool, payload []byte) error
}

type Device interface {
	Name() string
	Kind() uhn.Kind
	Topics() (listen, report string)
	// Pins lists the relay and button pins the device drives, for logs and the catalog.
	Pins() (relays, buttons []string)

	// Register subscribes to the listen topic. Topics are fixed after the first successful call.
	Register(ctx context.Context, bus Bus, listenTopic, reportTopic string) error
	OnMessage(ctx context.Context, topic string, payload []byte)

	Activate(ctx context.Context, src uhn.Source, variant uhn.Command) error
	Deactivate(ctx context.Context, src uhn.Source) error

	Close(ctx context.Context) error
}

// ButtonHandler is what the manual inputs drive. Only the Shutter has buttons.
type ButtonHandler interface {
	OnUp(ctx context.Context, pin string)
	OnDown(ctx context.Context, pin string)
	OnStop(ctx context.Context, pin string)
}

type base struct {
	name string
	kind uhn.Kind
	log  *slog.Logger

	// mu serializes command handlers
	mu sync.Mutex

	regMu       sync.RWMutex
	bus         Bus
	listenTopic string
	reportTopic string
	sub         messaging.Subscription
}

func newBase(name string, kind uhn.Kind) base {
	return base{
		name: name,
		kind: kind,
		log:  logging.With("device", name, "kind", string(kind)),
	}
}

func (b *base) Name() string   { return b.name }
func (b *base) Kind() uhn.Kind { return b.kind }

func (b *base) Topics() (string, string) {
	b.regMu.RLock()
	defer b.regMu.RUnlock()
	return b.listenTopic, b.reportTopic
}

func (b *base) binding() (Bus, string) {
	b.regMu.RLock()
	defer b.regMu.RUnlock()
	return b.bus, b.reportTopic
}

func (b *base) register(ctx context.Context, bus Bus, listenTopic, reportTopic string, handler messaging.Handler) error {
	if bus == nil {
		return fmt.Errorf("register %s: bus is nil", b.name)
	}
	if listenTopic == "" {
		return fmt.Errorf("register %s: %w", b.name, messaging.ErrInvalidTopic)
	}

	b.regMu.Lock()
	defer b.regMu.Unlock()
	if b.bus != nil {
		return fmt.Errorf("register %s: %w", b.name, ErrAlreadyRegistered)
	}

	sub, err := bus.Subscribe(ctx, listenTopic, messaging.AtLeastOnce, handler)
	if err != nil {
		return fmt.Errorf("register %s: %w", b.name, err)
	}
	b.bus = bus
	b.listenTopic = listenTopic
	b.reportTopic = reportTopic
	b.sub = sub

	b.log.Debug("Register MQTT topic", "listen", listenTopic, "feedback", reportTopic)
	return nil
}

// accepts re-checks the topic even though the subscription is already topic scoped.
func (b *base) accepts(topic string) bool {
	listen, _ := b.Topics()
	return listen != "" && topic == listen
}

func (b *base) publishFeedback(ctx context.Context, cmd uhn.Command) error {
	bus, topic := b.binding()
	if bus == nil || topic == "" {
		b.log.Debug("No feedback topic, skipping", "feedback", cmd)
		return nil
	}
	b.log.Debug("Send feedback", "topic", topic, "feedback", cmd)
	if err := bus.Publish(ctx, topic, messaging.AsyncNoWait, false, []byte(cmd)); err != nil {
		return fmt.Errorf("feedback %s on %s: %w", cmd, topic, err)
	}
	return nil
}

func (b *base) unsubscribe(ctx context.Context) error {
	b.regMu.RLock()
	sub := b.sub
	b.regMu.RUnlock()
	if sub == nil {
		return nil
	}
	return sub.Unsubscribe(ctx)
}
