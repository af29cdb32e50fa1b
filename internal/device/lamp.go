package device

import (
	"context"
	"fmt"

	"github.com/fisaks/uhn-relay/internal/hw"
	"github.com/fisaks/uhn-relay/internal/uhn"
)

// Lamp is a single relay switched on and off over MQTT. The relay driver holds
// the only copy of the lamp state. A lamp does not publish feedback.
type Lamp struct {
	base
	relay hw.RelayOutput
}

var _ Device = (*Lamp)(nil)

func NewLamp(name string, relay hw.RelayOutput) (*Lamp, error) {
	if relay == nil {
		return nil, fmt.Errorf("lamp %s: relay is required", name)
	}
	l := &Lamp{
		base:  newBase(name, uhn.KindLamp),
		relay: relay,
	}
	l.log.Debug("Create lamp", "relay", relay.Pin())
	return l, nil
}

func (l *Lamp) Pins() ([]string, []string) { return []string{l.relay.Pin()}, nil }

func (l *Lamp) Register(ctx context.Context, bus Bus, listenTopic, reportTopic string) error {
	return l.register(ctx, bus, listenTopic, reportTopic, l.OnMessage)
}

func (l *Lamp) OnMessage(ctx context.Context, topic string, payload []byte) {
	if !l.accepts(topic) {
		return
	}
	cmd, _ := uhn.ParseCommand(payload)
	var err error
	switch cmd {
	case uhn.CmdOn:
		err = l.TurnOn(ctx, uhn.SourceMQTT)
	case uhn.CmdOff:
		err = l.TurnOff(ctx, uhn.SourceMQTT)
	default:
		return
	}
	if err != nil {
		l.log.Error("MQTT command failed", "command", cmd, "error", err)
	}
}

func (l *Lamp) TurnOn(ctx context.Context, src uhn.Source) error {
	return l.set(src, true)
}

func (l *Lamp) TurnOff(ctx context.Context, src uhn.Source) error {
	return l.set(src, false)
}

func (l *Lamp) set(src uhn.Source, on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cmd := uhn.CmdOff
	if on {
		cmd = uhn.CmdOn
	}
	l.log.Debug("Lamp "+string(cmd), "source", src)
	if err := l.relay.Set(on); err != nil {
		return fmt.Errorf("lamp %s %s: %w", l.name, cmd, err)
	}
	return nil
}

func (l *Lamp) IsOn() bool {
	return l.relay.State()
}

func (l *Lamp) Activate(ctx context.Context, src uhn.Source, variant uhn.Command) error {
	if variant != uhn.CmdOn {
		return fmt.Errorf("lamp %s %q: %w", l.name, variant, ErrUnsupportedCommand)
	}
	return l.TurnOn(ctx, src)
}

func (l *Lamp) Deactivate(ctx context.Context, src uhn.Source) error {
	return l.TurnOff(ctx, src)
}

// Close drops the subscription and leaves the relay as it is.
func (l *Lamp) Close(ctx context.Context) error {
	return l.unsubscribe(ctx)
}
