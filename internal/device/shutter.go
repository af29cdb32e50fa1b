package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fisaks/uhn-relay/internal/hw"
	"github.com/fisaks/uhn-relay/internal/timer"
	"github.com/fisaks/uhn-relay/internal/uhn"
)

const DefaultTimeout = 30 * time.Second

// Shutter drives a roller shutter motor through an up relay and a down relay.
//
// Invariants, all held under mu:
//   - at most one of relayUp and relayDown is on
//   - at most one safety timer is armed, and only a timer whose generation
//     matches the current one may stop the motor
type Shutter struct {
	base
	relayUp   hw.RelayOutput
	relayDown hw.RelayOutput
	timeout   time.Duration

	state      uhn.MotionState
	timer      *timer.Timer
	generation uint64

	buttonUp   hw.DigitalInput
	buttonDown hw.DigitalInput
}

var (
	_ Device        = (*Shutter)(nil)
	_ ButtonHandler = (*Shutter)(nil)
)

func NewShutter(name string, relayUp, relayDown hw.RelayOutput, timeout time.Duration) (*Shutter, error) {
	if relayUp == nil || relayDown == nil {
		return nil, fmt.Errorf("shutter %s: both relays are required", name)
	}
	if relayUp == relayDown || relayUp.Pin() == relayDown.Pin() {
		return nil, fmt.Errorf("shutter %s: up and down relay must differ (pin %s)", name, relayUp.Pin())
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := &Shutter{
		base:      newBase(name, uhn.KindShutter),
		relayUp:   relayUp,
		relayDown: relayDown,
		timeout:   timeout,
	}
	s.log.Debug("Create shutter", "relayUp", relayUp.Pin(), "relayDown", relayDown.Pin(), "timeout", timeout)
	return s, nil
}

func (s *Shutter) Timeout() time.Duration { return s.timeout }

func (s *Shutter) State() uhn.MotionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Shutter) Pins() ([]string, []string) {
	relays := []string{s.relayUp.Pin(), s.relayDown.Pin()}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buttonUp == nil {
		return relays, nil
	}
	return relays, []string{s.buttonUp.Pin(), s.buttonDown.Pin()}
}

func (s *Shutter) Register(ctx context.Context, bus Bus, listenTopic, reportTopic string) error {
	return s.register(ctx, bus, listenTopic, reportTopic, s.OnMessage)
}

// BindButtons links the manual inputs. Pressing a button moves the shutter,
// releasing either button stops it.
func (s *Shutter) BindButtons(ctx context.Context, up, down hw.DigitalInput) error {
	if up == nil || down == nil {
		return fmt.Errorf("shutter %s: both buttons are required", s.name)
	}
	s.mu.Lock()
	if s.buttonUp != nil || s.buttonDown != nil {
		s.mu.Unlock()
		return fmt.Errorf("shutter %s: %w", s.name, ErrAlreadyBound)
	}
	s.buttonUp, s.buttonDown = up, down
	s.mu.Unlock()

	s.log.Debug("Link GPI", "buttonUp", up.Pin(), "buttonDown", down.Pin())

	up.Watch(func(e hw.Edge) {
		if e.Pressed {
			s.OnUp(ctx, e.Pin)
		} else {
			s.OnStop(ctx, e.Pin)
		}
	})
	down.Watch(func(e hw.Edge) {
		if e.Pressed {
			s.OnDown(ctx, e.Pin)
		} else {
			s.OnStop(ctx, e.Pin)
		}
	})
	return nil
}

func (s *Shutter) OnUp(ctx context.Context, pin string) {
	s.log.Debug("Manual up", "pin", pin)
	if err := s.Up(ctx, uhn.SourceManual); err != nil {
		s.log.Error("Manual up failed", "pin", pin, "error", err)
	}
}

func (s *Shutter) OnDown(ctx context.Context, pin string) {
	s.log.Debug("Manual down", "pin", pin)
	if err := s.Down(ctx, uhn.SourceManual); err != nil {
		s.log.Error("Manual down failed", "pin", pin, "error", err)
	}
}

func (s *Shutter) OnStop(ctx context.Context, pin string) {
	s.log.Debug("Manual stop", "pin", pin)
	if err := s.Stop(ctx, uhn.SourceManual); err != nil {
		s.log.Error("Manual stop failed", "pin", pin, "error", err)
	}
}

func (s *Shutter) OnMessage(ctx context.Context, topic string, payload []byte) {
	if !s.accepts(topic) {
		return
	}
	cmd, _ := uhn.ParseCommand(payload)
	var err error
	switch cmd {
	case uhn.CmdOpen:
		err = s.Up(ctx, uhn.SourceMQTT)
	case uhn.CmdClose:
		err = s.Down(ctx, uhn.SourceMQTT)
	case uhn.CmdStop:
		err = s.Stop(ctx, uhn.SourceMQTT)
	default:
		return
	}
	if err != nil {
		s.log.Error("MQTT command failed", "command", cmd, "error", err)
	}
}

func (s *Shutter) Up(ctx context.Context, src uhn.Source) error {
	return s.move(ctx, src, uhn.MovingUp)
}

func (s *Shutter) Down(ctx context.Context, src uhn.Source) error {
	return s.move(ctx, src, uhn.MovingDown)
}

func (s *Shutter) Stop(ctx context.Context, src uhn.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Debug("Stop", "source", src)
	return s.stopLocked(ctx)
}

func (s *Shutter) Activate(ctx context.Context, src uhn.Source, variant uhn.Command) error {
	switch variant {
	case uhn.CmdOpen:
		return s.Up(ctx, src)
	case uhn.CmdClose:
		return s.Down(ctx, src)
	}
	return fmt.Errorf("shutter %s %q: %w", s.name, variant, ErrUnsupportedCommand)
}

func (s *Shutter) Deactivate(ctx context.Context, src uhn.Source) error {
	return s.Stop(ctx, src)
}

// Close stops the motor without feedback and drops the subscription.
func (s *Shutter) Close(ctx context.Context) error {
	s.mu.Lock()
	s.disarmLocked()
	s.state = uhn.Idle
	relayErr := errors.Join(s.relayUp.Set(false), s.relayDown.Set(false))
	s.mu.Unlock()

	return errors.Join(relayErr, s.unsubscribe(ctx))
}

func (s *Shutter) move(ctx context.Context, src uhn.Source, dir uhn.MotionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	on, off := s.relayUp, s.relayDown
	if dir == uhn.MovingDown {
		on, off = s.relayDown, s.relayUp
	}
	s.log.Debug("Move", "direction", dir, "source", src)

	// the opposite relay must be off before ours is energized
	if err := off.Set(false); err != nil {
		return fmt.Errorf("shutter %s %s: release relay %s: %w", s.name, dir, off.Pin(), err)
	}
	if err := on.Set(true); err != nil {
		s.disarmLocked()
		s.state = uhn.Idle
		return fmt.Errorf("shutter %s %s: energize relay %s: %w", s.name, dir, on.Pin(), err)
	}
	s.state = dir
	s.rearmLocked()

	return s.publishFeedback(ctx, dir.Feedback())
}

func (s *Shutter) stopLocked(ctx context.Context) error {
	s.disarmLocked()
	s.state = uhn.Idle
	if err := errors.Join(s.relayUp.Set(false), s.relayDown.Set(false)); err != nil {
		return fmt.Errorf("shutter %s stop: %w", s.name, err)
	}
	return s.publishFeedback(ctx, uhn.CmdStop)
}

// rearmLocked replaces any pending safety timer with a fresh one.
func (s *Shutter) rearmLocked() {
	s.timer.Cancel()
	s.generation++
	gen := s.generation
	s.timer = timer.Start(s.timeout, func() { s.onTimeout(gen) })
	s.log.Debug("Start timer", "timeout", s.timeout, "deadline", s.timer.Deadline())
}

func (s *Shutter) disarmLocked() {
	if s.timer.Cancel() {
		s.log.Debug("Cancel timer", "remaining", s.timer.Remaining())
	}
	s.timer = nil
	s.generation++
}

func (s *Shutter) onTimeout(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		s.log.Debug("Stale timer ignored", "generation", gen, "current", s.generation)
		return
	}
	s.log.Debug("Stop", "source", uhn.SourceTimer)
	if err := s.stopLocked(context.Background()); err != nil {
		s.log.Error("Timer stop failed", "error", err)
	}
}
