package device

import (
	"context"
	"errors"
	"testing"

	"github.com/fisaks/uhn-relay/internal/hw"
	"github.com/fisaks/uhn-relay/internal/uhn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLamp(t *testing.T) (*Lamp, *hw.MemoryRelay, *fakeBus) {
	t.Helper()
	relay := hw.NewMemoryRelay("17")
	lamp, err := NewLamp("hall", relay)
	require.NoError(t, err)
	bus := newFakeBus()
	require.NoError(t, lamp.Register(context.Background(), bus, "home/hall/set", "home/hall/state"))
	return lamp, relay, bus
}

func TestLampMQTTOnOff(t *testing.T) {
	lamp, relay, bus := newTestLamp(t)

	bus.deliver("home/hall/set", "on")
	assert.True(t, relay.State())
	assert.True(t, lamp.IsOn())

	bus.deliver("home/hall/set", "off")
	assert.False(t, lamp.IsOn())

	assert.Empty(t, bus.feedback(), "lamp never publishes feedback")

	relays, buttons := lamp.Pins()
	assert.Equal(t, []string{"17"}, relays)
	assert.Nil(t, buttons)
}

func TestLampIdempotent(t *testing.T) {
	lamp, relay, bus := newTestLamp(t)

	bus.deliver("home/hall/set", "on")
	bus.deliver("home/hall/set", "on")
	assert.True(t, lamp.IsOn())
	assert.Equal(t, 2, relay.Writes(), "redundant writes are allowed")
}

func TestLampIgnoresUnknownPayloadAndTopic(t *testing.T) {
	_, relay, bus := newTestLamp(t)

	for _, p := range []string{"pause", "ON", "open", "stop", ""} {
		bus.deliver("home/hall/set", p)
	}
	bus.deliverAs("home/hall/set", "home/other/set", "on")

	assert.Equal(t, 0, relay.Writes())
	assert.Empty(t, bus.feedback())
}

func TestLampActivateDeactivate(t *testing.T) {
	lamp, _, _ := newTestLamp(t)
	ctx := context.Background()

	require.NoError(t, lamp.Activate(ctx, uhn.SourceMQTT, uhn.CmdOn))
	assert.True(t, lamp.IsOn())
	require.NoError(t, lamp.Deactivate(ctx, uhn.SourceMQTT))
	assert.False(t, lamp.IsOn())

	assert.ErrorIs(t, lamp.Activate(ctx, uhn.SourceMQTT, uhn.CmdOpen), ErrUnsupportedCommand)
}

func TestLampRelayError(t *testing.T) {
	lamp, relay, bus := newTestLamp(t)
	boom := errors.New("relay stuck")
	relay.FailWith(boom)

	assert.ErrorIs(t, lamp.TurnOn(context.Background(), uhn.SourceMQTT), boom)
	// MQTT path logs and keeps going
	bus.deliver("home/hall/set", "on")
	assert.False(t, lamp.IsOn())
}

func TestLampRegister(t *testing.T) {
	lamp, _, bus := newTestLamp(t)

	err := lamp.Register(context.Background(), bus, "x", "y")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	listen, report := lamp.Topics()
	assert.Equal(t, "home/hall/set", listen)
	assert.Equal(t, "home/hall/state", report)
	assert.Equal(t, uhn.KindLamp, lamp.Kind())
	assert.Equal(t, "hall", lamp.Name())

	require.NoError(t, lamp.Close(context.Background()))
	assert.Equal(t, []string{"home/hall/set"}, bus.unsubbed)
}

func TestLampRegisterErrors(t *testing.T) {
	lamp, err := NewLamp("hall", hw.NewMemoryRelay("1"))
	require.NoError(t, err)

	assert.Error(t, lamp.Register(context.Background(), nil, "a", "b"))
	assert.Error(t, lamp.Register(context.Background(), newFakeBus(), "", "b"))

	bus := newFakeBus()
	bus.subErr = errors.New("suback refused")
	assert.ErrorContains(t, lamp.Register(context.Background(), bus, "a", "b"), "suback refused")

	// a failed registration can be retried
	require.NoError(t, lamp.Register(context.Background(), newFakeBus(), "a", "b"))

	_, err = NewLamp("none", nil)
	assert.Error(t, err)
}
