package catalog

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/fisaks/uhn-relay/internal/device"
	"github.com/fisaks/uhn-relay/internal/hw"
	"github.com/fisaks/uhn-relay/internal/messaging"
	"github.com/fisaks/uhn-relay/internal/uhn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopSub struct{ topic string }

func (s nopSub) Topic() string                     { return s.topic }
func (s nopSub) Unsubscribe(context.Context) error { return nil }

type nopBus struct{}

func (nopBus) Subscribe(_ context.Context, topic string, _ messaging.QoS, _ messaging.Handler) (messaging.Subscription, error) {
	return nopSub{topic}, nil
}

func (nopBus) Publish(context.Context, string, messaging.QoS, bool, []byte) error { return nil }

func TestCatalogOnConnectPublish(t *testing.T) {
	ctx := context.Background()

	lamp, err := device.NewLamp("hall", hw.NewMemoryRelay("17"))
	require.NoError(t, err)
	require.NoError(t, lamp.Register(ctx, nopBus{}, "uhn/edge1/hall/set", "uhn/edge1/hall/state"))

	shutter, err := device.NewShutter("living", hw.NewMemoryRelay("20"), hw.NewMemoryRelay("21"), 45*time.Second)
	require.NoError(t, err)
	require.NoError(t, shutter.Register(ctx, nopBus{}, "uhn/edge1/living/set", "uhn/edge1/living/state"))
	require.NoError(t, shutter.BindButtons(ctx, hw.NewMemoryInput("5"), hw.NewMemoryInput("6")))

	cat := NewEdgeCatalog("edge1", "memory", "uhn/edge1/catalog")
	cat.Add(lamp)
	cat.Add(shutter)

	req, err := cat.OnConnectPublish()
	require.NoError(t, err)
	assert.Equal(t, "uhn/edge1/catalog", req.Topic)
	assert.Equal(t, messaging.AtLeastOnce, req.Qos)
	assert.True(t, req.Retain)

	raw, err := json.Marshal(req.Payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"edge": "edge1",
		"io": "memory",
		"devices": [
			{"name": "hall", "kind": "lamp", "listenTopic": "uhn/edge1/hall/set", "reportTopic": "uhn/edge1/hall/state", "relayPins": ["17"]},
			{"name": "living", "kind": "shutter", "listenTopic": "uhn/edge1/living/set", "reportTopic": "uhn/edge1/living/state",
			 "relayPins": ["20", "21"], "buttonPins": ["5", "6"], "timeoutSeconds": 45}
		]
	}`, string(raw))

	msg := cat.Build()
	assert.Equal(t, uhn.KindShutter, msg.Devices[1].Kind)
}

func TestCatalogEmpty(t *testing.T) {
	msg := NewEdgeCatalog("edge1", "gpio", "uhn/edge1/catalog").Build()
	assert.NotNil(t, msg.Devices)
	assert.Empty(t, msg.Devices)
}
