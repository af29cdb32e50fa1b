package catalog

import (
	"sync"

	"github.com/fisaks/uhn-relay/internal/device"
	"github.com/fisaks/uhn-relay/internal/messaging"
	"github.com/fisaks/uhn-relay/internal/uhn"
)

type EdgeCatalogMessage struct {
	Edge    string          `json:"edge"`
	IO      string          `json:"io"`
	Devices []DeviceSummary `json:"devices"`
}

type DeviceSummary struct {
	Name           string   `json:"name"`
	Kind           uhn.Kind `json:"kind"`
	ListenTopic    string   `json:"listenTopic"`
	ReportTopic    string   `json:"reportTopic,omitempty"`
	RelayPins      []string `json:"relayPins"`
	ButtonPins     []string `json:"buttonPins,omitempty"`
	TimeoutSeconds float64  `json:"timeoutSeconds,omitempty"`
}

type Catalog struct {
	edge  string
	io    string
	topic string

	mu      sync.RWMutex
	devices []device.Device
}

// NewEdgeCatalog publishes to topic, usually broker.Topic("catalog").
func NewEdgeCatalog(edge, ioType, topic string) *Catalog {
	return &Catalog{edge: edge, io: ioType, topic: topic}
}

func (c *Catalog) Add(d device.Device) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devices = append(c.devices, d)
}

func (c *Catalog) Build() EdgeCatalogMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()

	devices := make([]DeviceSummary, 0, len(c.devices))
	for _, d := range c.devices {
		listen, report := d.Topics()
		relays, buttons := d.Pins()
		sum := DeviceSummary{
			Name:        d.Name(),
			Kind:        d.Kind(),
			ListenTopic: listen,
			ReportTopic: report,
			RelayPins:   relays,
			ButtonPins:  buttons,
		}
		if s, ok := d.(*device.Shutter); ok {
			sum.TimeoutSeconds = s.Timeout().Seconds()
		}
		devices = append(devices, sum)
	}
	return EdgeCatalogMessage{Edge: c.edge, IO: c.io, Devices: devices}
}

// OnConnectPublish is registered with the broker so the catalog is
// republished, retained, after every (re)connect.
func (c *Catalog) OnConnectPublish() (messaging.PublishRequest, error) {
	return messaging.PublishRequest{
		Topic:   c.topic,
		Qos:     messaging.AtLeastOnce,
		Retain:  true,
		Payload: c.Build(),
	}, nil
}
