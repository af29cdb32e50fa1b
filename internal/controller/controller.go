// Package controller builds the configured lamps and shutters, binds them to
// the I/O backend and registers them on the message broker.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fisaks/uhn-relay/internal/catalog"
	"github.com/fisaks/uhn-relay/internal/config"
	"github.com/fisaks/uhn-relay/internal/device"
	"github.com/fisaks/uhn-relay/internal/gpio"
	"github.com/fisaks/uhn-relay/internal/hw"
	"github.com/fisaks/uhn-relay/internal/logging"
	"github.com/fisaks/uhn-relay/internal/poller"
)

// Broker is the part of messaging.Broker the controller needs.
type Broker interface {
	device.Bus
	Topic(parts ...string) string
}

// NewProvider opens the I/O backend named by io.Type.
func NewProvider(io config.IOConfig) (hw.Provider, error) {
	switch io.Type {
	case config.IOTypeGPIO:
		chip, err := gpio.Open(io.Chip, io.Debounce())
		if err != nil {
			return nil, err
		}
		return chip, nil
	case config.IOTypeModbus:
		p, err := poller.NewBusPoller(io)
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.IOTypeMemory:
		return hw.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported io type: %q", io.Type)
	}
}

type starter interface {
	Start(ctx context.Context)
}

type Edge struct {
	cfg      *config.EdgeConfig
	provider hw.Provider
	broker   Broker
	catalog  *catalog.Catalog

	mu        sync.Mutex
	devices   []device.Device
	listening map[string]string // listen topic -> device
}

// New does no I/O. cat may be nil.
func New(cfg *config.EdgeConfig, provider hw.Provider, broker Broker, cat *catalog.Catalog) *Edge {
	return &Edge{cfg: cfg, provider: provider, broker: broker, catalog: cat}
}

// Start builds and registers every device, then starts input polling when the
// backend needs it. On error the devices built so far are closed.
func (e *Edge) Start(ctx context.Context) error {
	for _, lc := range e.cfg.Lamps {
		if err := e.startLamp(ctx, lc); err != nil {
			return errors.Join(err, e.closeDevices(ctx))
		}
	}
	for _, sc := range e.cfg.Shutters {
		if err := e.startShutter(ctx, sc); err != nil {
			return errors.Join(err, e.closeDevices(ctx))
		}
	}
	if s, ok := e.provider.(starter); ok {
		s.Start(ctx)
	}
	logging.Info("Devices started", "lamps", len(e.cfg.Lamps), "shutters", len(e.cfg.Shutters), "io", e.cfg.IO.Type)
	return nil
}

// topics resolves the default topics and claims the listen topic for name.
// Two devices on one listen topic would share a single broker route.
func (e *Edge) topics(name, listen, report string) (string, string, error) {
	if listen == "" {
		listen = e.broker.Topic(name, "set")
	}
	if report == "" {
		report = e.broker.Topic(name, "state")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listening == nil {
		e.listening = map[string]string{}
	}
	if other, clash := e.listening[listen]; clash {
		return "", "", fmt.Errorf("%s: listen topic %q already used by %s", name, listen, other)
	}
	e.listening[listen] = name
	return listen, report, nil
}

func (e *Edge) startLamp(ctx context.Context, lc config.LampConfig) error {
	listen, report, err := e.topics(lc.Name, lc.ListenTopic, lc.ReportTopic)
	if err != nil {
		return err
	}
	relay, err := e.provider.Relay(lc.RelayPin, lc.ActiveHigh)
	if err != nil {
		return fmt.Errorf("lamp %s: %w", lc.Name, err)
	}
	lamp, err := device.NewLamp(lc.Name, relay)
	if err != nil {
		return err
	}
	if err := lamp.Register(ctx, e.broker, listen, report); err != nil {
		return err
	}
	e.add(lamp)
	return nil
}

func (e *Edge) startShutter(ctx context.Context, sc config.ShutterConfig) error {
	listen, report, err := e.topics(sc.Name, sc.ListenTopic, sc.ReportTopic)
	if err != nil {
		return err
	}
	up, err := e.provider.Relay(sc.RelayUpPin, sc.ActiveHigh)
	if err != nil {
		return fmt.Errorf("shutter %s: up relay: %w", sc.Name, err)
	}
	down, err := e.provider.Relay(sc.RelayDownPin, sc.ActiveHigh)
	if err != nil {
		return fmt.Errorf("shutter %s: down relay: %w", sc.Name, err)
	}
	shutter, err := device.NewShutter(sc.Name, up, down, sc.Timeout())
	if err != nil {
		return err
	}
	if err := shutter.Register(ctx, e.broker, listen, report); err != nil {
		return err
	}
	// registered devices are closed on a later failure
	e.add(shutter)

	if sc.HasButtons() {
		buttonUp, err := e.provider.Input(*sc.ButtonUpPin)
		if err != nil {
			return fmt.Errorf("shutter %s: up button: %w", sc.Name, err)
		}
		buttonDown, err := e.provider.Input(*sc.ButtonDownPin)
		if err != nil {
			return fmt.Errorf("shutter %s: down button: %w", sc.Name, err)
		}
		if err := shutter.BindButtons(context.WithoutCancel(ctx), buttonUp, buttonDown); err != nil {
			return err
		}
	}
	return nil
}

func (e *Edge) add(d device.Device) {
	e.mu.Lock()
	e.devices = append(e.devices, d)
	e.mu.Unlock()
	if e.catalog != nil {
		e.catalog.Add(d)
	}
}

func (e *Edge) Devices() []device.Device {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]device.Device(nil), e.devices...)
}

// Device looks a device up by name.
func (e *Edge) Device(name string) (device.Device, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, d := range e.devices {
		if d.Name() == name {
			return d, true
		}
	}
	return nil, false
}

func (e *Edge) closeDevices(ctx context.Context) error {
	e.mu.Lock()
	devices := e.devices
	e.devices = nil
	e.listening = nil
	e.mu.Unlock()

	var errs []error
	for _, d := range devices {
		if err := d.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", d.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close de-energizes every relay, then releases the I/O backend.
func (e *Edge) Close(ctx context.Context) error {
	err := e.closeDevices(ctx)
	if perr := e.provider.Close(); perr != nil {
		err = errors.Join(err, fmt.Errorf("close io: %w", perr))
	}
	logging.Info("Devices stopped")
	return err
}
