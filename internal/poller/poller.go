// Package poller turns the discrete inputs of a Modbus I/O module into button
// edges and hands out its coils as relays.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/fisaks/uhn-relay/internal/config"
	"github.com/fisaks/uhn-relay/internal/hw"
	"github.com/fisaks/uhn-relay/internal/logging"
	"github.com/fisaks/uhn-relay/internal/modbus"
	"github.com/fisaks/uhn-relay/internal/util"
)

type BusPoller struct {
	Bus        *config.BusConfig
	UnitId     uint8
	PollPeriod time.Duration

	client DeviceClient
	pollCh chan ZeroSignal

	mu     sync.Mutex
	inputs map[uint16]*input
	coils  map[uint16]*modbus.Coil
	primed bool
	cancel context.CancelFunc
	done   chan struct{}
}

var _ hw.Provider = (*BusPoller)(nil)

func NewBusPoller(io config.IOConfig) (*BusPoller, error) {
	if io.Bus == nil {
		return nil, fmt.Errorf("modbus io requires a bus")
	}
	client, err := modbus.NewDeviceClient(io.Bus, io.UnitId)
	if err != nil {
		return nil, err
	}
	return newBusPoller(io.Bus, io.UnitId, io.PollInterval(), client), nil
}

func newBusPoller(bus *config.BusConfig, unitId uint8, period time.Duration, client DeviceClient) *BusPoller {
	if period <= 0 {
		period = config.DefaultPollIntervalMs * time.Millisecond
	}
	return &BusPoller{
		Bus:        bus,
		UnitId:     unitId,
		PollPeriod: period,
		client:     client,
		pollCh:     make(chan ZeroSignal, 1),
		inputs:     map[uint16]*input{},
		coils:      map[uint16]*modbus.Coil{},
	}
}

// Relay returns the coil at address pin.
func (p *BusPoller) Relay(pin int, _ bool) (hw.RelayOutput, error) {
	addr, err := address(pin)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.coils[addr]; ok {
		return c, nil
	}
	c := modbus.NewCoil(p.client, addr, 2*p.Bus.Timeout())
	p.coils[addr] = c
	return c, nil
}

// Input returns the discrete input at address pin. A set bit is a press.
func (p *BusPoller) Input(pin int) (hw.DigitalInput, error) {
	addr, err := address(pin)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if in, ok := p.inputs[addr]; ok {
		return in, nil
	}
	in := &input{pin: "di:" + strconv.Itoa(pin)}
	p.inputs[addr] = in
	p.primed = false
	return in, nil
}

func address(pin int) (uint16, error) {
	if pin < 0 || pin > 0xFFFF {
		return 0, fmt.Errorf("modbus address %d out of range", pin)
	}
	return uint16(pin), nil
}

// Start runs the poll loop until ctx is done or Close is called.
func (p *BusPoller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	n := len(p.inputs)
	p.mu.Unlock()

	go func() {
		t := time.NewTicker(p.PollPeriod)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				select {
				case p.pollCh <- Zero: // send a signal; drop if one is queued
				default:
				}
			}
		}
	}()

	logging.Info("BusPoller started", "bus", p.Bus.BusId, "unit", p.UnitId, "poll", p.PollPeriod.Milliseconds(), "inputs", n)
	go func() {
		defer close(done)
		p.poller(ctx)
	}()
}

func (p *BusPoller) poller(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			logging.Info("BusPoller ctx done", "bus", p.Bus.BusId)
			return
		case <-p.pollCh:
			if err := p.pollOnce(ctx); err != nil {
				logging.Warn("Poll failed", "bus", p.Bus.BusId, "unit", p.UnitId, "error", err)
			}
		}
	}
}

// pollOnce reads the span covering every watched input and emits an edge for
// each input whose level changed since the previous successful read. The
// first read only records levels.
func (p *BusPoller) pollOnce(ctx context.Context) error {
	p.mu.Lock()
	if len(p.inputs) == 0 {
		p.mu.Unlock()
		return nil
	}
	addrs := make([]uint16, 0, len(p.inputs))
	for a := range p.inputs {
		addrs = append(addrs, a)
	}
	p.mu.Unlock()

	slices.Sort(addrs)
	start := addrs[0]
	count := addrs[len(addrs)-1] - start + 1

	data, err := p.client.ReadDiscreteInputs(ctx, start, count)
	if err != nil {
		return err
	}
	if logging.Logger.Enabled(ctx, slog.LevelDebug) {
		logging.Debug("Discrete inputs", "bus", p.Bus.BusId, "start", start, "bits", util.BytesToBinaryString(data, int(count)))
	}

	type change struct {
		in      *input
		pressed bool
	}
	var changes []change

	p.mu.Lock()
	primed := p.primed
	for _, a := range addrs {
		in := p.inputs[a]
		level := util.BitAt(data, int(a-start))
		if primed && level != in.level {
			changes = append(changes, change{in, level})
		}
		in.level = level
	}
	p.primed = true
	p.mu.Unlock()

	for _, c := range changes {
		c.in.emit(c.pressed)
	}
	return nil
}

// Close stops polling and closes the bus connection.
func (p *BusPoller) Close() error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	err := p.client.Close()
	logging.Info("BusPoller stopped", "bus", p.Bus.BusId)
	return err
}

type input struct {
	pin   string
	level bool // guarded by BusPoller.mu

	hmu      sync.Mutex
	handlers []hw.EdgeHandler
}

func (in *input) Pin() string { return in.pin }

func (in *input) Watch(fn hw.EdgeHandler) {
	in.hmu.Lock()
	defer in.hmu.Unlock()
	in.handlers = append(in.handlers, fn)
}

func (in *input) emit(pressed bool) {
	in.hmu.Lock()
	handlers := slices.Clone(in.handlers)
	in.hmu.Unlock()
	for _, h := range handlers {
		h(hw.Edge{Pin: in.pin, Pressed: pressed})
	}
}
