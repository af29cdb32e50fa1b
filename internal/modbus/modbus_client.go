package modbus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fisaks/uhn-relay/internal/config"
	"github.com/fisaks/uhn-relay/internal/logging"
	"github.com/goburrow/modbus"
)

const (
	READ  = uint8(1)
	WRITE = uint8(2)

	MAX_DIGITAL_BITS_PER_READ = uint16(2000)
)

type ModbusHandler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

// DeviceClient talks to one I/O module (unit id) on a bus. Calls are
// serialized; the poller and the relay writers share one connection.
type DeviceClient struct {
	mu sync.Mutex

	handler ModbusHandler // satisfied by both RTU and TCP handlers
	client  modbus.Client
	busId   string
	unitId  byte

	settleAfterWrite time.Duration

	// Connection and backoff state
	connOK      bool
	backoff     time.Duration
	backoffMin  time.Duration
	backoffMax  time.Duration
	lastConnErr error
}

func newDeviceClient(handler ModbusHandler, bus *config.BusConfig, unitId uint8) *DeviceClient {
	c := &DeviceClient{
		handler:          handler,
		client:           modbus.NewClient(handler),
		busId:            bus.BusId,
		unitId:           unitId,
		settleAfterWrite: bus.SettleAfterWrite(),
		connOK:           true,
		backoff:          0, // ready to try now
		backoffMin:       200 * time.Millisecond,
		backoffMax:       5 * time.Second,
	}
	c.setSlave(unitId)
	return c
}

func NewRTUDeviceClient(bus *config.BusConfig, unitId uint8) *DeviceClient {
	handler := modbus.NewRTUClientHandler(bus.Port)
	handler.BaudRate = bus.Baud
	handler.DataBits = bus.DataBits
	handler.Parity = bus.Parity
	handler.StopBits = bus.StopBits
	handler.Timeout = bus.Timeout()
	if bus.Debug {
		handler.Logger = logging.WrapSlog("bus", bus.BusId)
	}
	return newDeviceClient(handler, bus, unitId)
}

func NewTCPDeviceClient(bus *config.BusConfig, unitId uint8) *DeviceClient {
	handler := modbus.NewTCPClientHandler(bus.TCPAddr)
	handler.Timeout = bus.Timeout()
	if bus.Debug {
		handler.Logger = logging.WrapSlog("bus", bus.BusId)
	}
	return newDeviceClient(handler, bus, unitId)
}

func NewDeviceClient(bus *config.BusConfig, unitId uint8) (*DeviceClient, error) {
	switch bus.Type {
	case "rtu":
		return NewRTUDeviceClient(bus, unitId), nil
	case "tcp":
		return NewTCPDeviceClient(bus, unitId), nil
	default:
		return nil, fmt.Errorf("unsupported bus type: %s", bus.Type)
	}
}

func (m *DeviceClient) EnsureConnected(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureConnected(ctx)
}

func (m *DeviceClient) ensureConnected(ctx context.Context) error {
	if m.connOK {
		return nil
	}
	if m.backoff > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.backoff):
		}
	}

	_ = m.handler.Close() // cleanup any stale
	if err := m.handler.Connect(); err != nil {
		m.bumpBackoff(err)
		return err
	}

	m.client = modbus.NewClient(m.handler)
	m.connOK = true
	m.backoff = 0
	m.lastConnErr = nil
	return nil
}

func (m *DeviceClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connOK = false
	return m.handler.Close()
}

func (m *DeviceClient) bumpBackoff(err error) {
	m.connOK = false
	m.lastConnErr = err
	if m.backoff == 0 {
		m.backoff = m.backoffMin
	} else {
		m.backoff *= 2
		if m.backoff > m.backoffMax {
			m.backoff = m.backoffMax
		}
	}
}

func (m *DeviceClient) setSlave(id byte) {
	switch h := m.handler.(type) {
	case *modbus.RTUClientHandler:
		h.SlaveId = id
	case *modbus.TCPClientHandler:
		h.SlaveId = id
	default:
		logging.Error("Unknown Modbus handler type", "type", fmt.Sprintf("%T", h))
	}
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "connection") ||
		strings.Contains(s, "broken pipe") ||
		strings.Contains(s, "reset") ||
		strings.Contains(s, "closed") ||
		strings.Contains(s, "eof") ||
		strings.Contains(s, "i/o") ||
		strings.Contains(s, "timeout") {
		return true
	}
	logging.Warn("Modbus error that may not be transient", "error", err)
	return false
}

// withClient runs fn on a connected client, reconnecting and retrying once on
// transient errors.
func (m *DeviceClient) withClient(ctx context.Context, access uint8, fn func() ([]byte, error)) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureConnected(ctx); err != nil {
		return nil, err
	}

	v, err := m.callWithSettle(ctx, access, fn)
	if err == nil {
		return v, nil
	}
	logging.Warn("Modbus request failed", "bus", m.busId, "unit", m.unitId, "error", err)
	if isTransient(err) {
		m.bumpBackoff(err)
		if err2 := m.ensureConnected(ctx); err2 == nil {
			return m.callWithSettle(ctx, access, fn)
		}
	}
	return nil, err
}

func (m *DeviceClient) callWithSettle(ctx context.Context, access uint8, fn func() ([]byte, error)) ([]byte, error) {
	v, err := fn()
	if err != nil {
		return nil, err
	}
	if access == WRITE && m.settleAfterWrite > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.settleAfterWrite):
		}
	}
	return v, nil
}

// ===== FC1: Coils (relay outputs) =====
func (m *DeviceClient) ReadCoil(ctx context.Context, addr uint16) (bool, error) {
	data, err := m.withClient(ctx, READ, func() ([]byte, error) {
		// FC1, qty=1 returns 1 byte; bit0 is the coil
		return m.client.ReadCoils(addr, 1)
	})
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, fmt.Errorf("empty coil response")
	}
	return (data[0] & 0x01) != 0, nil
}

// ===== FC5: Write single coil =====
func (m *DeviceClient) WriteCoil(ctx context.Context, addr uint16, value bool) error {
	_, err := m.withClient(ctx, WRITE, func() ([]byte, error) {
		val := uint16(0)
		if value {
			val = 0xFF00
		}
		return m.client.WriteSingleCoil(addr, val)
	})
	return err
}

// ===== FC2: Discrete Inputs (buttons) =====

// ReadDiscreteInputs reads count bits starting at start, packed LSB first.
func (m *DeviceClient) ReadDiscreteInputs(ctx context.Context, start, count uint16) ([]byte, error) {
	if count == 0 {
		return []byte{}, nil
	}
	if count <= MAX_DIGITAL_BITS_PER_READ {
		return m.withClient(ctx, READ, func() ([]byte, error) {
			return m.client.ReadDiscreteInputs(start, count)
		})
	}
	return m.readBitsChunked(start, count, MAX_DIGITAL_BITS_PER_READ,
		func(addr, qty uint16) ([]byte, error) {
			return m.withClient(ctx, READ, func() ([]byte, error) { return m.client.ReadDiscreteInputs(addr, qty) })
		})
}

// readBitsChunked is only correct for chunk sizes that are a multiple of 8,
// so the concatenated bytes stay bit aligned.
func (m *DeviceClient) readBitsChunked(start, count, chunkSize uint16, readFn func(addr, qty uint16) ([]byte, error)) ([]byte, error) {
	// integer division: bytes needed for count bits, rounded up
	buf := make([]byte, 0, int(count+7)/8)

	var firstErr error
	forEachChunk(start, count, chunkSize, func(addr, qty uint16) bool {
		data, err := readFn(addr, qty)
		if err != nil {
			logging.Error("read bits failed", "bus", m.busId, "addr", addr, "qty", qty, "error", err)
			firstErr = err
			return false // stop on first failure
		}
		buf = append(buf, data...)
		return true
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return buf, nil
}

// forEachChunk splits [start, start+total) into chunks of size <= chunkSize.
// The callback returns false to abort early; true to continue.
func forEachChunk(start, total, chunkSize uint16, fn func(addr, qty uint16) bool) {
	if total == 0 || chunkSize == 0 {
		return
	}
	left := total
	addr := start
	for left > 0 {
		step := min(left, chunkSize)
		if !fn(addr, step) {
			return
		}
		addr += step
		left -= step
	}
}
