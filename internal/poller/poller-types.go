package poller

import "context"

type ZeroSignal struct{}

// Zero is the canonical value to send on signal channels.
var Zero ZeroSignal

// DeviceClient is the slice of the Modbus client the poller needs.
type DeviceClient interface {
	ReadDiscreteInputs(ctx context.Context, start, count uint16) ([]byte, error)
	WriteCoil(ctx context.Context, addr uint16, value bool) error
	Close() error
}
