// Package hw holds the relay and digital input abstractions the devices drive.
//
// Drivers live in their own packages (gpio, modbus + poller). The memory
// implementations here back the "memory" I/O type and the tests.
package hw

// RelayOutput is a binary actuator. State reports the last value successfully written.
type RelayOutput interface {
	Set(on bool) error
	State() bool
	Pin() string
}

// Edge is a debounced level change of a DigitalInput.
type Edge struct {
	Pin     string
	Pressed bool
}

type EdgeHandler func(Edge)

// DigitalInput delivers press/release edges to its watchers. Handlers are
// called from the driver's goroutine and must not block for long.
type DigitalInput interface {
	Pin() string
	Watch(fn EdgeHandler)
}

// Provider builds the relays and inputs for one I/O backend.
type Provider interface {
	Relay(pin int, activeHigh bool) (RelayOutput, error)
	Input(pin int) (DigitalInput, error)
	Close() error
}
