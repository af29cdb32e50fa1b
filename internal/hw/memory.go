package hw

import (
	"fmt"
	"strconv"
	"sync"
)

type MemoryRelay struct {
	pin string

	mu     sync.Mutex
	on     bool
	writes int
	err    error
	onSet  func(pin string, on bool)
}

func NewMemoryRelay(pin string) *MemoryRelay {
	return &MemoryRelay{pin: pin}
}

func (r *MemoryRelay) Set(on bool) error {
	r.mu.Lock()
	if r.err != nil {
		err := r.err
		r.mu.Unlock()
		return err
	}
	r.on = on
	r.writes++
	hook := r.onSet
	r.mu.Unlock()
	if hook != nil {
		hook(r.pin, on)
	}
	return nil
}

func (r *MemoryRelay) State() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.on
}

func (r *MemoryRelay) Pin() string { return r.pin }

func (r *MemoryRelay) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

// FailWith makes every following Set return err; nil restores normal operation.
func (r *MemoryRelay) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// OnSet registers a hook called after each successful write.
func (r *MemoryRelay) OnSet(fn func(pin string, on bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSet = fn
}

type MemoryInput struct {
	pin string

	mu       sync.Mutex
	pressed  bool
	handlers []EdgeHandler
}

func NewMemoryInput(pin string) *MemoryInput {
	return &MemoryInput{pin: pin}
}

func (in *MemoryInput) Pin() string { return in.pin }

func (in *MemoryInput) Watch(fn EdgeHandler) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.handlers = append(in.handlers, fn)
}

func (in *MemoryInput) Press()   { in.set(true) }
func (in *MemoryInput) Release() { in.set(false) }

func (in *MemoryInput) Pressed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.pressed
}

// set only emits on a level change, the way a debounced driver does.
func (in *MemoryInput) set(pressed bool) {
	in.mu.Lock()
	if in.pressed == pressed {
		in.mu.Unlock()
		return
	}
	in.pressed = pressed
	handlers := append([]EdgeHandler(nil), in.handlers...)
	in.mu.Unlock()

	for _, h := range handlers {
		h(Edge{Pin: in.pin, Pressed: pressed})
	}
}

// Memory is the in-process Provider. Asking twice for the same pin returns the same instance.
type Memory struct {
	mu     sync.Mutex
	relays map[string]*MemoryRelay
	inputs map[string]*MemoryInput
}

func NewMemory() *Memory {
	return &Memory{
		relays: make(map[string]*MemoryRelay),
		inputs: make(map[string]*MemoryInput),
	}
}

func (m *Memory) Relay(pin int, _ bool) (RelayOutput, error) {
	if pin < 0 {
		return nil, fmt.Errorf("invalid relay pin %d", pin)
	}
	return m.MemoryRelay(strconv.Itoa(pin)), nil
}

func (m *Memory) Input(pin int) (DigitalInput, error) {
	if pin < 0 {
		return nil, fmt.Errorf("invalid input pin %d", pin)
	}
	return m.MemoryInput(strconv.Itoa(pin)), nil
}

func (m *Memory) MemoryRelay(pin string) *MemoryRelay {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.relays[pin]
	if !ok {
		r = NewMemoryRelay(pin)
		m.relays[pin] = r
	}
	return r
}

func (m *Memory) MemoryInput(pin string) *MemoryInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.inputs[pin]
	if !ok {
		in = NewMemoryInput(pin)
		m.inputs[pin] = in
	}
	return in
}

func (m *Memory) Close() error { return nil }
