package gpio

import (
	"sync"
	"time"

	"github.com/fisaks/uhn-relay/internal/hw"
	"github.com/warthog618/go-gpiocdev"
)

type input struct {
	pin      string
	debounce time.Duration

	mu         sync.Mutex
	handlers   []hw.EdgeHandler
	lastStable bool
	lastTime   time.Time
}

func newInput(pin string, debounce time.Duration) *input {
	return &input{pin: pin, debounce: debounce}
}

func (in *input) Pin() string { return in.pin }

func (in *input) Watch(fn hw.EdgeHandler) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.handlers = append(in.handlers, fn)
}

func (in *input) setInitial(pressed bool, now time.Time) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.lastStable = pressed
	in.lastTime = now
}

// onEvent runs on the gpiocdev watcher goroutine. The line is pulled up, so a
// falling edge is a press.
func (in *input) onEvent(evt gpiocdev.LineEvent) {
	in.edge(evt.Type == gpiocdev.LineEventFallingEdge, time.Now())
}

// edge drops repeats of the stable level and changes that come sooner than
// the debounce window after the previous accepted change.
func (in *input) edge(pressed bool, now time.Time) {
	in.mu.Lock()
	if pressed == in.lastStable || now.Sub(in.lastTime) < in.debounce {
		in.mu.Unlock()
		return
	}
	in.lastStable = pressed
	in.lastTime = now
	handlers := append([]hw.EdgeHandler(nil), in.handlers...)
	in.mu.Unlock()

	for _, h := range handlers {
		h(hw.Edge{Pin: in.pin, Pressed: pressed})
	}
}
