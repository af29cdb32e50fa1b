// Package sim backs the Modbus I/O module simulators. It exposes the
// simulated coils and discrete inputs over a small REST API and logs relay
// changes by device.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fisaks/uhn-relay/internal/config"
	"github.com/fisaks/uhn-relay/internal/logging"
)

// Bank wraps the coil and discrete input tables of a simulated slave, one
// byte (0 or 1) per address.
type Bank struct {
	mu     sync.Mutex
	coils  []byte
	inputs []byte
}

func NewBank(coils, inputs []byte) *Bank {
	return &Bank{coils: coils, inputs: inputs}
}

func (b *Bank) Coil(i int) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i < 0 || i >= len(b.coils) {
		return false, fmt.Errorf("coil %d out of range", i)
	}
	return b.coils[i] != 0, nil
}

func (b *Bank) Input(i int) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i < 0 || i >= len(b.inputs) {
		return false, fmt.Errorf("input %d out of range", i)
	}
	return b.inputs[i] != 0, nil
}

func (b *Bank) SetInput(i int, on bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i < 0 || i >= len(b.inputs) {
		return fmt.Errorf("input %d out of range", i)
	}
	b.inputs[i] = 0
	if on {
		b.inputs[i] = 1
	}
	return nil
}

// Press holds input i for d, then releases it.
func (b *Bank) Press(i int, d time.Duration) error {
	if err := b.SetInput(i, true); err != nil {
		return err
	}
	time.AfterFunc(d, func() { _ = b.SetInput(i, false) })
	return nil
}

type Sim struct {
	Bank *Bank
	cfg  *config.EdgeConfig
}

func New(bank *Bank, cfg *config.EdgeConfig) *Sim {
	return &Sim{Bank: bank, cfg: cfg}
}

type RelayState struct {
	Name  string          `json:"name"`
	Kind  string          `json:"kind"`
	Coils map[string]bool `json:"coils"`
	Fault string          `json:"fault,omitempty"`
}

// Relays reports the coil state of every configured device.
func (s *Sim) Relays() []RelayState {
	out := make([]RelayState, 0, len(s.cfg.Lamps)+len(s.cfg.Shutters))
	for _, l := range s.cfg.Lamps {
		on, _ := s.Bank.Coil(l.RelayPin)
		out = append(out, RelayState{Name: l.Name, Kind: "lamp", Coils: map[string]bool{"relay": on}})
	}
	for _, sc := range s.cfg.Shutters {
		up, _ := s.Bank.Coil(sc.RelayUpPin)
		down, _ := s.Bank.Coil(sc.RelayDownPin)
		st := RelayState{Name: sc.Name, Kind: "shutter", Coils: map[string]bool{"up": up, "down": down}}
		if up && down {
			st.Fault = "both directions energized"
		}
		out = append(out, st)
	}
	return out
}

// Watch logs every relay change until ctx is done. Both shutter directions on
// at once is logged as an error.
func (s *Sim) Watch(ctx context.Context, period time.Duration) {
	t := time.NewTicker(period)
	defer t.Stop()

	last := map[string]RelayState{}
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		for _, st := range s.Relays() {
			prev, seen := last[st.Name]
			last[st.Name] = st
			if seen && sameCoils(prev, st) {
				continue
			}
			if st.Fault != "" {
				logging.Error("Relay fault", "device", st.Name, "fault", st.Fault)
				continue
			}
			logging.Info("Relays", "device", st.Name, "kind", st.Kind, "coils", st.Coils)
		}
	}
}

func sameCoils(a, b RelayState) bool {
	if len(a.Coils) != len(b.Coils) {
		return false
	}
	for k, v := range a.Coils {
		if b.Coils[k] != v {
			return false
		}
	}
	return true
}
