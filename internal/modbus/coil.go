package modbus

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/fisaks/uhn-relay/internal/hw"
)

type CoilWriter interface {
	WriteCoil(ctx context.Context, addr uint16, value bool) error
}

// Coil is a relay driven by a single Modbus coil. The I/O module owns the
// relay's electrical polarity, so the coil value is the logical relay state.
type Coil struct {
	w       CoilWriter
	addr    uint16
	timeout time.Duration

	mu sync.Mutex
	on bool
}

var _ hw.RelayOutput = (*Coil)(nil)

func NewCoil(w CoilWriter, addr uint16, timeout time.Duration) *Coil {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Coil{w: w, addr: addr, timeout: timeout}
}

func (c *Coil) Set(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.w.WriteCoil(ctx, c.addr, on); err != nil {
		return fmt.Errorf("write coil %d: %w", c.addr, err)
	}
	c.on = on
	return nil
}

func (c *Coil) State() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.on
}

func (c *Coil) Pin() string { return "coil:" + strconv.Itoa(int(c.addr)) }
