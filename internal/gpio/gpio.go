// Package gpio drives relays and reads buttons on a Linux GPIO character device.
//
// Relays are output lines, active low unless configured otherwise (the usual
// opto-isolated relay boards). Buttons are pulled up and pressed when the line
// reads low. Button edges are debounced in software.
package gpio

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/fisaks/uhn-relay/internal/hw"
	"github.com/fisaks/uhn-relay/internal/logging"
	"github.com/warthog618/go-gpiocdev"
)

type Chip struct {
	name     string
	debounce time.Duration

	mu    sync.Mutex
	chip  *gpiocdev.Chip
	lines []*gpiocdev.Line
}

var _ hw.Provider = (*Chip)(nil)

func Open(chipName string, debounce time.Duration) (*Chip, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer("uhn-relay"))
	if err != nil {
		return nil, fmt.Errorf("open chip %s: %w", chipName, err)
	}
	logging.Info("GPIO chip opened", "chip", chipName, "lines", chip.Lines())
	return &Chip{name: chipName, debounce: debounce, chip: chip}, nil
}

func (c *Chip) Relay(pin int, activeHigh bool) (hw.RelayOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chip == nil {
		return nil, fmt.Errorf("chip %s not open", c.name)
	}

	opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}
	if !activeHigh {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	line, err := c.chip.RequestLine(pin, opts...)
	if err != nil {
		return nil, fmt.Errorf("request relay line %d: %w", pin, err)
	}
	c.lines = append(c.lines, line)
	return &relay{line: line, pin: strconv.Itoa(pin)}, nil
}

func (c *Chip) Input(pin int) (hw.DigitalInput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chip == nil {
		return nil, fmt.Errorf("chip %s not open", c.name)
	}

	in := newInput(strconv.Itoa(pin), c.debounce)
	line, err := c.chip.RequestLine(pin,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(in.onEvent),
	)
	if err != nil {
		return nil, fmt.Errorf("request button line %d: %w", pin, err)
	}
	if v, err := line.Value(); err == nil {
		in.setInitial(v == 0, time.Now())
	}
	c.lines = append(c.lines, line)
	return in, nil
}

func (c *Chip) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, line := range c.lines {
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line: %w", err))
		}
	}
	c.lines = nil
	if c.chip != nil {
		if err := c.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip %s: %w", c.name, err))
		}
		c.chip = nil
	}
	return errors.Join(errs...)
}

type relay struct {
	line *gpiocdev.Line
	pin  string

	mu sync.Mutex
	on bool
}

func (r *relay) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.line.SetValue(v); err != nil {
		return fmt.Errorf("set line %s: %w", r.pin, err)
	}
	r.on = on
	return nil
}

func (r *relay) State() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.on
}

func (r *relay) Pin() string { return r.pin }
