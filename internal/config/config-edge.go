// internal/config/config-edge.go
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

/* =========================
   Types
   ========================= */

const (
	IOTypeGPIO   = "gpio"
	IOTypeModbus = "modbus"
	IOTypeMemory = "memory"

	DefaultTimeoutSeconds = 30
	DefaultChip           = "gpiochip0"
	DefaultDebounceMs     = 20
	DefaultPollIntervalMs = 50
)

type EdgeConfig struct {
	TopicPrefix string          `json:"topicPrefix,omitempty" yaml:"topicPrefix,omitempty"` // default uhn/<EDGE_NAME>
	IO          IOConfig        `json:"io" yaml:"io"`
	Lamps       []LampConfig    `json:"lamps" yaml:"lamps"`
	Shutters    []ShutterConfig `json:"shutters" yaml:"shutters"`
}

type IOConfig struct {
	Type string `json:"type" yaml:"type"` // "gpio" | "modbus" | "memory"

	// gpio
	Chip       string `json:"chip,omitempty" yaml:"chip,omitempty"`
	DebounceMs int    `json:"debounceMs,omitempty" yaml:"debounceMs,omitempty"`

	// modbus
	Bus            *BusConfig `json:"bus,omitempty" yaml:"bus,omitempty"`
	UnitId         uint8      `json:"unitId,omitempty" yaml:"unitId,omitempty"`
	PollIntervalMs int        `json:"pollIntervalMs,omitempty" yaml:"pollIntervalMs,omitempty"`
}

type BusConfig struct {
	BusId    string `json:"busId" yaml:"busId"`
	Type     string `json:"type" yaml:"type"` // "rtu" | "tcp"
	TCPAddr  string `json:"tcpAddr,omitempty" yaml:"tcpAddr,omitempty"`
	Port     string `json:"port,omitempty" yaml:"port,omitempty"`
	Baud     int    `json:"baud,omitempty" yaml:"baud,omitempty"`
	DataBits int    `json:"dataBits,omitempty" yaml:"dataBits,omitempty"`
	StopBits int    `json:"stopBits,omitempty" yaml:"stopBits,omitempty"`
	Parity   string `json:"parity,omitempty" yaml:"parity,omitempty"`
	// TimeoutMs bounds a single request on the bus
	TimeoutMs          int  `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`
	SettleAfterWriteMs int  `json:"settleAfterWriteMs,omitempty" yaml:"settleAfterWriteMs,omitempty"`
	Debug              bool `json:"debug,omitempty" yaml:"debug,omitempty"`
}

type LampConfig struct {
	Name        string `json:"name" yaml:"name"`
	RelayPin    int    `json:"relayPin" yaml:"relayPin"`
	ActiveHigh  bool   `json:"activeHigh,omitempty" yaml:"activeHigh,omitempty"`
	ListenTopic string `json:"listenTopic,omitempty" yaml:"listenTopic,omitempty"`
	ReportTopic string `json:"reportTopic,omitempty" yaml:"reportTopic,omitempty"`
}

type ShutterConfig struct {
	Name           string `json:"name" yaml:"name"`
	RelayUpPin     int    `json:"relayUpPin" yaml:"relayUpPin"`
	RelayDownPin   int    `json:"relayDownPin" yaml:"relayDownPin"`
	ButtonUpPin    *int   `json:"buttonUpPin,omitempty" yaml:"buttonUpPin,omitempty"`
	ButtonDownPin  *int   `json:"buttonDownPin,omitempty" yaml:"buttonDownPin,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty" yaml:"timeoutSeconds,omitempty"`
	ActiveHigh     bool   `json:"activeHigh,omitempty" yaml:"activeHigh,omitempty"`
	ListenTopic    string `json:"listenTopic,omitempty" yaml:"listenTopic,omitempty"`
	ReportTopic    string `json:"reportTopic,omitempty" yaml:"reportTopic,omitempty"`
}

/* =========================
   Helpers
   ========================= */

func (b BusConfig) Timeout() time.Duration { return time.Duration(b.TimeoutMs) * time.Millisecond }
func (b BusConfig) SettleAfterWrite() time.Duration {
	return time.Duration(b.SettleAfterWriteMs) * time.Millisecond
}

func (c IOConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}
func (c IOConfig) Debounce() time.Duration { return time.Duration(c.DebounceMs) * time.Millisecond }

func (s ShutterConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

func (s ShutterConfig) HasButtons() bool { return s.ButtonUpPin != nil && s.ButtonDownPin != nil }

/* =========================
   Strict load + validate
   ========================= */

// LoadEdgeConfig reads JSON (comments allowed) or, for .yaml/.yml files, YAML.
func LoadEdgeConfig(path string) (*EdgeConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadEdgeConfigFromReader(f, FormatYAML)
	default:
		return LoadEdgeConfigFromReader(f, FormatJSON)
	}
}

type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

func LoadEdgeConfigFromReader(r io.Reader, format Format) (*EdgeConfig, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg EdgeConfig
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
	default:
		clean := stripJSONComments(raw)
		dec := json.NewDecoder(bytes.NewReader(clean))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

var deviceName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func (c *EdgeConfig) Validate() error {
	var errs multiErr

	/* IO */
	c.IO.Type = strings.ToLower(strings.TrimSpace(c.IO.Type))
	switch c.IO.Type {
	case IOTypeGPIO:
		if c.IO.Chip == "" {
			c.IO.Chip = DefaultChip
		}
		if c.IO.DebounceMs == 0 {
			c.IO.DebounceMs = DefaultDebounceMs
		}
		if c.IO.DebounceMs < 0 {
			errs.add("io.debounceMs cannot be negative")
		}
	case IOTypeModbus:
		if c.IO.Bus == nil {
			errs.add("io.bus is required for type=modbus")
		} else {
			c.IO.Bus.validate(&errs)
		}
		if c.IO.UnitId == 0 || c.IO.UnitId > 247 {
			errs.add("io.unitId must be 1..247")
		}
		if c.IO.PollIntervalMs == 0 {
			c.IO.PollIntervalMs = DefaultPollIntervalMs
		}
		if c.IO.PollIntervalMs < 0 {
			errs.add("io.pollIntervalMs cannot be negative")
		}
	case IOTypeMemory:
	default:
		errs.addf("io.type must be one of %s, %s, %s", IOTypeGPIO, IOTypeModbus, IOTypeMemory)
	}

	/* Devices */
	if len(c.Lamps) == 0 && len(c.Shutters) == 0 {
		errs.add("at least one lamp or shutter is required")
	}

	names := map[string]string{} // name -> where
	checkName := func(where, name string) {
		switch {
		case strings.TrimSpace(name) == "":
			errs.addf("%s: name is required", where)
		case !deviceName.MatchString(name):
			errs.addf("%s: name %q may only contain letters, digits, '-' and '_'", where, name)
		default:
			if other, clash := names[name]; clash {
				errs.addf("%s: duplicate device name %q (also %s)", where, name, other)
			} else {
				names[name] = where
			}
		}
	}

	relays := map[int]string{} // pin -> owner
	inputs := map[int]string{}
	claim := func(pins map[int]string, kind, where string, pin int) {
		if pin < 0 {
			errs.addf("%s: %s pin must be >= 0", where, kind)
			return
		}
		if other, clash := pins[pin]; clash {
			errs.addf("%s: %s pin %d already used by %s", where, kind, pin, other)
			return
		}
		pins[pin] = where
	}

	// one subscription per topic: a second device on the same listen topic
	// would replace the first one's route. Defaults need a known prefix.
	listens := map[string]string{} // topic -> owner
	claimListen := func(where, name, explicit string) {
		topic := explicit
		if topic == "" {
			if c.TopicPrefix == "" {
				return
			}
			topic = strings.Trim(c.TopicPrefix, "/") + "/" + name + "/set"
		}
		if other, clash := listens[topic]; clash {
			errs.addf("%s: listen topic %q already used by %s", where, topic, other)
			return
		}
		listens[topic] = where
	}

	for i := range c.Lamps {
		l := &c.Lamps[i]
		where := fmt.Sprintf("lamps[%d/%s]", i, l.Name)
		checkName(where, l.Name)
		claim(relays, "relay", where, l.RelayPin)
		claimListen(where, l.Name, l.ListenTopic)
	}

	for i := range c.Shutters {
		s := &c.Shutters[i]
		where := fmt.Sprintf("shutters[%d/%s]", i, s.Name)
		checkName(where, s.Name)
		claim(relays, "relay", where+".relayUpPin", s.RelayUpPin)
		claim(relays, "relay", where+".relayDownPin", s.RelayDownPin)
		claimListen(where, s.Name, s.ListenTopic)

		if (s.ButtonUpPin == nil) != (s.ButtonDownPin == nil) {
			errs.addf("%s: buttonUpPin and buttonDownPin must be set together", where)
		} else if s.HasButtons() {
			claim(inputs, "button", where+".buttonUpPin", *s.ButtonUpPin)
			claim(inputs, "button", where+".buttonDownPin", *s.ButtonDownPin)
		}

		if s.TimeoutSeconds == 0 {
			s.TimeoutSeconds = DefaultTimeoutSeconds
		}
		if s.TimeoutSeconds < 0 {
			errs.addf("%s: timeoutSeconds must be > 0", where)
		}
	}

	// on a GPIO chip relays and buttons share one line namespace
	if c.IO.Type == IOTypeGPIO {
		for pin, owner := range inputs {
			if relayOwner, clash := relays[pin]; clash {
				errs.addf("%s: line %d already used as relay by %s", owner, pin, relayOwner)
			}
		}
	}

	if len(errs) > 0 {
		slices.Sort(errs)
		return errs
	}
	return nil
}

func (b *BusConfig) validate(errs *multiErr) {
	if strings.TrimSpace(b.BusId) == "" {
		b.BusId = "bus1"
	}
	switch strings.ToLower(b.Type) {
	case "tcp":
		if strings.TrimSpace(b.TCPAddr) == "" {
			errs.addf("io.bus[%s]: tcpAddr is required for type=tcp", b.BusId)
		}
	case "rtu":
		if strings.TrimSpace(b.Port) == "" {
			errs.addf("io.bus[%s]: port is required for type=rtu", b.BusId)
		}
		if b.Baud <= 0 {
			errs.addf("io.bus[%s]: baud must be > 0 for type=rtu", b.BusId)
		}
		if b.DataBits == 0 {
			b.DataBits = 8
		}
		if b.StopBits == 0 {
			b.StopBits = 1
		}
		if b.Parity == "" {
			b.Parity = "N"
		}
		if !slices.Contains([]string{"N", "E", "O"}, strings.ToUpper(b.Parity)) {
			errs.addf("io.bus[%s]: parity must be one of N,E,O", b.BusId)
		}
	default:
		errs.addf("io.bus[%s]: type must be 'rtu' or 'tcp'", b.BusId)
	}
	if b.TimeoutMs <= 0 {
		b.TimeoutMs = 150
	}
	if b.SettleAfterWriteMs < 0 {
		errs.addf("io.bus[%s]: settleAfterWriteMs cannot be negative", b.BusId)
	}
}

/* =========================
   Comment stripping + utils
   ========================= */

var (
	lineComments  = regexp.MustCompile(`(?m)^\s*//[^\n\r]*`)
	blockComments = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

func stripJSONComments(in []byte) []byte {
	text := string(in)
	text = blockComments.ReplaceAllString(text, "")
	text = lineComments.ReplaceAllString(text, "")
	return []byte(text)
}

// small multi-error
type multiErr []string

func (m *multiErr) add(s string)            { *m = append(*m, s) }
func (m *multiErr) addf(f string, a ...any) { *m = append(*m, fmt.Sprintf(f, a...)) }
func (m multiErr) Error() string            { return "validation errors: " + strings.Join(m, "; ") }
