package uhn

// Command is the plain-text payload vocabulary shared by MQTT and the device API.
type Command string

const (
	CmdOn    Command = "on"
	CmdOff   Command = "off"
	CmdOpen  Command = "open"
	CmdClose Command = "close"
	CmdStop  Command = "stop"
)

// Source tells which input channel triggered a command. Only used for logging.
type Source string

const (
	SourceManual Source = "manual"
	SourceMQTT   Source = "mqtt"
	SourceTimer  Source = "timer"
)

type Kind string

const (
	KindLamp    Kind = "lamp"
	KindShutter Kind = "shutter"
)

type MotionState int

const (
	Idle MotionState = iota
	MovingUp
	MovingDown
)

func (s MotionState) String() string {
	switch s {
	case MovingUp:
		return "movingUp"
	case MovingDown:
		return "movingDown"
	default:
		return "idle"
	}
}

// Feedback maps a motion state to the payload reported for it.
func (s MotionState) Feedback() Command {
	switch s {
	case MovingUp:
		return CmdOpen
	case MovingDown:
		return CmdClose
	default:
		return CmdStop
	}
}

// ParseCommand trims nothing: payloads must match exactly.
func ParseCommand(payload []byte) (Command, bool) {
	switch c := Command(payload); c {
	case CmdOn, CmdOff, CmdOpen, CmdClose, CmdStop:
		return c, true
	}
	return "", false
}
