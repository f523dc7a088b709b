package velux

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/openhomelab/vlxmqttha/internal/klf200"
)

// CommandKind identifies the verb of a bus command.
type CommandKind int

const (
	CommandOpen CommandKind = iota
	CommandClose
	CommandStop
	CommandSetPosition
)

// String returns the verb name used in logs.
func (k CommandKind) String() string {
	switch k {
	case CommandOpen:
		return "open"
	case CommandClose:
		return "close"
	case CommandStop:
		return "stop"
	case CommandSetPosition:
		return "set_position"
	default:
		return "unknown"
	}
}

// Command is a parsed bus command. Position is meaningful only for
// CommandSetPosition.
type Command struct {
	Kind     CommandKind
	Position int
}

// ParseCommand validates a raw command payload. Accepted forms are the
// literals OPEN, CLOSE, STOP, and a decimal position 0 through 100. Out
// of range positions are rejected, never clamped.
func ParseCommand(payload string) (Command, error) {
	switch payload {
	case "OPEN":
		return Command{Kind: CommandOpen}, nil
	case "CLOSE":
		return Command{Kind: CommandClose}, nil
	case "STOP":
		return Command{Kind: CommandStop}, nil
	}

	pos, err := strconv.Atoi(payload)
	if err != nil {
		return Command{}, fmt.Errorf("%w: %q", ErrInvalidCommand, payload)
	}
	if pos < 0 || pos > 100 {
		return Command{}, fmt.Errorf("%w: position %d out of range", ErrInvalidCommand, pos)
	}
	return Command{Kind: CommandSetPosition, Position: pos}, nil
}

// DeviceClass returns the Home Assistant cover device class for an
// actuator kind. Kinds with no matching class map to the empty string,
// which Home Assistant treats as a generic cover.
func DeviceClass(kind klf200.NodeKind) string {
	switch kind {
	case klf200.KindWindow:
		return "window"
	case klf200.KindBlind:
		return "blind"
	case klf200.KindAwning:
		return "awning"
	case klf200.KindShutter:
		return "shutter"
	case klf200.KindGarage:
		return "garage"
	case klf200.KindGate:
		return "gate"
	case klf200.KindBlade:
		return "shade"
	default:
		return ""
	}
}

// DeviceID derives the stable bus identity for an actuator name: a vlx-
// prefix, lowercased, spaces to hyphens, German umlauts transliterated,
// and anything outside [a-z0-9-] dropped.
func DeviceID(name string) string {
	lowered := strings.ToLower(name)
	replaced := strings.NewReplacer(
		" ", "-",
		"ä", "ae",
		"ö", "oe",
		"ü", "ue",
		"ß", "ss",
	).Replace(lowered)

	var b strings.Builder
	b.WriteString("vlx-")
	for _, r := range replaced {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
