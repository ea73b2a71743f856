package brew

import (
	"strings"

	"github.com/pkg/errors"
)

// Mode is the display/automation mode of the scale.
type Mode int

const (
	// Flow shows weight and flow rate; no automation.
	Flow Mode = iota
	// Time shows weight and the brew timer; no automation.
	Time
	// Auto tares when a cup is placed and starts the timer on first flow.
	Auto
)

func (m Mode) String() string {
	switch m {
	case Flow:
		return "flow"
	case Time:
		return "time"
	case Auto:
		return "auto"
	default:
		return "unknown"
	}
}

// Next returns the mode that follows m in the Flow, Time, Auto cycle.
func (m Mode) Next() Mode {
	switch m {
	case Flow:
		return Time
	case Time:
		return Auto
	default:
		return Flow
	}
}

// ParseMode parses a mode name as produced by String.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "flow":
		return Flow, nil
	case "time":
		return Time, nil
	case "auto":
		return Auto, nil
	}
	return Flow, errors.Errorf("unknown mode %q", s)
}
