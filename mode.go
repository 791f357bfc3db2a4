package gstate

import (
	"fmt"
	"strings"
)

// Mode selects what a Controller does between Start and Stop.
type Mode int

const (
	// ModeTraceOnly records bound variants and discards them on Stop.
	ModeTraceOnly Mode = iota

	// ModeTraceAndSave records bound variants and saves them on Stop.
	ModeTraceAndSave

	// ModeLoadAndWarmUp loads a saved collection on Start and compiles
	// every variant in the background.
	ModeLoadAndWarmUp
)

// String returns the mode name as accepted by ParseMode.
func (m Mode) String() string {
	switch m {
	case ModeTraceOnly:
		return "trace"
	case ModeTraceAndSave:
		return "trace-and-save"
	case ModeLoadAndWarmUp:
		return "warmup"
	default:
		return "unknown"
	}
}

// Tracing reports whether the mode records variants.
func (m Mode) Tracing() bool {
	return m == ModeTraceOnly || m == ModeTraceAndSave
}

func (m Mode) valid() bool {
	return m >= ModeTraceOnly && m <= ModeLoadAndWarmUp
}

// ParseMode parses a mode name. Matching is case-insensitive and accepts
// underscores in place of dashes.
func ParseMode(s string) (Mode, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-") {
	case "trace", "trace-only":
		return ModeTraceOnly, nil
	case "trace-and-save", "save":
		return ModeTraceAndSave, nil
	case "warmup", "warm-up", "load-and-warmup", "load-and-warm-up":
		return ModeLoadAndWarmUp, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}
