// Package sim models the simulated GPU and produces synthetic telemetry for
// training and inference workloads.
package sim

import (
	"fmt"
	"strings"
)

// Mode is the workload regime being simulated.
type Mode string

const (
	ModeIdle      Mode = "IDLE"
	ModeTraining  Mode = "TRAINING"
	ModeInference Mode = "INFERENCE"
)

// ParseMode accepts a mode name in any case.
func ParseMode(input string) (Mode, error) {
	switch Mode(strings.ToUpper(strings.TrimSpace(input))) {
	case ModeIdle:
		return ModeIdle, nil
	case ModeTraining:
		return ModeTraining, nil
	case ModeInference:
		return ModeInference, nil
	default:
		return ModeIdle, fmt.Errorf("unsupported mode %q", input)
	}
}

// Workload reports whether the mode represents an active task (not idle).
func (m Mode) Workload() bool {
	return m == ModeTraining || m == ModeInference
}

func (m Mode) String() string {
	return string(m)
}

// Progress is the externally owned run state consumed by the schedulers.
type Progress struct {
	Mode   Mode `json:"mode"`
	Paused bool `json:"paused"`
	Step   int  `json:"step"`
}

// Active reports whether step progression should be running.
func (p Progress) Active() bool {
	return p.Mode != ModeIdle && !p.Paused
}
