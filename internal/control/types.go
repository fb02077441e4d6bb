package control

import (
	"time"

	"github.com/skobkin/llmsim-web/internal/sim"
)

// Level is the severity of a console log entry.
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelWarn    Level = "WARN"
	LevelError   Level = "ERROR"
	LevelSuccess Level = "SUCCESS"
)

// LogEntry is one line of the simulation console.
type LogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"ts"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
}

// Status values reported in State.
const (
	StatusIdle   = "IDLE"
	StatusPaused = "PAUSED"
	StatusActive = "ACTIVE"
)

// State is a read-only view of the run for display surfaces.
type State struct {
	sim.Progress
	MaxSteps     int      `json:"max_steps"`
	Status       string   `json:"status"`
	InputTokens  []string `json:"input_tokens"`
	OutputTokens []string `json:"output_tokens"`
	Tip          string   `json:"tip"`
}

// EventType names the kind of controller event.
type EventType string

const (
	EventState     EventType = "state"
	EventLog       EventType = "log"
	EventTip       EventType = "tip"
	EventCompleted EventType = "completed"
	EventStopped   EventType = "stopped"
)

// Event is published on every observable change.
type Event struct {
	Type  EventType `json:"type"`
	State *State    `json:"state,omitempty"`
	Log   *LogEntry `json:"log,omitempty"`
	Tip   string    `json:"tip,omitempty"`
	Mode  sim.Mode  `json:"mode,omitempty"`
}

// Vocabulary feeds the token animation.
var Vocabulary = []string{
	"The", "model", "is", "thinking", "about", "how", "to", "process", "large", "amounts",
	"of", "data", "efficiently", "on", "a", "GPU", "cluster", "running", "H100", "units",
}

// InferencePrompt is the fixed context shown for inference runs.
var InferencePrompt = []string{"What", "is", "a", "GPU", "H100", "for?"}

const initialTip = "Select a task to begin monitoring the neural fabric."
