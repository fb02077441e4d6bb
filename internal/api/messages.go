package api

import (
	"github.com/skobkin/llmsim-web/internal/control"
	"github.com/skobkin/llmsim-web/internal/sim"
)

// Client message types.
const (
	ClientStart       = "start"
	ClientTogglePause = "toggle_pause"
	ClientPause       = "pause"
	ClientResume      = "resume"
	ClientStop        = "stop"
	ClientPing        = "ping"
)

// HelloMessage is the initial payload sent on WebSocket connection.
type HelloMessage struct {
	Type           string          `json:"type"`
	IntervalMS     int             `json:"interval_ms"`
	StepIntervalMS int             `json:"step_interval_ms"`
	MaxSteps       int             `json:"max_steps"`
	HistorySize    int             `json:"history_size"`
	Device         sim.Device      `json:"device"`
	Features       map[string]bool `json:"features"`
}

// NewHelloMessage constructs a hello payload.
func NewHelloMessage(intervalMS, stepIntervalMS, maxSteps, historySize int, device sim.Device, features map[string]bool) HelloMessage {
	return HelloMessage{
		Type:           "hello",
		IntervalMS:     intervalMS,
		StepIntervalMS: stepIntervalMS,
		MaxSteps:       maxSteps,
		HistorySize:    historySize,
		Device:         device,
		Features:       features,
	}
}

// StatsMessage wraps a single sample for transport.
type StatsMessage struct {
	Type string `json:"type"`
	sim.Sample
}

// NewStatsMessage constructs a stats payload.
func NewStatsMessage(sample sim.Sample) StatsMessage {
	return StatsMessage{
		Type:   "stats",
		Sample: sample,
	}
}

// HistoryMessage carries the whole chart window, oldest first.
type HistoryMessage struct {
	Type    string       `json:"type"`
	Samples []sim.Sample `json:"samples"`
}

// NewHistoryMessage constructs a history payload. A nil slice encodes as [].
func NewHistoryMessage(samples []sim.Sample) HistoryMessage {
	if samples == nil {
		samples = []sim.Sample{}
	}
	return HistoryMessage{Type: "history", Samples: samples}
}

// StateMessage wraps the run state.
type StateMessage struct {
	Type string `json:"type"`
	control.State
}

// NewStateMessage constructs a state payload.
func NewStateMessage(state control.State) StateMessage {
	return StateMessage{Type: "state", State: state}
}

// LogMessage carries one console entry.
type LogMessage struct {
	Type string `json:"type"`
	control.LogEntry
}

// NewLogMessage constructs a log payload.
func NewLogMessage(entry control.LogEntry) LogMessage {
	return LogMessage{Type: "log", LogEntry: entry}
}

// TipMessage carries the training-vs-inference comparison text.
type TipMessage struct {
	Type string   `json:"type"`
	Mode sim.Mode `json:"mode"`
	Tip  string   `json:"tip"`
}

// NewTipMessage constructs a tip payload.
func NewTipMessage(mode sim.Mode, tip string) TipMessage {
	return TipMessage{Type: "tip", Mode: mode, Tip: tip}
}

// CompletedMessage announces that a run reached its step ceiling.
type CompletedMessage struct {
	Type string   `json:"type"`
	Mode sim.Mode `json:"mode"`
}

// NewCompletedMessage constructs a completed payload.
func NewCompletedMessage(mode sim.Mode) CompletedMessage {
	return CompletedMessage{Type: "completed", Mode: mode}
}

// ErrorMessage communicates an error condition to the client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ClientMessage is a generic envelope used for decoding inbound client messages.
type ClientMessage struct {
	Type string `json:"type"`
	Mode string `json:"mode,omitempty"`
}

// AckMessage reports whether a control request changed the run.
type AckMessage struct {
	Type     string `json:"type"`
	Action   string `json:"action"`
	Accepted bool   `json:"accepted"`
}

// PongMessage is the response to a ping.
type PongMessage struct {
	Type string `json:"type"`
}
