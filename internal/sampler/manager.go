// Package sampler drives the metrics generator at a fixed cadence and keeps
// the bounded rolling history consumed by charts and exporters.
package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/skobkin/llmsim-web/internal/broadcast"
	"github.com/skobkin/llmsim-web/internal/sim"
)

// ProgressSource exposes the current run state. It is read on every tick.
type ProgressSource interface {
	Progress() sim.Progress
}

// Snapshot is the published pair of latest sample and history, oldest first.
// Consumers must treat it as read-only.
type Snapshot struct {
	Latest  sim.Sample   `json:"latest"`
	History []sim.Sample `json:"history"`
}

// Manager samples the generator on a ticker, caches the latest sample and
// fans snapshots out to subscribers.
type Manager struct {
	interval  time.Duration
	generator *sim.Generator
	source    ProgressSource
	history   *sim.Window[sim.Sample]
	hub       *broadcast.Hub[Snapshot]
	logger    *slog.Logger
}

// NewManager builds a Manager with a history of historySize samples.
func NewManager(interval time.Duration, historySize int, generator *sim.Generator, source ProgressSource, logger *slog.Logger) (*Manager, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be > 0")
	}
	if historySize <= 0 {
		return nil, fmt.Errorf("history size must be > 0")
	}
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if source == nil {
		return nil, fmt.Errorf("progress source is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		interval:  interval,
		generator: generator,
		source:    source,
		history:   sim.NewWindow[sim.Sample](historySize),
		hub:       broadcast.NewHub[Snapshot](),
		logger:    logger.With("component", "sampler_manager"),
	}, nil
}

// Run ticks until the context is cancelled. It always returns nil once the
// context is done.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("sampler started", "interval", m.interval, "history", m.history.Cap())

	// Initial sample to prime cache.
	m.tick()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("sampler stopping", "reason", ctx.Err())
			m.hub.Close()
			return nil
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Manager) tick() sim.Sample {
	progress := m.source.Progress()
	sample := m.generator.Generate(progress.Mode, progress.Paused, progress.Step)
	evicted, history := m.history.AppendSnapshot(sample)
	if evicted {
		m.logger.Debug("history full, evicted oldest sample")
	}
	m.hub.Publish(Snapshot{Latest: sample, History: history})
	return sample
}

// Latest returns the most recent sample.
func (m *Manager) Latest() (sim.Sample, bool) {
	return m.history.Latest()
}

// History returns a copy of the retained samples, oldest first.
func (m *Manager) History() []sim.Sample {
	return m.history.Snapshot()
}

// HistorySize returns the configured history bound.
func (m *Manager) HistorySize() int {
	return m.history.Cap()
}

// Snapshot returns the current latest/history pair.
func (m *Manager) Snapshot() (Snapshot, bool) {
	history := m.history.Snapshot()
	if len(history) == 0 {
		return Snapshot{History: history}, false
	}
	return Snapshot{Latest: history[len(history)-1], History: history}, true
}

// Device returns the simulated device.
func (m *Manager) Device() sim.Device {
	return m.generator.Device()
}

// Interval returns the sampling period.
func (m *Manager) Interval() time.Duration {
	return m.interval
}

// Subscribe registers a listener for snapshot updates. The channel holds one
// snapshot; unread snapshots are replaced by newer ones.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	if snap, ok := m.Snapshot(); ok {
		return m.hub.SubscribeWith(1, snap)
	}
	return m.hub.Subscribe(1)
}

// Ready reports whether at least one sample has been published.
func (m *Manager) Ready() bool {
	return m.history.Len() > 0
}

// ResetHistory drops all retained samples.
func (m *Manager) ResetHistory() {
	m.history.Reset()
	m.logger.Info("history reset")
}
