// Package control owns the simulated run state and advances training or
// inference steps on a fixed delay.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skobkin/llmsim-web/internal/broadcast"
	"github.com/skobkin/llmsim-web/internal/sim"
)

// ErrClosed is returned by control actions once Run has exited.
var ErrClosed = errors.New("controller closed")

// Annotator supplies flavour text. Implementations must not fail; see
// annotate.Fallback.
type Annotator interface {
	Annotate(ctx context.Context, mode sim.Mode, step int) string
	CompareView(ctx context.Context, training bool) string
}

// Config tunes step progression.
type Config struct {
	StepInterval time.Duration
	MaxSteps     int
	OutputTokens int
	BatchTokens  int
	LogSize      int
}

// DefaultConfig matches the reference dashboard.
func DefaultConfig() Config {
	return Config{
		StepInterval: 1500 * time.Millisecond,
		MaxSteps:     20,
		OutputTokens: 5,
		BatchTokens:  8,
		LogSize:      50,
	}
}

type afterFunc func(d time.Duration, fn func()) (stop func() bool)

func realAfterFunc(d time.Duration, fn func()) func() bool {
	return time.AfterFunc(d, fn).Stop
}

// Controller is the single writer of run progress. Every mutation runs on the
// goroutine executing Run; readers get copies under a read lock.
type Controller struct {
	cfg       Config
	annotator Annotator
	logger    *slog.Logger
	hub       *broadcast.Hub[Event]
	now       func() time.Time
	after     afterFunc

	inbox   chan func()
	done    chan struct{}
	started sync.Once
	wg      sync.WaitGroup

	// Owned by the Run goroutine.
	ctx       context.Context
	rng       *rand.Rand
	epoch     uint64
	runID     uint64
	stopTimer func() bool

	mu       sync.RWMutex
	progress sim.Progress
	input    []string
	output   *sim.Window[string]
	logs     *sim.Window[LogEntry]
	tip      string
}

// New builds a controller. A nil source seeds token sampling from the clock.
func New(cfg Config, annotator Annotator, src rand.Source, logger *slog.Logger) (*Controller, error) {
	if cfg.StepInterval <= 0 {
		return nil, fmt.Errorf("step interval must be > 0")
	}
	if cfg.MaxSteps <= 0 {
		return nil, fmt.Errorf("max steps must be > 0")
	}
	if annotator == nil {
		return nil, fmt.Errorf("annotator is required")
	}
	defaults := DefaultConfig()
	if cfg.OutputTokens <= 0 {
		cfg.OutputTokens = defaults.OutputTokens
	}
	if cfg.BatchTokens <= 0 {
		cfg.BatchTokens = defaults.BatchTokens
	}
	if cfg.LogSize <= 0 {
		cfg.LogSize = defaults.LogSize
	}
	if src == nil {
		seed := uint64(time.Now().UnixNano())
		src = rand.NewPCG(seed, seed>>3|1)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		cfg:       cfg,
		annotator: annotator,
		logger:    logger.With("component", "controller"),
		hub:       broadcast.NewHub[Event](),
		now:       time.Now,
		after:     realAfterFunc,
		inbox:     make(chan func()),
		done:      make(chan struct{}),
		ctx:       context.Background(),
		rng:       rand.New(src),
		progress:  sim.Progress{Mode: sim.ModeIdle},
		output:    sim.NewWindow[string](cfg.OutputTokens),
		logs:      sim.NewWindow[LogEntry](cfg.LogSize),
		tip:       initialTip,
	}, nil
}

// Run processes control actions and timer fires until ctx is cancelled.
// It must be called exactly once.
func (c *Controller) Run(ctx context.Context) error {
	first := false
	c.started.Do(func() { first = true })
	if !first {
		return fmt.Errorf("controller already running")
	}

	c.ctx = ctx
	c.logger.Info("controller started", "step_interval", c.cfg.StepInterval, "max_steps", c.cfg.MaxSteps)

	defer func() {
		c.cancelTimer()
		c.wg.Wait()
		close(c.done)
		c.hub.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("controller stopping", "reason", ctx.Err())
			return nil
		case fn := <-c.inbox:
			fn()
		}
	}
}

// Start begins a run. It is a no-op unless the controller is idle and mode is
// a workload.
func (c *Controller) Start(mode sim.Mode) (bool, error) {
	var accepted bool
	err := c.do(func() { accepted = c.start(mode) })
	return accepted, err
}

// TogglePause flips the pause flag of an active run.
func (c *Controller) TogglePause() (bool, error) {
	var accepted bool
	err := c.do(func() { accepted = c.setPaused(!c.progress.Paused) })
	return accepted, err
}

// Pause suspends step progression. Metrics keep ticking.
func (c *Controller) Pause() (bool, error) {
	var accepted bool
	err := c.do(func() {
		if !c.progress.Paused {
			accepted = c.setPaused(true)
		}
	})
	return accepted, err
}

// Resume continues a paused run.
func (c *Controller) Resume() (bool, error) {
	var accepted bool
	err := c.do(func() {
		if c.progress.Paused {
			accepted = c.setPaused(false)
		}
	})
	return accepted, err
}

// Stop terminates the current run and resets step and token state.
func (c *Controller) Stop() (bool, error) {
	var accepted bool
	err := c.do(func() { accepted = c.stop() })
	return accepted, err
}

// Progress returns the current (mode, paused, step).
func (c *Controller) Progress() sim.Progress {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.progress
}

// State returns a display snapshot.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stateLocked()
}

// Logs returns the console, oldest first.
func (c *Controller) Logs() []LogEntry {
	return c.logs.Snapshot()
}

// MaxSteps returns the step ceiling.
func (c *Controller) MaxSteps() int {
	return c.cfg.MaxSteps
}

// StepInterval returns the delay between steps.
func (c *Controller) StepInterval() time.Duration {
	return c.cfg.StepInterval
}

// Subscribe registers a listener for controller events.
func (c *Controller) Subscribe(buffer int) (<-chan Event, func()) {
	return c.hub.Subscribe(buffer)
}

func (c *Controller) do(fn func()) error {
	finished := make(chan struct{})
	select {
	case c.inbox <- func() { fn(); close(finished) }:
	case <-c.done:
		return ErrClosed
	}
	<-finished
	return nil
}

// post queues fn from a timer or annotation goroutine.
func (c *Controller) post(fn func()) {
	select {
	case c.inbox <- fn:
	case <-c.done:
	case <-c.ctx.Done():
	}
}

func (c *Controller) start(mode sim.Mode) bool {
	if !mode.Workload() || c.progress.Mode != sim.ModeIdle {
		c.logger.Debug("start ignored", "requested", mode, "current", c.progress.Mode)
		return false
	}

	c.runID++
	input := InferencePrompt
	if mode == sim.ModeTraining {
		input = c.sampleBatch()
	}

	c.mu.Lock()
	c.progress = sim.Progress{Mode: mode}
	c.input = append([]string(nil), input...)
	c.output.Reset()
	c.mu.Unlock()

	c.logger.Info("run started", "mode", mode)
	c.schedule()
	c.publishState(EventState)
	c.appendLog(LevelInfo, fmt.Sprintf("Initiating %s sequence...", mode))
	c.requestTip(mode, c.runID)
	return true
}

func (c *Controller) setPaused(paused bool) bool {
	if c.progress.Mode == sim.ModeIdle {
		c.logger.Debug("pause toggle ignored while idle")
		return false
	}

	c.mu.Lock()
	c.progress.Paused = paused
	c.mu.Unlock()

	c.schedule()
	c.publishState(EventState)
	if paused {
		c.appendLog(LevelWarn, "Simulation paused by user.")
	} else {
		c.appendLog(LevelInfo, "Simulation resumed.")
	}
	return true
}

func (c *Controller) stop() bool {
	mode := c.progress.Mode
	if mode == sim.ModeIdle {
		return false
	}

	c.mu.Lock()
	c.progress = sim.Progress{Mode: sim.ModeIdle}
	c.input = nil
	c.output.Reset()
	c.mu.Unlock()

	c.logger.Info("run stopped", "mode", mode)
	c.schedule()
	c.publishState(EventStopped)
	c.appendLog(LevelWarn, fmt.Sprintf("Task '%s' terminated by user. Returning to IDLE state.", mode))
	return true
}

// schedule invalidates any pending step timer and arms a new one when the run
// is active. Fires carry the epoch they were armed under.
func (c *Controller) schedule() {
	c.cancelTimer()
	c.epoch++
	if !c.progress.Active() {
		return
	}
	epoch := c.epoch
	c.stopTimer = c.after(c.cfg.StepInterval, func() {
		c.post(func() { c.advance(epoch) })
	})
}

func (c *Controller) cancelTimer() {
	if c.stopTimer != nil {
		c.stopTimer()
		c.stopTimer = nil
	}
}

func (c *Controller) advance(epoch uint64) {
	if epoch != c.epoch || !c.progress.Active() {
		c.logger.Debug("stale step timer discarded", "epoch", epoch, "current", c.epoch)
		return
	}
	c.stopTimer = nil

	mode := c.progress.Mode
	if c.progress.Step >= c.cfg.MaxSteps {
		c.mu.Lock()
		c.progress.Mode = sim.ModeIdle
		c.progress.Paused = false
		c.mu.Unlock()

		c.logger.Info("run completed", "mode", mode, "steps", c.progress.Step)
		c.schedule()
		c.publishState(EventState)
		c.appendLog(LevelSuccess, fmt.Sprintf("%s sequence completed successfully.", mode))
		c.hub.Publish(Event{Type: EventCompleted, Mode: mode})
		return
	}

	next := c.progress.Step + 1
	var batch []string
	if mode == sim.ModeTraining {
		batch = c.sampleBatch()
	}

	c.mu.Lock()
	c.progress.Step = next
	switch mode {
	case sim.ModeInference:
		c.output.Append(Vocabulary[next%len(Vocabulary)])
	case sim.ModeTraining:
		c.input = batch
	}
	c.mu.Unlock()

	c.schedule()
	c.publishState(EventState)
	c.requestAnnotation(mode, next)
}

func (c *Controller) requestAnnotation(mode sim.Mode, step int) {
	ctx := c.ctx
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		text := c.annotator.Annotate(ctx, mode, step)
		c.post(func() { c.appendLog(LevelInfo, text) })
	}()
}

func (c *Controller) requestTip(mode sim.Mode, runID uint64) {
	ctx := c.ctx
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		text := c.annotator.CompareView(ctx, mode == sim.ModeTraining)
		c.post(func() {
			if runID != c.runID {
				return
			}
			c.mu.Lock()
			c.tip = text
			c.mu.Unlock()
			c.hub.Publish(Event{Type: EventTip, Tip: text, Mode: mode})
		})
	}()
}

func (c *Controller) sampleBatch() []string {
	batch := make([]string, c.cfg.BatchTokens)
	for i := range batch {
		batch[i] = Vocabulary[c.rng.IntN(len(Vocabulary))]
	}
	return batch
}

func (c *Controller) appendLog(level Level, message string) {
	entry := LogEntry{
		ID:        uuid.NewString(),
		Timestamp: c.now(),
		Level:     level,
		Message:   message,
	}
	c.logs.Append(entry)
	c.hub.Publish(Event{Type: EventLog, Log: &entry})
}

func (c *Controller) publishState(kind EventType) {
	state := c.State()
	c.hub.Publish(Event{Type: kind, State: &state, Mode: state.Mode})
}

func (c *Controller) stateLocked() State {
	status := StatusActive
	switch {
	case c.progress.Mode == sim.ModeIdle:
		status = StatusIdle
	case c.progress.Paused:
		status = StatusPaused
	}
	return State{
		Progress:     c.progress,
		MaxSteps:     c.cfg.MaxSteps,
		Status:       status,
		InputTokens:  append([]string{}, c.input...),
		OutputTokens: c.output.Snapshot(),
		Tip:          c.tip,
	}
}
