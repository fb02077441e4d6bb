package control

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/skobkin/llmsim-web/internal/sim"
)

type fakeAnnotator struct {
	mu      sync.Mutex
	steps   []int
	release chan struct{}
}

func (f *fakeAnnotator) Annotate(ctx context.Context, mode sim.Mode, step int) string {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
		}
	}
	f.mu.Lock()
	f.steps = append(f.steps, step)
	f.mu.Unlock()
	return fmt.Sprintf("annotation %s #%d", mode, step)
}

func (f *fakeAnnotator) CompareView(_ context.Context, training bool) string {
	if training {
		return "tip: training"
	}
	return "tip: inference"
}

type manualTimer struct {
	fn      func()
	stopped bool
}

// manualTimers replaces time.AfterFunc so tests decide when a step fires.
type manualTimers struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (m *manualTimers) afterFunc(_ time.Duration, fn func()) func() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	timer := &manualTimer{fn: fn}
	m.timers = append(m.timers, timer)
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		was := !timer.stopped
		timer.stopped = true
		return was
	}
}

func (m *manualTimers) pending() []*manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*manualTimer
	for _, timer := range m.timers {
		if !timer.stopped {
			out = append(out, timer)
		}
	}
	return out
}

func (m *manualTimers) all() []*manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*manualTimer(nil), m.timers...)
}

type harness struct {
	ctrl      *Controller
	timers    *manualTimers
	annotator *fakeAnnotator
	cancel    context.CancelFunc
	done      chan error
}

func newHarness(t *testing.T, cfg Config, annotator *fakeAnnotator) *harness {
	t.Helper()

	if annotator == nil {
		annotator = &fakeAnnotator{}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctrl, err := New(cfg, annotator, rand.NewPCG(1, 2), logger)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	timers := &manualTimers{}
	ctrl.after = timers.afterFunc

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{ctrl: ctrl, timers: timers, annotator: annotator, cancel: cancel, done: make(chan error, 1)}
	go func() { h.done <- ctrl.Run(ctx) }()
	t.Cleanup(func() {
		if annotator.release != nil {
			select {
			case <-annotator.release:
			default:
				close(annotator.release)
			}
		}
		cancel()
		<-h.done
	})
	return h
}

// sync waits until everything queued before it has been processed.
func (h *harness) sync(t *testing.T) {
	t.Helper()
	if err := h.ctrl.do(func() {}); err != nil {
		t.Fatalf("sync: %v", err)
	}
}

// fire triggers the single pending step timer.
func (h *harness) fire(t *testing.T) {
	t.Helper()
	pending := h.timers.pending()
	if len(pending) != 1 {
		t.Fatalf("expected exactly one pending timer, got %d", len(pending))
	}
	timer := pending[0]
	h.timers.mu.Lock()
	timer.stopped = true
	h.timers.mu.Unlock()
	timer.fn()
	h.sync(t)
}

func mustAccept(t *testing.T, accepted bool, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !accepted {
		t.Fatalf("expected action to be accepted")
	}
}

func mustReject(t *testing.T, accepted bool, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if accepted {
		t.Fatalf("expected action to be ignored")
	}
}

func TestInvalidTransitionsAreNoOps(t *testing.T) {
	t.Parallel()

	h := newHarness(t, DefaultConfig(), nil)

	accepted, err := h.ctrl.TogglePause()
	mustReject(t, accepted, err)
	accepted, err = h.ctrl.Pause()
	mustReject(t, accepted, err)
	accepted, err = h.ctrl.Stop()
	mustReject(t, accepted, err)
	accepted, err = h.ctrl.Start(sim.ModeIdle)
	mustReject(t, accepted, err)

	accepted, err = h.ctrl.Start(sim.ModeTraining)
	mustAccept(t, accepted, err)
	accepted, err = h.ctrl.Start(sim.ModeInference)
	mustReject(t, accepted, err)
	accepted, err = h.ctrl.Resume()
	mustReject(t, accepted, err)

	if p := h.ctrl.Progress(); p.Mode != sim.ModeTraining || p.Step != 0 || p.Paused {
		t.Fatalf("unexpected progress %+v", p)
	}
}

func TestRunCompletesAtStepCeiling(t *testing.T) {
	t.Parallel()

	h := newHarness(t, DefaultConfig(), nil)
	events, unsubscribe := h.ctrl.Subscribe(256)
	defer unsubscribe()

	accepted, err := h.ctrl.Start(sim.ModeTraining)
	mustAccept(t, accepted, err)

	for i := 1; i <= 20; i++ {
		h.fire(t)
		if p := h.ctrl.Progress(); p.Step != i || p.Mode != sim.ModeTraining {
			t.Fatalf("after fire %d: unexpected progress %+v", i, p)
		}
	}

	h.fire(t)
	p := h.ctrl.Progress()
	if p.Mode != sim.ModeIdle || p.Paused {
		t.Fatalf("expected idle after ceiling, got %+v", p)
	}
	if p.Step != 20 {
		t.Fatalf("completion should keep the final step, got %d", p.Step)
	}
	if n := len(h.timers.pending()); n != 0 {
		t.Fatalf("expected no pending timers after completion, got %d", n)
	}

	// Re-firing any earlier timer must not change state.
	for _, timer := range h.timers.all() {
		timer.fn()
	}
	h.sync(t)
	if again := h.ctrl.Progress(); again != p {
		t.Fatalf("stale fires changed progress: %+v", again)
	}

	found := false
	for _, entry := range h.ctrl.Logs() {
		if entry.Level == LevelSuccess && entry.Message == "TRAINING sequence completed successfully." {
			found = true
		}
	}
	if !found {
		t.Fatalf("completion log missing")
	}

	completed := false
	deadline := time.After(time.Second)
	for !completed {
		select {
		case ev := <-events:
			if ev.Type == EventCompleted && ev.Mode == sim.ModeTraining {
				completed = true
			}
		case <-deadline:
			t.Fatal("completed event not published")
		}
	}
}

// stateAndLogEvents drains the already-published events, skipping tips.
func stateAndLogEvents(events <-chan Event) []string {
	var out []string
	for {
		select {
		case ev := <-events:
			switch ev.Type {
			case EventTip:
			case EventLog:
				out = append(out, "log:"+ev.Log.Message)
			default:
				out = append(out, string(ev.Type)+":"+string(ev.Mode))
			}
		default:
			return out
		}
	}
}

func TestStateEventPrecedesLogEntry(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MaxSteps = 1
	h := newHarness(t, cfg, nil)
	events, unsubscribe := h.ctrl.Subscribe(64)
	defer unsubscribe()

	accepted, err := h.ctrl.Start(sim.ModeInference)
	mustAccept(t, accepted, err)
	accepted, err = h.ctrl.Pause()
	mustAccept(t, accepted, err)
	accepted, err = h.ctrl.Resume()
	mustAccept(t, accepted, err)
	accepted, err = h.ctrl.Stop()
	mustAccept(t, accepted, err)

	got := stateAndLogEvents(events)
	want := []string{
		string(EventState) + ":INFERENCE",
		"log:Initiating INFERENCE sequence...",
		string(EventState) + ":INFERENCE",
		"log:Simulation paused by user.",
		string(EventState) + ":INFERENCE",
		"log:Simulation resumed.",
		string(EventStopped) + ":IDLE",
		"log:Task 'INFERENCE' terminated by user. Returning to IDLE state.",
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected event order:\n got  %v\n want %v", got, want)
	}

	accepted, err = h.ctrl.Start(sim.ModeTraining)
	mustAccept(t, accepted, err)
	h.fire(t)
	stateAndLogEvents(events)
	h.fire(t)

	var tail []string
	for _, ev := range stateAndLogEvents(events) {
		if !strings.HasPrefix(ev, "log:annotation") {
			tail = append(tail, ev)
		}
	}
	want = []string{
		string(EventState) + ":IDLE",
		"log:TRAINING sequence completed successfully.",
		string(EventCompleted) + ":TRAINING",
	}
	if strings.Join(tail, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected completion order:\n got  %v\n want %v", tail, want)
	}
}

func TestPauseSuspendsProgression(t *testing.T) {
	t.Parallel()

	h := newHarness(t, DefaultConfig(), nil)
	accepted, err := h.ctrl.Start(sim.ModeInference)
	mustAccept(t, accepted, err)
	h.fire(t)

	armed := h.timers.pending()
	if len(armed) != 1 {
		t.Fatalf("expected armed timer before pause")
	}

	accepted, err = h.ctrl.Pause()
	mustAccept(t, accepted, err)
	if n := len(h.timers.pending()); n != 0 {
		t.Fatalf("pause left %d timers armed", n)
	}

	// A fire scheduled before the pause is suppressed.
	armed[0].fn()
	h.sync(t)
	if p := h.ctrl.Progress(); p.Step != 1 || !p.Paused {
		t.Fatalf("stale fire advanced a paused run: %+v", p)
	}
	if s := h.ctrl.State(); s.Status != StatusPaused {
		t.Fatalf("unexpected status %q", s.Status)
	}

	accepted, err = h.ctrl.TogglePause()
	mustAccept(t, accepted, err)
	h.fire(t)
	if p := h.ctrl.Progress(); p.Step != 2 || p.Paused {
		t.Fatalf("unexpected progress after resume %+v", p)
	}

	var levels []Level
	for _, entry := range h.ctrl.Logs() {
		if strings.HasPrefix(entry.Message, "Simulation") {
			levels = append(levels, entry.Level)
		}
	}
	if len(levels) != 2 || levels[0] != LevelWarn || levels[1] != LevelInfo {
		t.Fatalf("unexpected pause/resume log levels %v", levels)
	}
}

func TestStopResetsRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, DefaultConfig(), nil)
	accepted, err := h.ctrl.Start(sim.ModeInference)
	mustAccept(t, accepted, err)
	h.fire(t)
	h.fire(t)

	stale := h.timers.pending()[0]

	accepted, err = h.ctrl.Stop()
	mustAccept(t, accepted, err)

	state := h.ctrl.State()
	if state.Mode != sim.ModeIdle || state.Step != 0 || state.Paused {
		t.Fatalf("unexpected state after stop %+v", state.Progress)
	}
	if len(state.InputTokens) != 0 || len(state.OutputTokens) != 0 {
		t.Fatalf("tokens not cleared: %+v", state)
	}

	stale.fn()
	h.sync(t)
	if p := h.ctrl.Progress(); p.Step != 0 || p.Mode != sim.ModeIdle {
		t.Fatalf("stale fire after stop changed progress %+v", p)
	}

	logs := h.ctrl.Logs()
	var stopLog *LogEntry
	for i := range logs {
		if strings.Contains(logs[i].Message, "terminated by user") {
			stopLog = &logs[i]
		}
	}
	if stopLog == nil || stopLog.Level != LevelWarn || stopLog.Message != "Task 'INFERENCE' terminated by user. Returning to IDLE state." {
		t.Fatalf("unexpected stop log %+v", stopLog)
	}

	accepted, err = h.ctrl.Start(sim.ModeTraining)
	mustAccept(t, accepted, err)
}

func TestInferenceOutputTokensWindow(t *testing.T) {
	t.Parallel()

	h := newHarness(t, DefaultConfig(), nil)
	accepted, err := h.ctrl.Start(sim.ModeInference)
	mustAccept(t, accepted, err)

	state := h.ctrl.State()
	if strings.Join(state.InputTokens, " ") != "What is a GPU H100 for?" {
		t.Fatalf("unexpected inference prompt %v", state.InputTokens)
	}

	for i := 0; i < 7; i++ {
		h.fire(t)
	}

	state = h.ctrl.State()
	want := Vocabulary[3:8]
	if strings.Join(state.OutputTokens, ",") != strings.Join(want, ",") {
		t.Fatalf("output tokens %v, want %v", state.OutputTokens, want)
	}
}

func TestTrainingBatchRefreshedEachStep(t *testing.T) {
	t.Parallel()

	h := newHarness(t, DefaultConfig(), nil)
	accepted, err := h.ctrl.Start(sim.ModeTraining)
	mustAccept(t, accepted, err)

	if n := len(h.ctrl.State().InputTokens); n != 8 {
		t.Fatalf("expected batch of 8, got %d", n)
	}
	h.fire(t)
	state := h.ctrl.State()
	if len(state.InputTokens) != 8 {
		t.Fatalf("expected batch of 8 after step, got %d", len(state.InputTokens))
	}
	if len(state.OutputTokens) != 0 {
		t.Fatalf("training should not emit output tokens")
	}
}

func TestAnnotationDoesNotBlockStep(t *testing.T) {
	t.Parallel()

	annotator := &fakeAnnotator{release: make(chan struct{})}
	h := newHarness(t, DefaultConfig(), annotator)

	accepted, err := h.ctrl.Start(sim.ModeTraining)
	mustAccept(t, accepted, err)
	h.fire(t)

	if p := h.ctrl.Progress(); p.Step != 1 {
		t.Fatalf("step not advanced before annotation: %+v", p)
	}
	if len(h.timers.pending()) != 1 {
		t.Fatalf("next step not scheduled while annotation pending")
	}
	for _, entry := range h.ctrl.Logs() {
		if strings.HasPrefix(entry.Message, "annotation") {
			t.Fatalf("annotation logged before it resolved")
		}
	}

	close(annotator.release)
	waitFor(t, time.Second, func() bool {
		for _, entry := range h.ctrl.Logs() {
			if entry.Message == "annotation TRAINING #1" && entry.Level == LevelInfo {
				return true
			}
		}
		return false
	})
}

func TestStartRequestsTip(t *testing.T) {
	t.Parallel()

	h := newHarness(t, DefaultConfig(), nil)
	if tip := h.ctrl.State().Tip; tip != initialTip {
		t.Fatalf("unexpected initial tip %q", tip)
	}

	accepted, err := h.ctrl.Start(sim.ModeInference)
	mustAccept(t, accepted, err)
	waitFor(t, time.Second, func() bool { return h.ctrl.State().Tip == "tip: inference" })
}

func TestRealTimersDriveRunToCompletion(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := DefaultConfig()
	cfg.StepInterval = 5 * time.Millisecond
	cfg.MaxSteps = 3
	annotator := &fakeAnnotator{}
	ctrl, err := New(cfg, annotator, nil, logger)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = ctrl.Run(ctx) }()

	accepted, err := ctrl.Start(sim.ModeInference)
	mustAccept(t, accepted, err)

	waitFor(t, 2*time.Second, func() bool { return ctrl.Progress().Mode == sim.ModeIdle })
	if p := ctrl.Progress(); p.Step != 3 {
		t.Fatalf("expected 3 steps, got %d", p.Step)
	}
	waitFor(t, time.Second, func() bool {
		annotator.mu.Lock()
		defer annotator.mu.Unlock()
		return len(annotator.steps) == 3
	})
}

func TestActionsAfterShutdown(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctrl, err := New(DefaultConfig(), &fakeAnnotator{}, nil, logger)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if _, err := ctrl.Start(sim.ModeTraining); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := ctrl.Run(context.Background()); err == nil {
		t.Fatalf("expected error when running twice")
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{MaxSteps: 1}, &fakeAnnotator{}, nil, nil); err == nil {
		t.Fatalf("expected error for zero step interval")
	}
	if _, err := New(Config{StepInterval: time.Second}, &fakeAnnotator{}, nil, nil); err == nil {
		t.Fatalf("expected error for zero max steps")
	}
	if _, err := New(DefaultConfig(), nil, nil, nil); err == nil {
		t.Fatalf("expected error for nil annotator")
	}
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
