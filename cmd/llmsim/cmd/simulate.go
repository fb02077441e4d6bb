package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/skobkin/llmsim-web/cmd/llmsim/format"
	"github.com/skobkin/llmsim-web/internal/app"
	"github.com/skobkin/llmsim-web/internal/control"
	"github.com/skobkin/llmsim-web/internal/sim"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run one simulated task headless and print its console",
	Long: `Run a training or inference task to completion without the web UI.

Intervals default to a fast-forwarded pace. The console log is streamed while
the run progresses; the final telemetry history is printed at the end.

Examples:
  llmsim simulate --mode inference
  llmsim simulate --mode training --steps 50 --step-interval 10ms -o csv`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

var (
	simulateMode           string
	simulateSteps          int
	simulateStepInterval   time.Duration
	simulateSampleInterval time.Duration
)

func init() {
	simulateCmd.Flags().StringVar(&simulateMode, "mode", "training", "Workload mode: training or inference")
	simulateCmd.Flags().IntVar(&simulateSteps, "steps", 0, "Step ceiling (default APP_MAX_STEPS)")
	simulateCmd.Flags().DurationVar(&simulateStepInterval, "step-interval", 75*time.Millisecond, "Delay between steps")
	simulateCmd.Flags().DurationVar(&simulateSampleInterval, "sample-interval", 50*time.Millisecond, "Metrics sampling period")
	RootCmd.AddCommand(simulateCmd)
}

type simulateResult struct {
	Mode    sim.Mode           `json:"mode"`
	Steps   int                `json:"steps"`
	Logs    []control.LogEntry `json:"logs"`
	History []sim.Sample       `json:"history"`
}

func runSimulate(cmd *cobra.Command, args []string) error {
	f, err := getFormat()
	if err != nil {
		return err
	}
	mode, err := sim.ParseMode(simulateMode)
	if err != nil {
		return err
	}
	if !mode.Workload() {
		return fmt.Errorf("--mode must be training or inference")
	}
	if simulateStepInterval <= 0 || simulateSampleInterval <= 0 {
		return fmt.Errorf("intervals must be > 0")
	}

	cfg := appCfg
	cfg.Run.StepInterval = simulateStepInterval
	cfg.SampleInterval = simulateSampleInterval
	if simulateSteps > 0 {
		cfg.Run.MaxSteps = simulateSteps
	}

	simulation, err := app.NewSimulation(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(runCtx)
	simulation.Go(gctx, g)

	events, unsubscribe := simulation.Controller.Subscribe(256)
	defer unsubscribe()

	out := cmd.OutOrStdout()
	stream := f == format.FormatTable
	if _, err := simulation.Controller.Start(mode); err != nil {
		cancel()
		_ = g.Wait()
		return err
	}

	interrupted := watchRun(ctx, events, out, stream)
	if interrupted {
		if _, err := simulation.Controller.Stop(); err != nil {
			logger.Warn("stop after interrupt failed", "err", err)
		}
	}

	result := simulateResult{
		Mode:    mode,
		Steps:   simulation.Controller.Progress().Step,
		Logs:    simulation.Controller.Logs(),
		History: simulation.Sampler.History(),
	}

	cancel()
	if err := g.Wait(); err != nil {
		return err
	}

	if stream {
		fmt.Fprintln(out)
	}
	return format.Render(out, f, historyHeaders(), historyRows(result.History), result)
}

// watchRun blocks until the run completes or ctx is cancelled. It reports
// whether the run was interrupted.
func watchRun(ctx context.Context, events <-chan control.Event, out io.Writer, stream bool) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case ev, ok := <-events:
			if !ok {
				return false
			}
			switch ev.Type {
			case control.EventLog:
				if stream && ev.Log != nil {
					fmt.Fprintf(out, "[%s] %-7s %s\n", ev.Log.Timestamp.Format("15:04:05.000"), ev.Log.Level, ev.Log.Message)
				}
			case control.EventCompleted:
				return false
			}
		}
	}
}

func historyHeaders() []string {
	headers := sampleHeaders()
	headers[0] = "time"
	return headers
}

func historyRows(samples []sim.Sample) [][]string {
	rows := sampleRows(samples, 0, false)
	for i, s := range samples {
		rows[i][0] = s.CapturedAt.Format("15:04:05.000")
	}
	return rows
}
