package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/skobkin/llmsim-web/cmd/llmsim/format"
	"github.com/skobkin/llmsim-web/internal/device"
	"github.com/skobkin/llmsim-web/internal/sim"
)

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Generate telemetry samples without running the service",
	Long: `Generate a sequence of samples for one mode.

Examples:
  llmsim sample --mode training --count 20 --advance
  llmsim sample --mode inference --paused -o json
  llmsim sample --mode training --seed 42 -o csv > samples.csv`,
	Args: cobra.NoArgs,
	RunE: runSample,
}

var (
	sampleMode    string
	sampleCount   int
	sampleStep    int
	sampleAdvance bool
	samplePaused  bool
	sampleSeed    uint64
)

func init() {
	sampleCmd.Flags().StringVar(&sampleMode, "mode", "training", "Workload mode: idle, training, inference")
	sampleCmd.Flags().IntVarP(&sampleCount, "count", "n", 10, "Number of samples to generate")
	sampleCmd.Flags().IntVar(&sampleStep, "step", 0, "Step of the first sample")
	sampleCmd.Flags().BoolVar(&sampleAdvance, "advance", false, "Increment the step after every sample")
	sampleCmd.Flags().BoolVar(&samplePaused, "paused", false, "Generate samples for a paused run")
	sampleCmd.Flags().Uint64Var(&sampleSeed, "seed", 0, "Random seed (0 uses APP_RAND_SEED or the clock)")
	RootCmd.AddCommand(sampleCmd)
}

func runSample(cmd *cobra.Command, args []string) error {
	f, err := getFormat()
	if err != nil {
		return err
	}
	mode, err := sim.ParseMode(sampleMode)
	if err != nil {
		return err
	}
	if sampleCount <= 0 {
		return fmt.Errorf("--count must be > 0")
	}
	if sampleStep < 0 {
		return fmt.Errorf("--step must be >= 0")
	}

	dev, err := device.Resolve(device.Config{
		Name:        appCfg.Device.Name,
		PCIID:       appCfg.Device.PCIID,
		VRAMTotalGB: appCfg.Device.VRAMTotalGB,
		PeakTFLOPS:  appCfg.Device.PeakTFLOPS,
	}, logger)
	if err != nil {
		return err
	}

	var generator *sim.Generator
	switch {
	case sampleSeed != 0:
		generator = sim.NewSeededGenerator(dev, sampleSeed)
	case appCfg.HasSeed:
		generator = sim.NewSeededGenerator(dev, appCfg.Seed)
	default:
		generator = sim.NewGenerator(dev, nil)
	}

	samples := make([]sim.Sample, 0, sampleCount)
	step := sampleStep
	for i := 0; i < sampleCount; i++ {
		samples = append(samples, generator.Generate(mode, samplePaused, step))
		if sampleAdvance {
			step++
		}
	}

	return format.Render(cmd.OutOrStdout(), f, sampleHeaders(), sampleRows(samples, sampleStep, sampleAdvance), samples)
}

func sampleHeaders() []string {
	return []string{"step", "mode", "vram_used_gb", "compute_util_pct", "tflops", "temp_c", "loss", "tokens_per_sec"}
}

func sampleRows(samples []sim.Sample, firstStep int, advance bool) [][]string {
	rows := make([][]string, 0, len(samples))
	for i, s := range samples {
		step := firstStep
		if advance {
			step += i
		}
		rows = append(rows, []string{
			strconv.Itoa(step),
			string(s.Mode),
			format.F64(s.VRAMUsedGB, 2),
			format.F64(s.ComputeUtilPercent, 1),
			format.F64(s.TeraFLOPS, 0),
			format.F64(s.TemperatureC, 1),
			format.PtrF64(s.Loss, 4),
			format.PtrF64(s.TokensPerSecond, 1),
		})
	}
	return rows
}
