package httpserver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skobkin/llmsim-web/internal/control"
	"github.com/skobkin/llmsim-web/internal/sampler"
	"github.com/skobkin/llmsim-web/internal/sim"
)

const metricsNamespace = "llmsim"

type simMetricsCollector struct {
	sampler    *sampler.Manager
	controller *control.Controller
	device     sim.Device
	metrics    []sampleMetric

	step     *prometheus.Desc
	maxSteps *prometheus.Desc
	paused   *prometheus.Desc
	mode     *prometheus.Desc
	history  *prometheus.Desc
}

type sampleMetric struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	extract   func(sample sim.Sample) (float64, bool)
}

func newSimMetricsCollector(samplerManager *sampler.Manager, controller *control.Controller) prometheus.Collector {
	if samplerManager == nil {
		return nil
	}

	collector := &simMetricsCollector{
		sampler:    samplerManager,
		controller: controller,
		device:     samplerManager.Device(),
	}

	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "gpu", name),
			help,
			[]string{"device", "pci_id"},
			nil,
		)
	}
	optional := func(value *float64) (float64, bool) {
		if value == nil {
			return 0, false
		}
		return *value, true
	}

	collector.metrics = []sampleMetric{
		{
			desc:      desc("vram_used_gigabytes", "Simulated VRAM in use in GB."),
			valueType: prometheus.GaugeValue,
			extract:   func(sample sim.Sample) (float64, bool) { return sample.VRAMUsedGB, true },
		},
		{
			desc:      desc("vram_total_gigabytes", "Simulated VRAM capacity in GB."),
			valueType: prometheus.GaugeValue,
			extract:   func(sample sim.Sample) (float64, bool) { return sample.VRAMTotalGB, true },
		},
		{
			desc:      desc("compute_util_percent", "Simulated compute utilization percentage."),
			valueType: prometheus.GaugeValue,
			extract:   func(sample sim.Sample) (float64, bool) { return sample.ComputeUtilPercent, true },
		},
		{
			desc:      desc("teraflops", "Simulated delivered TFLOPS."),
			valueType: prometheus.GaugeValue,
			extract:   func(sample sim.Sample) (float64, bool) { return sample.TeraFLOPS, true },
		},
		{
			desc:      desc("temperature_celsius", "Simulated GPU temperature in Celsius."),
			valueType: prometheus.GaugeValue,
			extract:   func(sample sim.Sample) (float64, bool) { return sample.TemperatureC, true },
		},
		{
			desc:      desc("training_loss", "Simulated training loss. Absent outside training."),
			valueType: prometheus.GaugeValue,
			extract:   func(sample sim.Sample) (float64, bool) { return optional(sample.Loss) },
		},
		{
			desc:      desc("tokens_per_second", "Simulated inference throughput. Absent outside inference."),
			valueType: prometheus.GaugeValue,
			extract:   func(sample sim.Sample) (float64, bool) { return optional(sample.TokensPerSecond) },
		},
		{
			desc:      desc("sample_age_seconds", "Seconds elapsed since the latest sample was generated."),
			valueType: prometheus.GaugeValue,
			extract: func(sample sim.Sample) (float64, bool) {
				if sample.CapturedAt.IsZero() {
					return 0, false
				}
				age := time.Since(sample.CapturedAt).Seconds()
				if age < 0 {
					age = 0
				}
				return age, true
			},
		},
	}

	collector.history = prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "sampler", "history_samples"),
		"Samples currently retained in the rolling history.",
		nil, nil,
	)
	collector.step = prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "run", "step"),
		"Current step of the simulated run.",
		nil, nil,
	)
	collector.maxSteps = prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "run", "max_steps"),
		"Step ceiling after which a run completes.",
		nil, nil,
	)
	collector.paused = prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "run", "paused"),
		"1 when the run is paused.",
		nil, nil,
	)
	collector.mode = prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "run", "mode"),
		"1 for the current workload mode, 0 otherwise.",
		[]string{"mode"}, nil,
	)

	return collector
}

func (c *simMetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, metric := range c.metrics {
		ch <- metric.desc
	}
	ch <- c.history
	if c.controller != nil {
		ch <- c.step
		ch <- c.maxSteps
		ch <- c.paused
		ch <- c.mode
	}
}

func (c *simMetricsCollector) Collect(ch chan<- prometheus.Metric) {
	if sample, ok := c.sampler.Latest(); ok {
		for _, metric := range c.metrics {
			value, ok := metric.extract(sample)
			if !ok {
				continue
			}
			ch <- prometheus.MustNewConstMetric(metric.desc, metric.valueType, value, c.device.Name, c.device.PCIID)
		}
	}
	ch <- prometheus.MustNewConstMetric(c.history, prometheus.GaugeValue, float64(len(c.sampler.History())))

	if c.controller == nil {
		return
	}
	progress := c.controller.Progress()
	ch <- prometheus.MustNewConstMetric(c.step, prometheus.GaugeValue, float64(progress.Step))
	ch <- prometheus.MustNewConstMetric(c.maxSteps, prometheus.GaugeValue, float64(c.controller.MaxSteps()))
	ch <- prometheus.MustNewConstMetric(c.paused, prometheus.GaugeValue, boolToFloat(progress.Paused))
	for _, mode := range []sim.Mode{sim.ModeIdle, sim.ModeTraining, sim.ModeInference} {
		ch <- prometheus.MustNewConstMetric(c.mode, prometheus.GaugeValue, boolToFloat(progress.Mode == mode), string(mode))
	}
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
