package sim

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Generator maps (mode, paused, step) to a telemetry sample. It keeps no state
// between calls apart from its random source.
type Generator struct {
	device Device
	now    func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator builds a generator for the device. A nil source falls back to a
// time-seeded PCG stream.
func NewGenerator(device Device, src rand.Source) *Generator {
	if src == nil {
		seed := uint64(time.Now().UnixNano())
		src = rand.NewPCG(seed, seed>>1|1)
	}
	if device.VRAMTotalGB <= 0 {
		device.VRAMTotalGB = DefaultDevice.VRAMTotalGB
	}
	if device.PeakTFLOPS <= 0 {
		device.PeakTFLOPS = DefaultDevice.PeakTFLOPS
	}
	return &Generator{
		device: device,
		now:    time.Now,
		rng:    rand.New(src),
	}
}

// NewSeededGenerator is a convenience for reproducible streams.
func NewSeededGenerator(device Device, seed uint64) *Generator {
	return NewGenerator(device, rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Device returns the simulated device the generator reports on.
func (g *Generator) Device() Device {
	return g.device
}

// Generate produces one sample.
func (g *Generator) Generate(mode Mode, paused bool, step int) Sample {
	if step < 0 {
		step = 0
	}

	g.mu.Lock()
	vram := float64(IdleVRAMGB)
	compute := 0.0
	var loss, tps *float64

	switch mode {
	case ModeTraining:
		vram, compute = g.target(TrainingProfile, paused)
		value := max(lossFloor, lossScale/(1+lossDecay*float64(step))+g.uniform(0, lossNoise))
		loss = &value
	case ModeInference:
		vram, compute = g.target(InferenceProfile, paused)
		value := 0.0
		if !paused {
			value = g.uniform(minTokensRate, minTokensRate+tokensSpread)
		}
		tps = &value
	}
	g.mu.Unlock()

	vram = clamp(vram, 0, g.device.VRAMTotalGB)
	compute = clamp(compute, 0, 100)

	return Sample{
		CapturedAt:         g.now(),
		Mode:               normalizeMode(mode),
		VRAMUsedGB:         vram,
		VRAMTotalGB:        g.device.VRAMTotalGB,
		ComputeUtilPercent: compute,
		TeraFLOPS:          (compute / 100) * g.device.PeakTFLOPS,
		TemperatureC:       idleTempC + (compute/100)*tempRangeC,
		Loss:               loss,
		TokensPerSecond:    tps,
	}
}

// target must be called with g.mu held.
func (g *Generator) target(p Profile, paused bool) (vram, compute float64) {
	vram = p.VRAMPeakGB + g.uniform(-p.VRAMJitterGB, p.VRAMJitterGB)
	if paused {
		compute = g.uniform(p.PausedCompute, p.PausedCompute+1)
	} else {
		compute = p.ComputePeakPct + g.uniform(-p.ComputeJitter, p.ComputeJitter)
	}
	return vram, compute
}

func (g *Generator) uniform(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}

func normalizeMode(mode Mode) Mode {
	if mode.Workload() {
		return mode
	}
	return ModeIdle
}
