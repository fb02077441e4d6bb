package sim

// Device describes the simulated accelerator.
type Device struct {
	Name        string  `json:"name"`
	PCIID       string  `json:"pci_id"`
	VRAMTotalGB float64 `json:"vram_total_gb"`
	PeakTFLOPS  float64 `json:"peak_tflops"`
}

// DefaultDevice is an 80 GB H100 rated at 1000 dense TFLOPS.
var DefaultDevice = Device{
	Name:        "NVIDIA H100 Tensor Core GPU",
	PCIID:       "10de:2330",
	VRAMTotalGB: 80,
	PeakTFLOPS:  1000,
}

// Profile holds the peak targets and jitter amplitudes for one workload.
type Profile struct {
	VRAMPeakGB     float64
	VRAMJitterGB   float64
	ComputePeakPct float64
	ComputeJitter  float64
	PausedCompute  float64
}

// IdleVRAMGB is the baseline footprint of a loaded driver with no workload.
const IdleVRAMGB = 4

var (
	// TrainingProfile includes gradients and optimizer states.
	TrainingProfile = Profile{
		VRAMPeakGB:     72,
		VRAMJitterGB:   1,
		ComputePeakPct: 95,
		ComputeJitter:  2.5,
		PausedCompute:  5,
	}
	// InferenceProfile is dominated by weights and KV cache.
	InferenceProfile = Profile{
		VRAMPeakGB:     18,
		VRAMJitterGB:   0.5,
		ComputePeakPct: 45,
		ComputeJitter:  5,
		PausedCompute:  2,
	}
)

const (
	idleTempC     = 45
	tempRangeC    = 35
	lossFloor     = 0.1
	lossScale     = 2.5
	lossDecay     = 0.1
	lossNoise     = 0.05
	minTokensRate = 18
	tokensSpread  = 6
)
