package sim

import "time"

// Sample is one synthetic telemetry reading. Pointer fields serialize as null
// when the current mode does not produce them.
type Sample struct {
	CapturedAt         time.Time `json:"ts"`
	Mode               Mode      `json:"mode"`
	VRAMUsedGB         float64   `json:"vram_used_gb"`
	VRAMTotalGB        float64   `json:"vram_total_gb"`
	ComputeUtilPercent float64   `json:"compute_util_pct"`
	TeraFLOPS          float64   `json:"tflops"`
	TemperatureC       float64   `json:"temp_c"`
	Loss               *float64  `json:"loss"`
	TokensPerSecond    *float64  `json:"tokens_per_sec"`
}
