// Package stats summarizes a finished sampling series.
package stats

import "github.com/skobkin/gpu-optimus/internal/sampler"

// DefaultIdleThreshold is the compute utilization, in percent, below which a
// reading counts as idle.
const DefaultIdleThreshold = 10.0

// Stats is the summary of one profiling run.
type Stats struct {
	DurationSec    float64 `json:"duration_sec"`
	AvgComputeUtil float64 `json:"avg_compute_util"`
	AvgMemUtilPct  float64 `json:"avg_mem_util_percent"`
	PeakMemUsedGB  float64 `json:"peak_mem_used_gb"`
	IdlePct        float64 `json:"idle_percent"`
	MemTotalGB     float64 `json:"mem_total_gb"`
	SampleCount    int     `json:"sample_count"`
}

// Summarize computes Stats from a series. An empty series yields zero
// Stats. A non-positive threshold selects DefaultIdleThreshold.
func Summarize(series sampler.Series, idleThreshold float64) Stats {
	readings := series.Readings
	if len(readings) == 0 {
		return Stats{}
	}
	if idleThreshold <= 0 {
		idleThreshold = DefaultIdleThreshold
	}

	var (
		computeSum float64
		memUsedSum float64
		peak       float64
		idle       int
	)
	for _, reading := range readings {
		computeSum += reading.ComputeUtilPct
		memUsedSum += reading.MemUsedGB
		peak = max(peak, reading.MemUsedGB)
		if reading.ComputeUtilPct < idleThreshold {
			idle++
		}
	}

	n := float64(len(readings))
	out := Stats{
		AvgComputeUtil: computeSum / n,
		PeakMemUsedGB:  peak,
		IdlePct:        float64(idle) / n * 100,
		MemTotalGB:     series.MemTotalGB,
		SampleCount:    len(readings),
	}
	if len(readings) > 1 {
		out.DurationSec = readings[len(readings)-1].Timestamp.Sub(readings[0].Timestamp).Seconds()
	}
	if series.MemTotalGB > 0 {
		out.AvgMemUtilPct = memUsedSum / n / series.MemTotalGB * 100
	}
	return out
}
