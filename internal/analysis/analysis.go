// Package analysis turns run statistics into a cost estimate and
// rule-based optimization suggestions.
package analysis

import (
	"fmt"

	"github.com/skobkin/gpu-optimus/internal/stats"
)

// Priority of a recommendation.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
)

// Rule thresholds.
const (
	idleWarnPct        = 20.0
	vramUnderusedRatio = 0.6
	vramNearLimitRatio = 0.95
	lowComputeWarnPct  = 50.0
	secondsPerHour     = 3600.0
)

// CostAnalysis is the price breakdown for a run.
type CostAnalysis struct {
	InstanceType  string  `json:"instance_type"`
	CloudProvider string  `json:"cloud_provider"`
	HourlyRate    float64 `json:"hourly_rate"`
	RateKnown     bool    `json:"rate_known"`
	DurationHours float64 `json:"duration_hours"`
	TotalCost     float64 `json:"total_cost"`
	WastedCost    float64 `json:"wasted_cost"`
}

// Recommendation is one suggested optimization.
type Recommendation struct {
	Priority   Priority `json:"priority"`
	Category   string   `json:"category"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion"`
}

// Analysis bundles the cost breakdown and recommendations.
type Analysis struct {
	Cost            CostAnalysis     `json:"cost_analysis"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Analyze prices the run and applies the recommendation rules. Runs without
// samples get no recommendations; memory rules need a known capacity.
func Analyze(st stats.Stats, db CostDB, instanceType, cloud string) Analysis {
	rate, known := db.Rate(cloud, instanceType)
	hours := st.DurationSec / secondsPerHour
	total := rate * hours

	out := Analysis{
		Cost: CostAnalysis{
			InstanceType:  instanceType,
			CloudProvider: cloud,
			HourlyRate:    rate,
			RateKnown:     known,
			DurationHours: hours,
			TotalCost:     total,
			WastedCost:    total * st.IdlePct / 100,
		},
		Recommendations: []Recommendation{},
	}
	if st.SampleCount == 0 {
		return out
	}

	if st.IdlePct > idleWarnPct {
		out.Recommendations = append(out.Recommendations, Recommendation{
			Priority:   PriorityHigh,
			Category:   "Idle Time",
			Message:    fmt.Sprintf("GPU was idle %.1f%% of the time. This is often a CPU/data loading bottleneck.", st.IdlePct),
			Suggestion: "Try increasing `num_workers` in your DataLoader, using a faster storage solution, or using `webdataset` format.",
		})
	}

	if st.MemTotalGB > 0 {
		switch {
		case st.PeakMemUsedGB < st.MemTotalGB*vramUnderusedRatio:
			out.Recommendations = append(out.Recommendations, Recommendation{
				Priority:   PriorityMedium,
				Category:   "Underutilized VRAM",
				Message:    fmt.Sprintf("Peak GPU memory usage was %.1fGB out of %.1fGB available.", st.PeakMemUsedGB, st.MemTotalGB),
				Suggestion: "You can likely use a smaller, cheaper instance type or increase your batch size significantly.",
			})
		case st.PeakMemUsedGB > st.MemTotalGB*vramNearLimitRatio:
			out.Recommendations = append(out.Recommendations, Recommendation{
				Priority:   PriorityHigh,
				Category:   "VRAM Bottleneck",
				Message:    "Peak GPU memory usage is dangerously close to the limit, risking Out-of-Memory (OOM) errors.",
				Suggestion: "You need a larger instance type, or must reduce your model size/batch size.",
			})
		}
	}

	if st.AvgComputeUtil < lowComputeWarnPct {
		out.Recommendations = append(out.Recommendations, Recommendation{
			Priority:   PriorityMedium,
			Category:   "Low Compute",
			Message:    fmt.Sprintf("Average GPU compute utilization was only %.1f%%.", st.AvgComputeUtil),
			Suggestion: "This can be caused by small model size, small batch size, or inefficient kernels. Try using `torch.compile` or increasing batch size.",
		})
	}

	return out
}
