package sampler

import "time"

// BytesPerGB is the size of the GB unit used by Reading and Series (GiB).
const BytesPerGB = 1024 * 1024 * 1024

// Reading is a single device sample.
type Reading struct {
	Timestamp      time.Time `json:"ts"`
	ComputeUtilPct float64   `json:"compute_util_pct"`
	MemUtilPct     float64   `json:"mem_util_pct"`
	MemUsedGB      float64   `json:"mem_used_gb"`
}

// Series is the ordered set of readings collected during one run.
type Series struct {
	MemTotalGB float64   `json:"mem_total_gb"`
	Readings   []Reading `json:"readings"`
}

// Len returns the number of readings.
func (s Series) Len() int {
	return len(s.Readings)
}

func bytesToGB(value uint64) float64 {
	return float64(value) / BytesPerGB
}
