package stats

import (
	"math"
	"testing"
	"time"

	"github.com/skobkin/gpu-optimus/internal/sampler"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func series(memTotal float64, compute []float64, memUsed []float64) sampler.Series {
	out := sampler.Series{MemTotalGB: memTotal}
	for i := range compute {
		reading := sampler.Reading{
			Timestamp:      t0.Add(time.Duration(i) * time.Second),
			ComputeUtilPct: compute[i],
		}
		if i < len(memUsed) {
			reading.MemUsedGB = memUsed[i]
		}
		out.Readings = append(out.Readings, reading)
	}
	return out
}

func TestSummarizeEmpty(t *testing.T) {
	t.Parallel()

	for _, in := range []sampler.Series{{}, {MemTotalGB: 24}} {
		if got := Summarize(in, DefaultIdleThreshold); got != (Stats{}) {
			t.Fatalf("expected zero stats for empty series, got %+v", got)
		}
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		series    sampler.Series
		threshold float64
		check     func(t *testing.T, got Stats)
	}{
		{
			name:      "IdlePercent",
			series:    series(10, []float64{0, 5, 50, 100}, nil),
			threshold: 10,
			check: func(t *testing.T, got Stats) {
				assertClose(t, "IdlePct", got.IdlePct, 50)
				assertClose(t, "AvgComputeUtil", got.AvgComputeUtil, 38.75)
				if got.SampleCount != 4 {
					t.Fatalf("SampleCount = %d", got.SampleCount)
				}
			},
		},
		{
			name:      "ThresholdIsStrict",
			series:    series(10, []float64{10, 9.99}, nil),
			threshold: 10,
			check: func(t *testing.T, got Stats) {
				assertClose(t, "IdlePct", got.IdlePct, 50)
			},
		},
		{
			name:      "NonPositiveThresholdUsesDefault",
			series:    series(10, []float64{5, 20}, nil),
			threshold: 0,
			check: func(t *testing.T, got Stats) {
				assertClose(t, "IdlePct", got.IdlePct, 50)
			},
		},
		{
			name:      "Duration",
			series:    series(10, []float64{1, 2, 3}, nil),
			threshold: 10,
			check: func(t *testing.T, got Stats) {
				assertClose(t, "DurationSec", got.DurationSec, 2)
			},
		},
		{
			name:      "SingleReadingHasNoDuration",
			series:    series(10, []float64{70}, []float64{3}),
			threshold: 10,
			check: func(t *testing.T, got Stats) {
				assertClose(t, "DurationSec", got.DurationSec, 0)
				assertClose(t, "PeakMemUsedGB", got.PeakMemUsedGB, 3)
				assertClose(t, "IdlePct", got.IdlePct, 0)
			},
		},
		{
			name:      "MemoryAverageAndPeak",
			series:    series(10, []float64{50, 50, 50}, []float64{2, 4, 6}),
			threshold: 10,
			check: func(t *testing.T, got Stats) {
				assertClose(t, "AvgMemUtilPct", got.AvgMemUtilPct, 40)
				assertClose(t, "PeakMemUsedGB", got.PeakMemUsedGB, 6)
				assertClose(t, "MemTotalGB", got.MemTotalGB, 10)
			},
		},
		{
			name:      "UnknownMemoryTotal",
			series:    series(0, []float64{50, 50, 50}, []float64{2, 4, 6}),
			threshold: 10,
			check: func(t *testing.T, got Stats) {
				assertClose(t, "AvgMemUtilPct", got.AvgMemUtilPct, 0)
				assertClose(t, "PeakMemUsedGB", got.PeakMemUsedGB, 6)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tc.check(t, Summarize(tc.series, tc.threshold))
		})
	}
}

func TestSummarizeIrregularTimestamps(t *testing.T) {
	t.Parallel()

	in := sampler.Series{MemTotalGB: 8, Readings: []sampler.Reading{
		{Timestamp: t0, ComputeUtilPct: 90},
		{Timestamp: t0.Add(300 * time.Millisecond), ComputeUtilPct: 90},
		{Timestamp: t0.Add(2500 * time.Millisecond), ComputeUtilPct: 90},
	}}

	got := Summarize(in, DefaultIdleThreshold)
	assertClose(t, "DurationSec", got.DurationSec, 2.5)
}

func TestSummarizeIdleBounds(t *testing.T) {
	t.Parallel()

	values := []float64{0, 0.5, 9.9, 10, 42, 99, 100}
	for n := 1; n <= len(values); n++ {
		got := Summarize(series(16, values[:n], nil), DefaultIdleThreshold)
		if got.IdlePct < 0 || got.IdlePct > 100 || math.IsNaN(got.IdlePct) {
			t.Fatalf("IdlePct out of range for %v: %v", values[:n], got.IdlePct)
		}
	}
}

func assertClose(t *testing.T, field string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("%s = %v, want %v", field, got, want)
	}
}
