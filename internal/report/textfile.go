package report

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skobkin/gpu-optimus/internal/sampler"
)

const metricsNamespace = "gpuoptimus"

type runCollector struct {
	report  Report
	labels  []string
	metrics []runMetric
}

type runMetric struct {
	desc    *prometheus.Desc
	extract func(rep Report) float64
}

// NewCollector exposes a finished run as a set of constant gauges.
func NewCollector(rep Report) prometheus.Collector {
	labelNames := []string{"backend", "device", "instance_type", "cloud"}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "run", name),
			help,
			labelNames,
			nil,
		)
	}

	return &runCollector{
		report: rep,
		labels: []string{
			rep.Device.Backend,
			rep.Device.ID,
			rep.Analysis.Cost.InstanceType,
			rep.Analysis.Cost.CloudProvider,
		},
		metrics: []runMetric{
			{
				desc:    desc("duration_seconds", "Time between the first and last GPU sample."),
				extract: func(rep Report) float64 { return rep.Stats.DurationSec },
			},
			{
				desc:    desc("compute_utilization_percent", "Mean GPU compute utilization."),
				extract: func(rep Report) float64 { return rep.Stats.AvgComputeUtil },
			},
			{
				desc:    desc("memory_utilization_percent", "Mean VRAM used as a share of capacity."),
				extract: func(rep Report) float64 { return rep.Stats.AvgMemUtilPct },
			},
			{
				desc:    desc("memory_peak_bytes", "Peak VRAM usage."),
				extract: func(rep Report) float64 { return rep.Stats.PeakMemUsedGB * sampler.BytesPerGB },
			},
			{
				desc:    desc("memory_total_bytes", "VRAM capacity of the profiled device."),
				extract: func(rep Report) float64 { return rep.Stats.MemTotalGB * sampler.BytesPerGB },
			},
			{
				desc:    desc("idle_percent", "Share of samples below the idle threshold."),
				extract: func(rep Report) float64 { return rep.Stats.IdlePct },
			},
			{
				desc:    desc("samples", "Number of GPU samples collected."),
				extract: func(rep Report) float64 { return float64(rep.Stats.SampleCount) },
			},
			{
				desc:    desc("cost_dollars", "Estimated cost of the run."),
				extract: func(rep Report) float64 { return rep.Analysis.Cost.TotalCost },
			},
			{
				desc:    desc("wasted_cost_dollars", "Estimated cost attributed to idle GPU time."),
				extract: func(rep Report) float64 { return rep.Analysis.Cost.WastedCost },
			},
			{
				desc:    desc("exit_code", "Exit code of the profiled command."),
				extract: func(rep Report) float64 { return float64(rep.ExitCode) },
			},
			{
				desc:    desc("recommendations", "Number of optimization recommendations."),
				extract: func(rep Report) float64 { return float64(len(rep.Analysis.Recommendations)) },
			},
		},
	}
}

func (c *runCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, metric := range c.metrics {
		ch <- metric.desc
	}
}

func (c *runCollector) Collect(ch chan<- prometheus.Metric) {
	for _, metric := range c.metrics {
		ch <- prometheus.MustNewConstMetric(metric.desc, prometheus.GaugeValue, metric.extract(c.report), c.labels...)
	}
}

// WriteTextfile writes the run metrics in the node-exporter textfile format.
// The file is replaced atomically.
func WriteTextfile(path string, rep Report) error {
	registry := prometheus.NewPedanticRegistry()
	if err := registry.Register(NewCollector(rep)); err != nil {
		return fmt.Errorf("register run collector: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
