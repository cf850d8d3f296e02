package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/skobkin/gpu-optimus/internal/config"
	"github.com/skobkin/gpu-optimus/internal/device"
	"github.com/skobkin/gpu-optimus/internal/gpu"
	"github.com/skobkin/gpu-optimus/internal/logging"
	"github.com/skobkin/gpu-optimus/internal/sampler"
	"github.com/skobkin/gpu-optimus/internal/stats"
)

type options struct {
	sample     bool
	duration   time.Duration
	jsonOutput bool
}

type probeResult struct {
	Device  device.Info    `json:"device"`
	Series  sampler.Series `json:"series"`
	Summary stats.Stats    `json:"summary"`
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		logging.New(os.Stderr, slog.LevelError).Error("failed to load configuration", "err", err)
		return 1
	}

	var opts options
	fs := pflag.NewFlagSet("gpu-probe", pflag.ContinueOnError)
	fs.StringVar(&cfg.SysfsRoot, "sysfs", cfg.SysfsRoot, "path to sysfs root")
	fs.StringVar(&cfg.DebugfsRoot, "debugfs", cfg.DebugfsRoot, "path to debugfs root")
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "device backend: auto, amdgpu or nvml")
	fs.StringVar(&cfg.Device, "device", cfg.Device, "device to sample: auto, a DRM card (card0) or an NVML index")
	fs.DurationVar(&cfg.SampleInterval, "interval", cfg.SampleInterval, "sampling interval")
	fs.Float64Var(&cfg.IdleThreshold, "idle-threshold", cfg.IdleThreshold, "compute utilization (%) below which a sample counts as idle")
	fs.BoolVar(&opts.sample, "sample", false, "run the sampler and print the collected series")
	fs.DurationVar(&opts.duration, "duration", 5*time.Second, "how long to sample")
	fs.BoolVar(&opts.jsonOutput, "json", false, "emit discovery result as JSON")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		return 1
	}

	logger := logging.New(os.Stderr, cfg.LogLevel)

	infos, err := gpu.Discover(cfg.SysfsRoot, logger.With("component", "gpu_discovery"))
	if err != nil {
		logger.Error("gpu discovery failed", "err", err)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if opts.jsonOutput {
		if err := enc.Encode(infos); err != nil {
			logger.Error("encode discovery output", "err", err)
			return 1
		}
	} else {
		if len(infos) == 0 {
			fmt.Println("No DRM cards detected")
		} else {
			fmt.Println("Discovered GPUs:")
		}
		for _, info := range infos {
			fmt.Printf("- %s (PCI: %s, PCIID: %s, Driver: %s, Name: %s)\n", info.ID, info.PCI, info.PCIID, info.Driver, info.Name)
		}
	}

	if !opts.sample {
		return 0
	}

	opener, info, err := device.Resolve(device.Selection{
		Backend:     cfg.Backend,
		Device:      cfg.Device,
		SysfsRoot:   cfg.SysfsRoot,
		DebugfsRoot: cfg.DebugfsRoot,
	}, logger.With("component", "device"))
	if err != nil {
		logger.Error("select device", "err", err)
		return 1
	}

	s, err := sampler.New(opener, sampler.Options{Interval: cfg.SampleInterval, StopTimeout: cfg.StopTimeout}, logger)
	if err != nil {
		logger.Error("init sampler", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer stop()

	if err := s.Start(ctx); err != nil {
		logger.Error("start sampler", "err", err)
		return 1
	}

	timer := time.NewTimer(opts.duration)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
	}
	if err := s.Stop(); err != nil {
		logger.Warn("sampler stop", "err", err)
	}

	series := s.Readings()
	result := probeResult{
		Device:  info,
		Series:  series,
		Summary: stats.Summarize(series, cfg.IdleThreshold),
	}
	if err := enc.Encode(result); err != nil {
		logger.Error("encode sample output", "err", err)
		return 1
	}
	return 0
}
