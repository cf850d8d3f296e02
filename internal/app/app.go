// Package app wires the profiler together: device, sampler, child process,
// analysis and report.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/skobkin/gpu-optimus/internal/analysis"
	"github.com/skobkin/gpu-optimus/internal/config"
	"github.com/skobkin/gpu-optimus/internal/device"
	"github.com/skobkin/gpu-optimus/internal/report"
	"github.com/skobkin/gpu-optimus/internal/runner"
	"github.com/skobkin/gpu-optimus/internal/sampler"
	"github.com/skobkin/gpu-optimus/internal/stats"
)

const (
	// ExitFailure is returned for configuration and device errors.
	ExitFailure = 1
	// ExitNotStarted is returned when the command could not be started.
	ExitNotStarted = 127
	// ExitInterrupted is returned when the run was interrupted.
	ExitInterrupted = 130
)

// Run profiles argv on the configured device and writes the report to
// stdout. The returned code is the one the process should exit with. A
// non-nil error is returned alongside it when the run could not complete.
func Run(ctx context.Context, baseLogger *slog.Logger, cfg config.Config, argv []string, stdout io.Writer) (int, error) {
	if len(argv) == 0 {
		return ExitFailure, runner.ErrNoCommand
	}

	opener, info, err := device.Resolve(device.Selection{
		Backend:     cfg.Backend,
		Device:      cfg.Device,
		SysfsRoot:   cfg.SysfsRoot,
		DebugfsRoot: cfg.DebugfsRoot,
	}, baseLogger.With("component", "device"))
	if err != nil {
		return ExitFailure, fmt.Errorf("select device: %w", err)
	}

	return runWith(ctx, baseLogger, cfg, opener, info, argv, stdout)
}

func runWith(ctx context.Context, baseLogger *slog.Logger, cfg config.Config, opener device.Opener, info device.Info, argv []string, stdout io.Writer) (int, error) {
	appLogger := baseLogger.With("component", "app")

	s, err := sampler.New(opener, sampler.Options{
		Interval:    cfg.SampleInterval,
		StopTimeout: cfg.StopTimeout,
	}, baseLogger)
	if err != nil {
		return ExitFailure, fmt.Errorf("init sampler: %w", err)
	}

	if err := s.Start(ctx); err != nil {
		return ExitFailure, fmt.Errorf("start sampler: %w", err)
	}
	appLogger.Info("profiling command", "device", info.Backend+":"+info.ID, "command", argv)

	result, runErr := runChild(ctx, baseLogger, s, argv, cfg)
	if runErr != nil {
		return ExitNotStarted, runErr
	}

	series := s.Readings()
	st := stats.Summarize(series, cfg.IdleThreshold)
	if st.SampleCount == 0 {
		appLogger.Warn("no GPU samples were collected")
	}

	db, err := analysis.LoadCostDB(cfg.CostDBPath, baseLogger.With("component", "costdb"))
	if err != nil {
		return ExitFailure, fmt.Errorf("load cost database: %w", err)
	}

	rep := report.Report{
		Device:      info,
		Command:     argv,
		ExitCode:    result.ExitCode,
		Interrupted: result.Interrupted,
		Stats:       st,
		Analysis:    analysis.Analyze(st, db, cfg.InstanceType, cfg.Cloud),
	}

	code := result.ExitCode
	if result.Interrupted {
		code = ExitInterrupted
	}

	if err := report.Render(stdout, rep, cfg.OutputFormat, report.TextOptions{NoColor: cfg.NoColor}); err != nil {
		return code, fmt.Errorf("render report: %w", err)
	}

	if cfg.MetricsTextfile != "" {
		if err := report.WriteTextfile(cfg.MetricsTextfile, rep); err != nil {
			return code, err
		}
		appLogger.Debug("metrics textfile written", "path", cfg.MetricsTextfile)
	}

	return code, nil
}

// runChild runs the command with the sampler stop deferred, so that every
// way out of the child (including a panic) releases the device.
func runChild(ctx context.Context, baseLogger *slog.Logger, s *sampler.Sampler, argv []string, cfg config.Config) (runner.Result, error) {
	logger := baseLogger.With("component", "app")
	defer func() {
		if err := s.Stop(); err != nil {
			if errors.Is(err, sampler.ErrStopTimeout) {
				logger.Warn("sampler stop timed out", "timeout", cfg.StopTimeout)
				return
			}
			logger.Warn("sampler stop", "err", err)
		}
	}()

	return runner.Run(ctx, argv, runner.Options{
		KillGrace: cfg.KillGrace,
		Logger:    baseLogger,
	})
}
