package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/skobkin/gpu-optimus/internal/app"
	"github.com/skobkin/gpu-optimus/internal/config"
	"github.com/skobkin/gpu-optimus/internal/logging"
	"github.com/skobkin/gpu-optimus/internal/runner"
	"github.com/skobkin/gpu-optimus/internal/version"
)

var (
	buildVersion = "dev"
	buildCommit  = ""
	buildTime    = ""
)

func main() {
	version.Set(version.Info{
		Version:   buildVersion,
		Commit:    buildCommit,
		BuildTime: buildTime,
	})

	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		logging.New(os.Stderr, slog.LevelError).Error("failed to load configuration", "err", err)
		return app.ExitFailure
	}

	fs := pflag.NewFlagSet("gpu-optimus", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: gpu-optimus [flags] [--] command [args...]\n\nProfiles GPU utilization of a training command and suggests cost optimizations.\n\nFlags:\n")
		fs.PrintDefaults()
	}
	logLevel := config.BindFlags(fs, &cfg)
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return app.ExitFailure
	}
	if *showVersion {
		fmt.Println("gpu-optimus", version.Current())
		return 0
	}
	if fs.Changed("log-level") {
		if err := cfg.ApplyLogLevel(*logLevel); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return app.ExitFailure
		}
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		return app.ExitFailure
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return app.ExitFailure
	}

	logger := logging.New(os.Stderr, cfg.LogLevel)

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, unix.SIGINT, unix.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		select {
		case sig := <-signals:
			logger.Info("interrupt received", "signal", sig.String())
			cancel(runner.InterruptCause(sig, term.IsTerminal(int(os.Stdin.Fd()))))
		case <-ctx.Done():
		}
	}()

	code, err := app.Run(ctx, logger, cfg, fs.Args(), os.Stdout)
	if err != nil {
		logger.Error("profiling failed", "err", err)
	}
	return code
}
