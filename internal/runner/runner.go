// Package runner executes the profiled command as a child process.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultKillGrace is how long an interrupted child gets to exit before it
// is killed.
const DefaultKillGrace = 10 * time.Second

var (
	// ErrNoCommand is returned when argv is empty.
	ErrNoCommand = errors.New("no command provided")
	// ErrTerminalInterrupt is the cancellation cause for a Ctrl-C typed at
	// the controlling terminal. The terminal has already delivered SIGINT to
	// the child's process group, so Run does not send another one.
	ErrTerminalInterrupt = errors.New("interrupted from terminal")
)

// InterruptCause maps a received signal to the cause the run context should
// be cancelled with.
func InterruptCause(sig os.Signal, fromTerminal bool) error {
	if sig == unix.SIGINT && fromTerminal {
		return ErrTerminalInterrupt
	}
	return fmt.Errorf("received %s", sig)
}

// Options controls how the child is run. Nil streams inherit the parent's.
type Options struct {
	Stdin     io.Reader
	Stdout    io.Writer
	Stderr    io.Writer
	KillGrace time.Duration
	Logger    *slog.Logger
}

// Result describes how the child ended.
type Result struct {
	ExitCode    int           `json:"exit_code"`
	Interrupted bool          `json:"interrupted"`
	Duration    time.Duration `json:"duration"`
}

// Run starts argv and waits for it. Cancelling ctx forwards SIGINT to the
// child, unless the cause is ErrTerminalInterrupt, and kills it if it is
// still alive after the grace period. A non-zero exit status is reported in
// Result, not as an error. A ctx that is done before the child could be
// started yields an interrupted Result without running anything.
func Run(ctx context.Context, argv []string, opts Options) (Result, error) {
	if len(argv) == 0 {
		return Result{}, ErrNoCommand
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = DefaultKillGrace
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "runner", "command", argv[0])

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if opts.Stdin != nil {
		cmd.Stdin = opts.Stdin
	}
	if opts.Stdout != nil {
		cmd.Stdout = opts.Stdout
	}
	if opts.Stderr != nil {
		cmd.Stderr = opts.Stderr
	}
	cmd.Cancel = func() error {
		if errors.Is(context.Cause(ctx), ErrTerminalInterrupt) {
			logger.Info("child interrupted from terminal", "pid", cmd.Process.Pid, "kill_after", opts.KillGrace)
			return nil
		}
		logger.Info("forwarding interrupt to child", "pid", cmd.Process.Pid)
		return cmd.Process.Signal(unix.SIGINT)
	}
	cmd.WaitDelay = opts.KillGrace

	started := time.Now()
	if err := cmd.Start(); err != nil {
		if ctx.Err() != nil {
			logger.Info("interrupted before the child was started")
			return Result{ExitCode: 128 + int(unix.SIGINT), Interrupted: true}, nil
		}
		return Result{}, fmt.Errorf("start %s: %w", argv[0], err)
	}
	logger.Debug("child started", "pid", cmd.Process.Pid)

	waitErr := cmd.Wait()
	result := Result{
		Interrupted: ctx.Err() != nil,
		Duration:    time.Since(started),
	}

	state := cmd.ProcessState
	if state == nil {
		return result, fmt.Errorf("wait %s: %w", argv[0], waitErr)
	}
	result.ExitCode = exitCode(state)

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil, errors.As(waitErr, &exitErr):
	case errors.Is(waitErr, exec.ErrWaitDelay), result.Interrupted:
		// Output pipes outliving the child or the context error reported
		// for a child that exited cleanly after the interrupt.
	default:
		return result, fmt.Errorf("wait %s: %w", argv[0], waitErr)
	}

	logger.Info("child exited", "exit_code", result.ExitCode, "interrupted", result.Interrupted, "duration", result.Duration)
	return result, nil
}

// exitCode follows the shell convention of 128+signal for signal deaths.
func exitCode(state *os.ProcessState) int {
	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return state.ExitCode()
}
