// Package sampler polls a single accelerator at a fixed cadence while a
// profiled command runs and accumulates the readings into a Series.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/skobkin/gpu-optimus/internal/device"
)

const (
	// DefaultInterval is the sampling period used when Options.Interval is zero.
	DefaultInterval = time.Second
	// DefaultStopTimeout bounds Stop when Options.StopTimeout is zero.
	DefaultStopTimeout = 5 * time.Second
)

var (
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("sampler already started")
	// ErrStopTimeout is returned when the sampling loop did not exit within
	// the stop timeout. The sampler is still considered stopped.
	ErrStopTimeout = errors.New("sampler did not stop in time")
)

// Options tunes a Sampler. Zero values select the defaults.
type Options struct {
	Interval    time.Duration
	StopTimeout time.Duration
}

// Sampler runs one background polling loop against one device handle.
type Sampler struct {
	opener      device.Opener
	interval    time.Duration
	stopTimeout time.Duration
	logger      *slog.Logger

	lifecycle sync.Mutex
	started   bool
	stopped   bool
	cancel    context.CancelFunc
	done      chan struct{}

	mu       sync.Mutex
	series   Series
	halted   bool
	closeErr error
}

// New builds a Sampler. The device is not touched until Start.
func New(opener device.Opener, opts Options, logger *slog.Logger) (*Sampler, error) {
	if opener == nil {
		return nil, errors.New("device opener is required")
	}
	if opts.Interval < 0 || opts.StopTimeout < 0 {
		return nil, fmt.Errorf("interval and stop timeout must be >= 0")
	}
	if opts.Interval == 0 {
		opts.Interval = DefaultInterval
	}
	if opts.StopTimeout == 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		opener:      opener,
		interval:    opts.Interval,
		stopTimeout: opts.StopTimeout,
		logger:      logger.With("component", "sampler"),
	}, nil
}

// Start opens the device, records its memory capacity and launches the
// sampling loop. Device failures are returned as *device.InitError.
func (s *Sampler) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	handle, err := s.opener.Open()
	if err != nil {
		var initErr *device.InitError
		if errors.As(err, &initErr) {
			return err
		}
		return &device.InitError{Err: err}
	}

	usage, err := handle.Query()
	if err != nil {
		if closeErr := handle.Close(); closeErr != nil {
			s.logger.Warn("device shutdown after failed start", "err", closeErr)
		}
		return &device.InitError{Err: fmt.Errorf("read memory capacity: %w", err)}
	}

	s.started = true
	s.series = Series{MemTotalGB: bytesToGB(usage.MemTotalBytes)}

	// The loop outlives cancellation of ctx: only Stop ends it, so that
	// every exit path goes through the same join.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})

	s.logger.Info("sampler started", "interval", s.interval, "mem_total_gb", s.series.MemTotalGB)
	go s.run(loopCtx, handle, s.done)
	return nil
}

// Stop ends the sampling loop and waits for it to release the device, for
// at most the stop timeout. It is a no-op before Start, after a failed
// Start, and on repeated calls.
func (s *Sampler) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.started || s.stopped {
		return nil
	}
	s.stopped = true
	s.cancel()

	timer := time.NewTimer(s.stopTimeout)
	defer timer.Stop()

	select {
	case <-s.done:
	case <-timer.C:
		s.halt()
		s.logger.Warn("sampling loop did not exit in time", "timeout", s.stopTimeout)
		return ErrStopTimeout
	}

	s.halt()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info("sampler stopped", "readings", len(s.series.Readings))
	return s.closeErr
}

// Readings returns a copy of the collected series. Call it after Stop.
func (s *Sampler) Readings() Series {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Series{
		MemTotalGB: s.series.MemTotalGB,
		Readings:   slices.Clone(s.series.Readings),
	}
}

func (s *Sampler) run(ctx context.Context, handle device.Handle, done chan<- struct{}) {
	defer close(done)
	defer s.release(handle)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sampling loop panicked", "panic", r)
		}
	}()

	s.sample(handle)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample(handle)
		}
	}
}

func (s *Sampler) sample(handle device.Handle) {
	usage, err := handle.Query()
	if err != nil {
		s.logger.Warn("sample skipped", "err", err)
		return
	}

	reading := Reading{
		Timestamp:      time.Now(),
		ComputeUtilPct: usage.ComputeUtilPct,
		MemUtilPct:     usage.MemUtilPct,
		MemUsedGB:      bytesToGB(usage.MemUsedBytes),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halted {
		return
	}
	s.series.Readings = append(s.series.Readings, reading)
}

func (s *Sampler) release(handle device.Handle) {
	err := handle.Close()
	if err != nil {
		s.logger.Warn("device shutdown failed", "err", err)
	}
	s.mu.Lock()
	s.closeErr = err
	s.mu.Unlock()
}

// halt forbids further appends, covering a loop that outlived the stop
// timeout.
func (s *Sampler) halt() {
	s.mu.Lock()
	s.halted = true
	s.mu.Unlock()
}
