package device

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// NVML opens handles backed by the NVIDIA management library. The library
// is loaded lazily by nvml.Init, so binaries run on hosts without it and
// fail only when this backend is selected.
type NVML struct {
	index  int
	logger *slog.Logger
}

// NewNVML prepares an opener for the device at the given NVML index.
func NewNVML(index int, logger *slog.Logger) *NVML {
	if logger == nil {
		logger = slog.Default()
	}
	return &NVML{
		index:  index,
		logger: logger.With("backend", BackendNVML, "index", index),
	}
}

// Open initialises NVML and looks up the device handle. On failure the
// library is shut down again before returning.
func (n *NVML) Open() (Handle, error) {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return nil, &InitError{Backend: BackendNVML, Err: fmt.Errorf("nvml init: %s", nvml.ErrorString(ret))}
	}

	dev, ret := nvml.DeviceGetHandleByIndex(n.index)
	if ret != nvml.SUCCESS {
		if shutdownRet := nvml.Shutdown(); shutdownRet != nvml.SUCCESS {
			n.logger.Warn("nvml shutdown after failed open", "err", nvml.ErrorString(shutdownRet))
		}
		return nil, &InitError{Backend: BackendNVML, Err: fmt.Errorf("get device %d: %s", n.index, nvml.ErrorString(ret))}
	}

	if name, ret := dev.GetName(); ret == nvml.SUCCESS {
		n.logger.Info("nvml device opened", "name", name)
	}

	return &nvmlHandle{dev: dev}, nil
}

type nvmlHandle struct {
	dev nvml.Device

	mu     sync.Mutex
	closed bool
}

func (h *nvmlHandle) Query() (Usage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return Usage{}, &QueryError{Err: ErrClosed}
	}

	util, ret := h.dev.GetUtilizationRates()
	if ret != nvml.SUCCESS {
		return Usage{}, &QueryError{Err: fmt.Errorf("utilization rates: %s", nvml.ErrorString(ret))}
	}
	mem, ret := h.dev.GetMemoryInfo()
	if ret != nvml.SUCCESS {
		return Usage{}, &QueryError{Err: fmt.Errorf("memory info: %s", nvml.ErrorString(ret))}
	}

	return Usage{
		ComputeUtilPct: float64(util.Gpu),
		MemUtilPct:     float64(util.Memory),
		MemUsedBytes:   mem.Used,
		MemTotalBytes:  mem.Total,
	}, nil
}

func (h *nvmlHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.closed = true
	if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
		return fmt.Errorf("nvml shutdown: %s", nvml.ErrorString(ret))
	}
	return nil
}
