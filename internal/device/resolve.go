package device

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/skobkin/gpu-optimus/internal/gpu"
)

// Selection describes which backend and device to profile.
type Selection struct {
	Backend     string
	Device      string
	SysfsRoot   string
	DebugfsRoot string
}

// Resolve picks a backend and device for the selection. With backend
// "auto" an amdgpu card found in sysfs wins, otherwise NVML is used.
// Device "auto" means the first amdgpu card or NVML index 0.
func Resolve(sel Selection, logger *slog.Logger) (Opener, Info, error) {
	if logger == nil {
		logger = slog.Default()
	}

	backend := sel.Backend
	if backend == "" {
		backend = BackendAuto
	}
	deviceID := sel.Device
	if deviceID == "" {
		deviceID = BackendAuto
	}

	var discovered []gpu.Info
	if backend == BackendAuto || backend == BackendAMDGPU {
		infos, err := gpu.Discover(sel.SysfsRoot, logger.With("component", "gpu_discovery"))
		if err != nil {
			return nil, Info{}, fmt.Errorf("discover gpus: %w", err)
		}
		discovered = infos
	}

	if backend == BackendAuto {
		backend = BackendNVML
		if _, ok := gpu.FirstWithDriver(discovered, gpu.DriverAMDGPU); ok {
			backend = BackendAMDGPU
		} else if deviceID != BackendAuto && gpu.IsCardID(deviceID) {
			backend = BackendAMDGPU
		}
		logger.Debug("backend selected", "backend", backend, "cards", len(discovered))
	}

	switch backend {
	case BackendAMDGPU:
		info := Info{Backend: BackendAMDGPU, ID: deviceID}
		if deviceID == BackendAuto {
			card, ok := gpu.FirstWithDriver(discovered, gpu.DriverAMDGPU)
			if !ok {
				return nil, Info{}, &InitError{Backend: BackendAMDGPU, Err: fmt.Errorf("no amdgpu card under %s", sel.SysfsRoot)}
			}
			info.ID = card.ID
		}
		for _, card := range discovered {
			if card.ID == info.ID {
				info.Name = card.Name
			}
		}
		return NewAMDGPU(info.ID, sel.SysfsRoot, sel.DebugfsRoot, logger), info, nil

	case BackendNVML:
		index := 0
		if deviceID != BackendAuto {
			parsed, err := strconv.Atoi(deviceID)
			if err != nil || parsed < 0 {
				return nil, Info{}, fmt.Errorf("nvml device must be a non-negative index, got %q", deviceID)
			}
			index = parsed
		}
		return NewNVML(index, logger), Info{Backend: BackendNVML, ID: strconv.Itoa(index)}, nil

	default:
		return nil, Info{}, fmt.Errorf("unsupported backend %q", backend)
	}
}
