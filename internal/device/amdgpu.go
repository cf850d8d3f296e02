package device

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"unicode"
)

const (
	drmClassPath        = "class/drm"
	gpuBusyFilename     = "gpu_busy_percent"
	memBusyFilename     = "mem_busy_percent"
	vramUsedFilename    = "mem_info_vram_used"
	vramTotalFilename   = "mem_info_vram_total"
	debugPmInfoFilename = "amdgpu_pm_info"
)

// AMDGPU opens handles that read amdgpu telemetry from sysfs, falling back
// to debugfs for the busy percentage.
type AMDGPU struct {
	cardID      string
	sysfsRoot   string
	debugfsRoot string
	logger      *slog.Logger
}

// NewAMDGPU prepares an opener for the given DRM card (e.g. "card0").
func NewAMDGPU(cardID, sysfsRoot, debugfsRoot string, logger *slog.Logger) *AMDGPU {
	if logger == nil {
		logger = slog.Default()
	}
	return &AMDGPU{
		cardID:      cardID,
		sysfsRoot:   sysfsRoot,
		debugfsRoot: debugfsRoot,
		logger:      logger.With("backend", BackendAMDGPU, "card", cardID),
	}
}

// Open validates the card layout and returns a handle for it.
func (a *AMDGPU) Open() (Handle, error) {
	cardIndex, err := parseCardIndex(a.cardID)
	if err != nil {
		return nil, &InitError{Backend: BackendAMDGPU, Err: err}
	}

	devicePath := filepath.Join(a.sysfsRoot, drmClassPath, a.cardID, "device")
	if _, err := os.Stat(devicePath); err != nil {
		return nil, &InitError{Backend: BackendAMDGPU, Err: fmt.Errorf("stat device path: %w", err)}
	}

	return &amdHandle{
		devicePath:   devicePath,
		debugCardDir: filepath.Join(a.debugfsRoot, "dri", strconv.Itoa(cardIndex)),
		logger:       a.logger,
	}, nil
}

type amdHandle struct {
	devicePath   string
	debugCardDir string
	logger       *slog.Logger

	mu     sync.Mutex
	closed bool
}

func (h *amdHandle) Query() (Usage, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return Usage{}, &QueryError{Err: ErrClosed}
	}

	busy, err := h.readPercent(filepath.Join(h.devicePath, gpuBusyFilename))
	if err != nil {
		load, ok := h.readDebugGPULoad()
		if !ok {
			return Usage{}, &QueryError{Err: fmt.Errorf("read %s: %w", gpuBusyFilename, err)}
		}
		busy = load
	}

	memBusy, err := h.readPercent(filepath.Join(h.devicePath, memBusyFilename))
	if err != nil {
		h.logger.Debug("memory busy percent unavailable", "err", err)
		memBusy = 0
	}

	used, err := readUint(filepath.Join(h.devicePath, vramUsedFilename))
	if err != nil {
		return Usage{}, &QueryError{Err: fmt.Errorf("read %s: %w", vramUsedFilename, err)}
	}
	total, err := readUint(filepath.Join(h.devicePath, vramTotalFilename))
	if err != nil {
		return Usage{}, &QueryError{Err: fmt.Errorf("read %s: %w", vramTotalFilename, err)}
	}

	return Usage{
		ComputeUtilPct: busy,
		MemUtilPct:     memBusy,
		MemUsedBytes:   used,
		MemTotalBytes:  total,
	}, nil
}

// Close marks the handle released. sysfs holds no descriptors between reads.
func (h *amdHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.closed = true
	return nil
}

func (h *amdHandle) readPercent(path string) (float64, error) {
	value, err := readFloat(path)
	if err != nil {
		return 0, err
	}
	if value < 0 {
		return 0, fmt.Errorf("negative percentage %v", value)
	}
	if value > 100 {
		// Some kernels report busy % scaled by 100.
		value = clamp(value/100, 0, 100)
	}
	return value, nil
}

func (h *amdHandle) readDebugGPULoad() (float64, bool) {
	data, err := os.ReadFile(filepath.Join(h.debugCardDir, debugPmInfoFilename))
	if err != nil {
		return 0, false
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.Contains(strings.ToLower(line), "gpu load") {
			continue
		}
		if value, ok := extractFirstFloat(line); ok {
			return clamp(value, 0, 100), true
		}
	}
	return 0, false
}

func readUint(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return 0, errors.New("empty value")
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse uint: %w", err)
	}
	return value, nil
}

func readFloat(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return 0, errors.New("empty value")
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return value, nil
}

func parseCardIndex(cardID string) (int, error) {
	digits, ok := strings.CutPrefix(cardID, "card")
	if !ok {
		return 0, fmt.Errorf("invalid card id %q", cardID)
	}
	index, err := strconv.Atoi(digits)
	if err != nil {
		return 0, fmt.Errorf("parse card index: %w", err)
	}
	return index, nil
}

// extractFirstFloat pulls the first number out of lines such as
// "GPU Load: 76 %".
func extractFirstFloat(line string) (float64, bool) {
	var buf strings.Builder
	seen := false
	for _, r := range line {
		if unicode.IsDigit(r) || r == '.' || (r == '-' && !seen) {
			buf.WriteRune(r)
			seen = true
			continue
		}
		if seen {
			if r == ',' {
				continue
			}
			break
		}
	}
	if !seen {
		return 0, false
	}
	value, err := strconv.ParseFloat(buf.String(), 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

func clamp(value, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, value))
}
