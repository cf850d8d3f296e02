package device

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestAMDGPUQuerySysfs(t *testing.T) {
	t.Parallel()

	sysfsRoot := t.TempDir()
	devicePath := createMinimalDevice(t, sysfsRoot, "card0")
	writeFile(t, filepath.Join(devicePath, gpuBusyFilename), "47\n")
	writeFile(t, filepath.Join(devicePath, memBusyFilename), "31\n")
	writeFile(t, filepath.Join(devicePath, vramUsedFilename), "104857600\n")
	writeFile(t, filepath.Join(devicePath, vramTotalFilename), "2147483648\n")

	handle := openAMD(t, "card0", sysfsRoot, t.TempDir())

	usage, err := handle.Query()
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	assertClose(t, usage.ComputeUtilPct, 47)
	assertClose(t, usage.MemUtilPct, 31)
	if usage.MemUsedBytes != 104857600 {
		t.Fatalf("unexpected MemUsedBytes %d", usage.MemUsedBytes)
	}
	if usage.MemTotalBytes != 2147483648 {
		t.Fatalf("unexpected MemTotalBytes %d", usage.MemTotalBytes)
	}
}

func TestAMDGPUQueryScaledAndFallback(t *testing.T) {
	t.Parallel()

	sysfsRoot := t.TempDir()
	debugfsRoot := t.TempDir()
	devicePath := createMinimalDevice(t, sysfsRoot, "card1")
	writeFile(t, filepath.Join(devicePath, vramUsedFilename), "0\n")
	writeFile(t, filepath.Join(devicePath, vramTotalFilename), "17179869184\n")
	writeFile(t, filepath.Join(debugfsRoot, "dri", "1", debugPmInfoFilename), "GFX Clocks and Power:\n\t1200 MHz (SCLK)\n\nGPU Temperature: 70 C\nGPU Load: 76 %\n")

	handle := openAMD(t, "card1", sysfsRoot, debugfsRoot)

	usage, err := handle.Query()
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	assertClose(t, usage.ComputeUtilPct, 76)
	assertClose(t, usage.MemUtilPct, 0)

	writeFile(t, filepath.Join(devicePath, gpuBusyFilename), "5500\n")
	usage, err = handle.Query()
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	assertClose(t, usage.ComputeUtilPct, 55)
}

func TestAMDGPUQueryMissingValues(t *testing.T) {
	t.Parallel()

	sysfsRoot := t.TempDir()
	devicePath := createMinimalDevice(t, sysfsRoot, "card0")
	handle := openAMD(t, "card0", sysfsRoot, t.TempDir())

	_, err := handle.Query()
	var queryErr *QueryError
	if !errors.As(err, &queryErr) {
		t.Fatalf("expected QueryError without busy percent, got %v", err)
	}

	writeFile(t, filepath.Join(devicePath, gpuBusyFilename), "12\n")
	_, err = handle.Query()
	if !errors.As(err, &queryErr) {
		t.Fatalf("expected QueryError without vram counters, got %v", err)
	}
}

func TestAMDGPUOpenErrors(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sysfsRoot := t.TempDir()

	for _, cardID := range []string{"gpu0", "cardX", "card3"} {
		_, err := NewAMDGPU(cardID, sysfsRoot, t.TempDir(), logger).Open()
		var initErr *InitError
		if !errors.As(err, &initErr) {
			t.Fatalf("Open(%q): expected InitError, got %v", cardID, err)
		}
		if initErr.Backend != BackendAMDGPU {
			t.Fatalf("unexpected backend %q", initErr.Backend)
		}
	}
}

func TestAMDGPUCloseTwice(t *testing.T) {
	t.Parallel()

	sysfsRoot := t.TempDir()
	createMinimalDevice(t, sysfsRoot, "card0")
	handle := openAMD(t, "card0", sysfsRoot, t.TempDir())

	if err := handle.Close(); err != nil {
		t.Fatalf("first Close returned error: %v", err)
	}
	if err := handle.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("second Close returned %v, want ErrClosed", err)
	}
	if _, err := handle.Query(); !errors.Is(err, ErrClosed) {
		t.Fatalf("Query after Close returned %v, want ErrClosed", err)
	}
}

func openAMD(t *testing.T, cardID, sysfsRoot, debugfsRoot string) Handle {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handle, err := NewAMDGPU(cardID, sysfsRoot, debugfsRoot, logger).Open()
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	return handle
}

func createMinimalDevice(t *testing.T, root, cardID string) string {
	t.Helper()
	devicePath := filepath.Join(root, "class", "drm", cardID, "device")
	if err := os.MkdirAll(devicePath, 0o750); err != nil {
		t.Fatalf("failed to create device directory: %v", err)
	}
	return devicePath
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("failed to create directories for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func assertClose(t *testing.T, got, want float64) {
	t.Helper()
	if diff := got - want; diff < -0.0001 || diff > 0.0001 {
		t.Fatalf("expected %.2f, got %.4f", want, got)
	}
}
