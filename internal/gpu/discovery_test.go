package gpu

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/jaypipes/pcidb"
)

func TestDiscover(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	card0 := filepath.Join(root, "class", "drm", "card0", "device")
	writeFile(t, filepath.Join(card0, "uevent"), "DRIVER=amdgpu\nPCI_SLOT_NAME=0000:0a:00.0\nPCI_ID=1002:73DF\n")
	writeFile(t, filepath.Join(card0, "product_name"), "AMD Radeon RX 6800\n")

	card1 := filepath.Join(root, "class", "drm", "card1", "device")
	writeFile(t, filepath.Join(card1, "uevent"), "DRIVER=nvidia\nPCI_SLOT_NAME=0000:0b:00.0\n")
	writeFile(t, filepath.Join(card1, "vendor"), "0x10de\n")
	writeFile(t, filepath.Join(card1, "device"), "0x2204\n")
	writeFile(t, filepath.Join(card1, "product_name"), "Test Accelerator\n")

	// Connector entries must be ignored.
	if err := os.MkdirAll(filepath.Join(root, "class", "drm", "card0-DP-1"), 0o750); err != nil {
		t.Fatalf("mkdir connector: %v", err)
	}

	infos, err := Discover(root, logger)
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 GPUs, got %d", len(infos))
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ID < infos[j].ID
	})

	if infos[0].ID != "card0" || infos[0].Driver != DriverAMDGPU {
		t.Fatalf("unexpected first GPU %+v", infos[0])
	}
	if infos[0].PCI != "0000:0a:00.0" {
		t.Errorf("unexpected PCI slot: %q", infos[0].PCI)
	}
	if infos[0].PCIID != "1002:73DF" {
		t.Errorf("unexpected PCI ID: %q", infos[0].PCIID)
	}
	if infos[0].Name != "AMD Radeon RX 6800" {
		t.Errorf("unexpected name: %q", infos[0].Name)
	}

	if infos[1].PCIID != "10de:2204" {
		t.Errorf("expected PCI ID fallback to vendor/device, got %q", infos[1].PCIID)
	}
	if infos[1].Driver != "nvidia" {
		t.Errorf("unexpected driver for card1: %q", infos[1].Driver)
	}

	amd, ok := FirstWithDriver(infos, DriverAMDGPU)
	if !ok || amd.ID != "card0" {
		t.Fatalf("FirstWithDriver returned %+v, %v", amd, ok)
	}
	if _, ok := FirstWithDriver(infos, "i915"); ok {
		t.Fatalf("FirstWithDriver should not match i915")
	}
}

func TestDiscoverMissingDRMClass(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	infos, err := Discover(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("expected 0 GPUs, got %d", len(infos))
	}

	infos, err = Discover(filepath.Join(t.TempDir(), "absent"), logger)
	if err != nil {
		t.Fatalf("Discover on missing root returned error: %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("expected 0 GPUs for missing root, got %d", len(infos))
	}
}

func TestDiscoverFollowsSymlinks(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	classPath := filepath.Join(root, "class", "drm")
	if err := os.MkdirAll(classPath, 0o750); err != nil {
		t.Fatalf("mkdir class: %v", err)
	}

	target := filepath.Join(root, "devices", "pci0000:00", "0000:00:01.0", "drm", "card0")
	writeFile(t, filepath.Join(target, "device", "uevent"), "DRIVER=amdgpu\nPCI_SLOT_NAME=0000:00:01.0\nPCI_ID=1002:73df\n")

	relTarget, err := filepath.Rel(classPath, target)
	if err != nil {
		t.Fatalf("filepath.Rel: %v", err)
	}
	if err := os.Symlink(relTarget, filepath.Join(classPath, "card0")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	infos, err := Discover(root, logger)
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	if len(infos) != 1 || infos[0].ID != "card0" {
		t.Fatalf("expected symlinked gpu, got %+v", infos)
	}
}

func TestDiscoverUsesPCIDatabase(t *testing.T) {
	t.Parallel()

	db, err := pcidb.New()
	if err != nil {
		t.Skipf("pcidb unavailable: %v", err)
	}
	product, ok := db.Products["100273bf"]
	if !ok || product == nil || product.Name == "" {
		t.Skip("pcidb missing product 1002:73bf")
	}

	root := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	deviceDir := filepath.Join(root, "class", "drm", "card0", "device")
	writeFile(t, filepath.Join(deviceDir, "uevent"), "DRIVER=amdgpu\nPCI_SLOT_NAME=0000:00:01.0\nPCI_ID=1002:73BF\n")

	infos, err := Discover(root, logger)
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("expected 1 GPU, got %d", len(infos))
	}
	if infos[0].Name != product.Name {
		t.Fatalf("expected name %q, got %q", product.Name, infos[0].Name)
	}
}

func TestIsCardID(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"card0":      true,
		"card12":     true,
		"card":       false,
		"card0-DP-1": false,
		"renderD128": false,
	}
	for name, want := range cases {
		if got := IsCardID(name); got != want {
			t.Errorf("IsCardID(%q) = %v, want %v", name, got, want)
		}
	}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
