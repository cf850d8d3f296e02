// Package gpu enumerates DRM cards exposed through sysfs.
package gpu

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

const (
	drmClassPath = "class/drm"

	// DriverAMDGPU is the kernel driver name reported for AMD cards.
	DriverAMDGPU = "amdgpu"
)

// Info describes a single GPU device discovered via sysfs.
type Info struct {
	ID     string `json:"id"`
	PCI    string `json:"pci"`
	PCIID  string `json:"pci_id"`
	Driver string `json:"driver"`
	Name   string `json:"name"`
}

// Discover enumerates DRM cards exposed via sysfs under the provided root.
// A missing drm class directory yields an empty result.
func Discover(root string, logger *slog.Logger) ([]Info, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	sysRoot, err := os.OpenRoot(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("sysfs root missing", "path", root)
			return nil, nil
		}
		return nil, fmt.Errorf("open sysfs root: %w", err)
	}
	defer sysRoot.Close()

	entries, err := fs.ReadDir(sysRoot.FS(), drmClassPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("drm class path missing", "path", filepath.Join(root, drmClassPath))
			return nil, nil
		}
		return nil, fmt.Errorf("read drm class dir: %w", err)
	}

	var infos []Info
	for _, entry := range entries {
		name := entry.Name()
		if !IsCardID(name) {
			continue
		}
		if !entry.IsDir() && entry.Type()&os.ModeSymlink == 0 {
			continue
		}

		deviceRoot, err := sysRoot.OpenRoot(filepath.Join(drmClassPath, name, "device"))
		if err != nil {
			logger.Warn("failed to open card device", "card", name, "err", err)
			continue
		}
		info := loadCardInfo(name, deviceRoot)
		if err := deviceRoot.Close(); err != nil {
			logger.Debug("failed to close card root", "card", name, "err", err)
		}
		infos = append(infos, info)
	}

	return infos, nil
}

// FirstWithDriver returns the first card bound to the given kernel driver.
func FirstWithDriver(infos []Info, driver string) (Info, bool) {
	for _, info := range infos {
		if info.Driver == driver {
			return info, true
		}
	}
	return Info{}, false
}

// IsCardID reports whether name is a primary DRM card node such as "card0"
// (connector entries like "card0-DP-1" are rejected).
func IsCardID(name string) bool {
	digits, ok := strings.CutPrefix(name, "card")
	return ok && allDigits(digits)
}

func loadCardInfo(cardID string, deviceRoot *os.Root) Info {
	info := Info{ID: cardID}

	var subVendor, subDevice string
	if data, err := deviceRoot.ReadFile("uevent"); err == nil {
		values := parseUevent(string(data))
		info.PCI = values["PCI_SLOT_NAME"]
		info.PCIID = values["PCI_ID"]
		info.Driver = values["DRIVER"]
		if vendor, device, ok := strings.Cut(values["PCI_SUBSYS_ID"], ":"); ok {
			subVendor, subDevice = vendor, device
		}
	}

	if info.PCIID == "" {
		vendor, vendorErr := readTrim(deviceRoot, "vendor")
		device, deviceErr := readTrim(deviceRoot, "device")
		if vendorErr == nil && deviceErr == nil {
			info.PCIID = strings.TrimPrefix(vendor, "0x") + ":" + strings.TrimPrefix(device, "0x")
		}
	}
	if subVendor == "" {
		subVendor, _ = readTrim(deviceRoot, "subsystem_vendor")
	}
	if subDevice == "" {
		subDevice, _ = readTrim(deviceRoot, "subsystem_device")
	}

	info.Name, _ = readTrim(deviceRoot, "product_name")
	vendorID, deviceID, _ := strings.Cut(info.PCIID, ":")
	if resolved := lookupGPUName(vendorID, deviceID, subVendor, subDevice); preferResolvedName(info.Name, resolved) {
		info.Name = resolved
	}
	if info.Name == "" {
		info.Name = info.Driver
	}

	return info
}

func parseUevent(data string) map[string]string {
	values := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(data))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		values[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return values
}

func readTrim(root *os.Root, name string) (string, error) {
	data, err := root.ReadFile(name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func allDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
