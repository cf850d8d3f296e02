package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// CostDB maps cloud provider to instance type to hourly price in USD.
type CostDB map[string]map[string]float64

// DefaultCostDB returns a copy of the built-in price table.
func DefaultCostDB() CostDB {
	db := CostDB{
		"aws": {
			"p3.2xlarge":   3.06,
			"g5.12xlarge":  5.67,
			"g4dn.2xlarge": 1.20,
		},
		"azure": {
			"Standard_NC6s_v3": 1.80,
		},
		"gcp": {
			"n1-standard-16": 0.0,
		},
	}
	return db
}

// Rate returns the hourly price for an instance, if known.
func (db CostDB) Rate(cloud, instanceType string) (float64, bool) {
	rates, ok := db[strings.ToLower(cloud)]
	if !ok {
		return 0, false
	}
	rate, ok := rates[instanceType]
	return rate, ok
}

// LoadCostDB reads a price table from path. An empty path or a missing file
// yields the built-in table. YAML and JSON (comments allowed) are accepted,
// chosen by extension.
func LoadCostDB(path string, logger *slog.Logger) (CostDB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return DefaultCostDB(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("cost database not found, using built-in prices", "path", path)
			return DefaultCostDB(), nil
		}
		return nil, fmt.Errorf("read cost database: %w", err)
	}

	raw := make(CostDB)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse cost database %s: %w", path, err)
		}
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &raw); err != nil {
			return nil, fmt.Errorf("parse cost database %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported cost database format %q", ext)
	}

	db := make(CostDB, len(raw))
	for provider, rates := range raw {
		for instanceType, rate := range rates {
			if rate < 0 {
				return nil, fmt.Errorf("negative rate for %s/%s", provider, instanceType)
			}
		}
		db[strings.ToLower(provider)] = maps.Clone(rates)
	}
	logger.Debug("cost database loaded", "path", path, "providers", len(db))
	return db, nil
}
