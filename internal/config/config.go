package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Config represents runtime configuration sourced from environment
// variables and command-line flags.
type Config struct {
	SampleInterval  time.Duration
	StopTimeout     time.Duration
	KillGrace       time.Duration
	IdleThreshold   float64
	Backend         string
	Device          string
	SysfsRoot       string
	DebugfsRoot     string
	CostDBPath      string
	InstanceType    string
	Cloud           string
	OutputFormat    string
	MetricsTextfile string
	NoColor         bool
	LogLevel        slog.Level
}

// Load parses configuration from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		SampleInterval: time.Second,
		StopTimeout:    5 * time.Second,
		KillGrace:      10 * time.Second,
		IdleThreshold:  10,
		Backend:        "auto",
		Device:         "auto",
		SysfsRoot:      "/sys",
		DebugfsRoot:    "/sys/kernel/debug",
		InstanceType:   "p3.2xlarge",
		Cloud:          "aws",
		OutputFormat:   "text",
		LogLevel:       slog.LevelInfo,
	}

	durations := []struct {
		key    string
		target *time.Duration
	}{
		{"APP_SAMPLE_INTERVAL", &cfg.SampleInterval},
		{"APP_STOP_TIMEOUT", &cfg.StopTimeout},
		{"APP_KILL_GRACE", &cfg.KillGrace},
	}
	for _, d := range durations {
		if value := env(d.key); value != "" {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", d.key, err)
			}
			*d.target = duration
		}
	}

	if value := env("APP_IDLE_THRESHOLD"); value != "" {
		threshold, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_IDLE_THRESHOLD: %w", err)
		}
		cfg.IdleThreshold = threshold
	}

	strs := []struct {
		key    string
		target *string
	}{
		{"APP_BACKEND", &cfg.Backend},
		{"APP_DEVICE", &cfg.Device},
		{"APP_SYSFS_ROOT", &cfg.SysfsRoot},
		{"APP_DEBUGFS_ROOT", &cfg.DebugfsRoot},
		{"APP_COST_DB", &cfg.CostDBPath},
		{"APP_INSTANCE_TYPE", &cfg.InstanceType},
		{"APP_CLOUD", &cfg.Cloud},
		{"APP_OUTPUT_FORMAT", &cfg.OutputFormat},
		{"APP_METRICS_TEXTFILE", &cfg.MetricsTextfile},
	}
	for _, s := range strs {
		if value := env(s.key); value != "" {
			*s.target = value
		}
	}

	if value := env("APP_NO_COLOR"); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_NO_COLOR: %w", err)
		}
		cfg.NoColor = enabled
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		cfg.NoColor = true
	}

	if value := env("APP_LOG_LEVEL"); value != "" {
		level, err := parseLogLevel(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = level
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// BindFlags registers command-line flags whose defaults are the current
// values of cfg. After parsing, call Validate (and ApplyLogLevel when the
// log level flag is used).
func BindFlags(fs *pflag.FlagSet, cfg *Config) *string {
	fs.DurationVar(&cfg.SampleInterval, "interval", cfg.SampleInterval, "GPU sampling interval")
	fs.DurationVar(&cfg.StopTimeout, "stop-timeout", cfg.StopTimeout, "max time to wait for the sampler to stop")
	fs.DurationVar(&cfg.KillGrace, "kill-grace", cfg.KillGrace, "time an interrupted command gets before it is killed")
	fs.Float64Var(&cfg.IdleThreshold, "idle-threshold", cfg.IdleThreshold, "compute utilization (%) below which a sample counts as idle")
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "device backend: auto, amdgpu or nvml")
	fs.StringVar(&cfg.Device, "device", cfg.Device, "device to profile: auto, a DRM card (card0) or an NVML index")
	fs.StringVar(&cfg.SysfsRoot, "sysfs", cfg.SysfsRoot, "path to sysfs root")
	fs.StringVar(&cfg.DebugfsRoot, "debugfs", cfg.DebugfsRoot, "path to debugfs root")
	fs.StringVar(&cfg.CostDBPath, "cost-db", cfg.CostDBPath, "price table (.yaml or .json); built-in prices when empty")
	fs.StringVar(&cfg.InstanceType, "instance-type", cfg.InstanceType, "cloud instance type, e.g. p3.2xlarge")
	fs.StringVar(&cfg.Cloud, "cloud", cfg.Cloud, "cloud provider: aws, azure, gcp")
	fs.StringVarP(&cfg.OutputFormat, "format", "o", cfg.OutputFormat, "report format: text or json")
	fs.StringVar(&cfg.MetricsTextfile, "metrics-textfile", cfg.MetricsTextfile, "also write run metrics in Prometheus textfile format to this path")
	fs.BoolVar(&cfg.NoColor, "no-color", cfg.NoColor, "disable coloured output")
	return fs.String("log-level", strings.ToLower(cfg.LogLevel.String()), "log level: debug, info, warn, error")
}

// ApplyLogLevel parses a textual log level into cfg.
func (c *Config) ApplyLogLevel(value string) error {
	level, err := parseLogLevel(value)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	c.LogLevel = level
	return nil
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	if c.SampleInterval <= 0 {
		return fmt.Errorf("sample interval must be > 0")
	}
	if c.StopTimeout <= 0 {
		return fmt.Errorf("stop timeout must be > 0")
	}
	if c.KillGrace <= 0 {
		return fmt.Errorf("kill grace must be > 0")
	}
	if c.IdleThreshold <= 0 || c.IdleThreshold > 100 {
		return fmt.Errorf("idle threshold must be in (0, 100], got %v", c.IdleThreshold)
	}
	switch c.Backend {
	case "auto", "amdgpu", "nvml":
	default:
		return fmt.Errorf("unsupported backend %q", c.Backend)
	}
	switch c.OutputFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported output format %q", c.OutputFormat)
	}
	if strings.TrimSpace(c.Device) == "" {
		return fmt.Errorf("device must not be empty")
	}
	return nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func parseLogLevel(input string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(input)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", input)
	}
}
