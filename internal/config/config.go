// Package config loads and validates uiparity configuration.
// Configuration is YAML on disk with UIPARITY_* environment overrides
// applied after load.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all uiparity configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Comparison tolerances and matcher settings
	Compare CompareConfig `yaml:"compare"`

	// Device adapter settings
	Device DeviceConfig `yaml:"device"`

	// Report gating
	Report ReportConfig `yaml:"report"`

	// Run-history store
	Store StoreConfig `yaml:"store"`

	// Debug logging
	Logging LoggingConfig `yaml:"logging"`
}

// CompareConfig configures the parity comparator.
type CompareConfig struct {
	// Deltas at or below ToleranceOk are severity ok; at or below
	// ToleranceWarn, warn; above, fail. Fractions of screen dimension.
	ToleranceOk   float64 `yaml:"tolerance_ok"`
	ToleranceWarn float64 `yaml:"tolerance_warn"`

	// Weights for the matcher distance function.
	WeightX      float64 `yaml:"weight_x"`
	WeightY      float64 `yaml:"weight_y"`
	WeightWidth  float64 `yaml:"weight_width"`
	WeightHeight float64 `yaml:"weight_height"`
	WeightText   float64 `yaml:"weight_text"`

	// KindEquivalence maps platform-specific element kinds onto canonical
	// kinds, e.g. "TextView" -> "text". Both sides are mapped before the
	// matcher compares kinds.
	KindEquivalence map[string]string `yaml:"kind_equivalence"`

	// ScreenAliases maps screen identifiers into equivalence classes,
	// e.g. "BrowseActivity" -> "browse". Native and ported screen names
	// routinely differ.
	ScreenAliases map[string]string `yaml:"screen_aliases"`
}

// DeviceConfig configures both device adapters.
type DeviceConfig struct {
	// Bounded wait after dispatch before capture.
	SettleTimeoutMs int `yaml:"settle_timeout_ms"`
	// Poll interval while waiting for the UI to settle.
	SettlePollMs int `yaml:"settle_poll_ms"`
	// Per-operation device I/O timeout.
	IOTimeoutMs int `yaml:"io_timeout_ms"`

	// Native target (Android over adb).
	ADBPath       string `yaml:"adb_path"`
	NativePackage string `yaml:"native_package"`
	NativeWidth   int    `yaml:"native_width"`
	NativeHeight  int    `yaml:"native_height"`

	// Ported target (React Native web build over CDP).
	DebuggerURL  string `yaml:"debugger_url"`
	Headless     bool   `yaml:"headless"`
	PortedWidth  int    `yaml:"ported_width"`
	PortedHeight int    `yaml:"ported_height"`
}

// ReportConfig configures report gating and artifacts.
type ReportConfig struct {
	// Gate is the maximum severity that still exits 0: "ok", "warn" or "fail".
	Gate string `yaml:"gate"`
	// ArtifactsDir, when set, receives per-step screenshots.
	ArtifactsDir string `yaml:"artifacts_dir"`
}

// StoreConfig configures run-history persistence.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures the categorized debug logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "uiparity",
		Version: "0.3.0",
		Compare: CompareConfig{
			ToleranceOk:   0.01,
			ToleranceWarn: 0.03,
			WeightX:       1.0,
			WeightY:       1.0,
			WeightWidth:   0.5,
			WeightHeight:  0.5,
			WeightText:    2.0,
			KindEquivalence: map[string]string{
				"TextView":  "text",
				"Text":      "text",
				"ImageView": "image",
				"Image":     "image",
			},
			ScreenAliases: map[string]string{},
		},
		Device: DeviceConfig{
			SettleTimeoutMs: 1500,
			SettlePollMs:    150,
			IOTimeoutMs:     10000,
			ADBPath:         "adb",
			NativeWidth:     1920,
			NativeHeight:    1080,
			Headless:        true,
			PortedWidth:     1920,
			PortedHeight:    1080,
		},
		Report: ReportConfig{
			Gate: "warn",
		},
		Store: StoreConfig{
			DatabasePath: ".uiparity/history.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file and applies it over the defaults.
// An empty path returns the defaults (plus env overrides) unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets CI tighten settings without editing the file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("UIPARITY_GATE"); v != "" {
		c.Report.Gate = v
	}
	if v := os.Getenv("UIPARITY_DB"); v != "" {
		c.Store.DatabasePath = v
	}
	if v := os.Getenv("UIPARITY_ADB"); v != "" {
		c.Device.ADBPath = v
	}
	if v := os.Getenv("UIPARITY_SETTLE_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.Device.SettleTimeoutMs = ms
		}
	}
	if v := os.Getenv("UIPARITY_DEBUG"); v != "" {
		c.Logging.DebugMode = v == "1" || v == "true"
	}
}

// Validate checks invariants the engine relies on.
func (c *Config) Validate() error {
	if c.Compare.ToleranceOk < 0 || c.Compare.ToleranceWarn < 0 {
		return fmt.Errorf("tolerances must be non-negative")
	}
	if c.Compare.ToleranceOk > c.Compare.ToleranceWarn {
		return fmt.Errorf("tolerance_ok (%v) must not exceed tolerance_warn (%v)",
			c.Compare.ToleranceOk, c.Compare.ToleranceWarn)
	}
	switch c.Report.Gate {
	case "ok", "warn", "fail":
	default:
		return fmt.Errorf("report gate must be ok, warn or fail, got %q", c.Report.Gate)
	}
	if c.Device.SettleTimeoutMs <= 0 {
		return fmt.Errorf("settle_timeout_ms must be positive")
	}
	if c.Device.NativeWidth <= 0 || c.Device.NativeHeight <= 0 ||
		c.Device.PortedWidth <= 0 || c.Device.PortedHeight <= 0 {
		return fmt.Errorf("reference resolutions must be positive")
	}
	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// SettleTimeout returns the settle timeout as a duration.
func (c *DeviceConfig) SettleTimeout() time.Duration {
	return time.Duration(c.SettleTimeoutMs) * time.Millisecond
}

// SettlePoll returns the settle poll interval as a duration.
func (c *DeviceConfig) SettlePoll() time.Duration {
	if c.SettlePollMs <= 0 {
		return 150 * time.Millisecond
	}
	return time.Duration(c.SettlePollMs) * time.Millisecond
}

// IOTimeout returns the per-operation device I/O timeout.
func (c *DeviceConfig) IOTimeout() time.Duration {
	if c.IOTimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.IOTimeoutMs) * time.Millisecond
}
