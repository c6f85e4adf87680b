// Package config loads the core's configuration surface: compression
// thresholds and per-model fallback limits. Layering is defaults -> TOML
// file; out-of-range values fall back to the default and are not treated
// as hard errors — callers are expected to log the warning themselves via
// the value returned from Load's second return.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the core's configuration surface.
type Config struct {
	Compression CompressionConfig `toml:"compression"`
	Limits      LimitsConfig      `toml:"limits"`
}

// CompressionConfig controls when and how much the Memory Compressor retains.
type CompressionConfig struct {
	// Threshold ∈ (0,1]: fraction of context limit at which compaction fires.
	Threshold float64 `toml:"threshold"`
	// RetentionRatio ∈ (0,1]: fraction of accumulated tokens retained after compaction.
	RetentionRatio float64 `toml:"retention_ratio"`
}

// LimitsConfig provides fallback token budgets for models absent from the
// Token Accountant's built-in table.
type LimitsConfig struct {
	// DefaultContext ≥ 1: fallback input budget for unknown models.
	DefaultContext int `toml:"default_context"`
	// DefaultOutput ≥ 1: fallback output budget for unknown models.
	DefaultOutput int `toml:"default_output"`
}

// Default returns the configuration's built-in defaults.
func Default() Config {
	return Config{
		Compression: CompressionConfig{Threshold: 0.7, RetentionRatio: 0.3},
		Limits:      LimitsConfig{DefaultContext: 131072, DefaultOutput: 65536},
	}
}

// Warning describes a configuration value that fell back to its default
// because the loaded value was out of range. Callers log these through
// their own slog.Logger; this package has no logging dependency of its own.
type Warning struct {
	Field string
	Value string
	Used  string
}

func (w Warning) String() string {
	return fmt.Sprintf("config: %s=%s is out of range, using default %s", w.Field, w.Value, w.Used)
}

// Load reads path (TOML) over Default's values. A missing file is not an
// error: Default() is returned unchanged. Out-of-range values are replaced
// with their defaults and reported as Warnings rather than failing the load.
func Load(path string) (Config, []Warning, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil, nil
		}
		return cfg, nil, fmt.Errorf("config: stat %s: %w", path, err)
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Default(), nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	warnings := cfg.normalize()
	return cfg, warnings, nil
}

func (c *Config) normalize() []Warning {
	d := Default()
	var warnings []Warning

	if c.Compression.Threshold <= 0 || c.Compression.Threshold > 1 {
		warnings = append(warnings, Warning{"compression.threshold", fmt.Sprint(c.Compression.Threshold), fmt.Sprint(d.Compression.Threshold)})
		c.Compression.Threshold = d.Compression.Threshold
	}
	if c.Compression.RetentionRatio <= 0 || c.Compression.RetentionRatio > 1 {
		warnings = append(warnings, Warning{"compression.retention_ratio", fmt.Sprint(c.Compression.RetentionRatio), fmt.Sprint(d.Compression.RetentionRatio)})
		c.Compression.RetentionRatio = d.Compression.RetentionRatio
	}
	if c.Limits.DefaultContext < 1 {
		warnings = append(warnings, Warning{"limits.default_context", fmt.Sprint(c.Limits.DefaultContext), fmt.Sprint(d.Limits.DefaultContext)})
		c.Limits.DefaultContext = d.Limits.DefaultContext
	}
	if c.Limits.DefaultOutput < 1 {
		warnings = append(warnings, Warning{"limits.default_output", fmt.Sprint(c.Limits.DefaultOutput), fmt.Sprint(d.Limits.DefaultOutput)})
		c.Limits.DefaultOutput = d.Limits.DefaultOutput
	}
	return warnings
}
