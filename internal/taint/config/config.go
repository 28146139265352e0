// Package config holds the engine configuration: a YAML file with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables that override the file.
const (
	EnvEnabled   = "TAINTFLOW_ENABLED"
	EnvLogLevel  = "TAINTFLOW_LOG_LEVEL"
	EnvMonitored = "TAINTFLOW_MONITORED" // comma-separated package patterns
	EnvReport    = "TAINTFLOW_REPORT"    // report output; also enables the report on close
)

// DefaultPath is where the CLI looks for a configuration file.
const DefaultPath = "taintflow.yaml"

// Config holds all taintflow configuration.
type Config struct {
	// Enabled turns provenance tracking on. A disabled engine still runs the
	// monitored program; it just records nothing.
	Enabled bool `yaml:"enabled"`

	Monitored MonitoredConfig `yaml:"monitored"`
	Logging   LoggingConfig   `yaml:"logging"`
	Report    ReportConfig    `yaml:"report"`
}

// MonitoredConfig names the code treated as instrumented user code.
type MonitoredConfig struct {
	// Packages are import paths; a trailing "/..." includes subpackages.
	Packages []string `yaml:"packages"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level       string `yaml:"level"`  // debug, info, warn, error
	Format      string `yaml:"format"` // json, console
	Development bool   `yaml:"development"`
}

// ReportConfig configures the end-of-run summary.
type ReportConfig struct {
	OnClose bool   `yaml:"on_close"`
	Output  string `yaml:"output"` // stderr, stdout or a file path
}

// ValidLevels lists the accepted log levels.
var ValidLevels = []string{"debug", "info", "warn", "error"}

// ValidFormats lists the accepted log formats.
var ValidFormats = []string{"json", "console"}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Enabled: true,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Report: ReportConfig{
			Output: "stderr",
		},
	}
}

// Load reads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv returns the defaults with environment overrides applied.
func FromEnv() (*Config, error) {
	cfg := Default()
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv(EnvEnabled); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvEnabled, err)
		}
		c.Enabled = b
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv(EnvMonitored); v != "" {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" && !slices.Contains(c.Monitored.Packages, p) {
				c.Monitored.Packages = append(c.Monitored.Packages, p)
			}
		}
	}
	if v := os.Getenv(EnvReport); v != "" {
		c.Report.OnClose = true
		c.Report.Output = v
	}
	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !slices.Contains(ValidLevels, c.Logging.Level) {
		return fmt.Errorf("invalid log level: %q (valid: %v)", c.Logging.Level, ValidLevels)
	}
	if !slices.Contains(ValidFormats, c.Logging.Format) {
		return fmt.Errorf("invalid log format: %q (valid: %v)", c.Logging.Format, ValidFormats)
	}
	for _, p := range c.Monitored.Packages {
		if strings.TrimSpace(p) == "" || strings.ContainsAny(p, " \t") {
			return fmt.Errorf("invalid monitored package pattern: %q", p)
		}
	}
	if c.Report.OnClose && c.Report.Output == "" {
		return fmt.Errorf("report output not configured")
	}
	return nil
}
