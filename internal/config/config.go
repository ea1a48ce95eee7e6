// Package config loads rrstream settings from an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vertti/rrstream/internal/pipeline"
	"github.com/vertti/rrstream/internal/replay"
)

// Config holds settings that command-line flags may override.
type Config struct {
	Workers      int     `yaml:"workers"`
	MaxEntrySize uint64  `yaml:"max_entry_size"`
	CrcCheck     string  `yaml:"crc_check"`
	NetworkParse string  `yaml:"network_parse"`
	Pretty       bool    `yaml:"pretty"`
	Logging      Logging `yaml:"logging"`
	Metrics      Metrics `yaml:"metrics"`
}

// Logging configures the stderr log handler.
type Logging struct {
	Level string `yaml:"level"`
}

// Metrics configures where run metrics are pushed.
type Metrics struct {
	Pushgateway string `yaml:"pushgateway"`
	Job         string `yaml:"job"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		MaxEntrySize: pipeline.DefaultMaxEntrySize,
		CrcCheck:     "on-error",
		NetworkParse: "never",
		Logging:      Logging{Level: "warn"},
		Metrics:      Metrics{Job: "rrstream"},
	}
}

// Load reads path on top of the defaults. Keys missing from the file keep
// their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-specified config path
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field that has a restricted set of values.
func (c *Config) Validate() error {
	var errs []error
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if c.MaxEntrySize == 0 {
		errs = append(errs, errors.New("max_entry_size must be positive"))
	}
	if _, err := ParseCrcCheck(c.CrcCheck); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseNetworkParse(c.NetworkParse); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ReplayOptions converts the parse settings. The config must be valid.
func (c *Config) ReplayOptions() replay.Options {
	crc, _ := ParseCrcCheck(c.CrcCheck)             //nolint:errcheck // validated
	network, _ := ParseNetworkParse(c.NetworkParse) //nolint:errcheck // validated
	return replay.Options{Crc: crc, Network: network}
}

// ParseCrcCheck parses "always", "on-error" or "never".
func ParseCrcCheck(s string) (replay.CrcCheck, error) {
	switch strings.ToLower(s) {
	case "", "on-error", "onerror":
		return replay.CrcOnError, nil
	case "always":
		return replay.CrcAlways, nil
	case "never":
		return replay.CrcNever, nil
	default:
		return 0, fmt.Errorf("unknown crc_check %q (want always, on-error or never)", s)
	}
}

// ParseNetworkParse parses "always" or "never".
func ParseNetworkParse(s string) (replay.NetworkParse, error) {
	switch strings.ToLower(s) {
	case "", "never":
		return replay.NetworkNever, nil
	case "always":
		return replay.NetworkAlways, nil
	default:
		return 0, fmt.Errorf("unknown network_parse %q (want always or never)", s)
	}
}

// ParseLevel parses a slog level name such as "debug" or "warn".
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelWarn, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}
