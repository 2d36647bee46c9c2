package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lu-zhengda/portman/internal/port"
	"github.com/lu-zhengda/portman/internal/process"
	"gopkg.in/yaml.v3"
)

// Config holds all portman configuration.
type Config struct {
	RefreshInterval int      `yaml:"refresh_interval"` // seconds
	Scanner         string   `yaml:"scanner"`          // "lsof" or "proc"
	KillSignal      string   `yaml:"kill_signal"`      // default signal name
	KillGrace       int      `yaml:"kill_grace"`       // seconds to wait for exit
	Exclude         []string `yaml:"exclude"`          // process names to hide
	ColorEnabled    bool     `yaml:"color_enabled"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		RefreshInterval: 5,
		Scanner:         port.KindLsof,
		KillSignal:      "SIGTERM",
		KillGrace:       3,
		Exclude:         []string{},
		ColorEnabled:    true,
	}
}

// Load loads config from the given path. If path is empty, it uses the
// default location (~/.config/portman/config.yaml). If the file does not
// exist, it returns defaults without creating the file.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
		if path == "" {
			return Default(), nil
		}
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}

	return LoadFrom(path)
}

// LoadFrom loads and parses config from the given path. Missing fields
// keep their default values.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
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

// Validate checks that every field holds a usable value.
func (c *Config) Validate() error {
	var errs []error
	if c.RefreshInterval <= 0 {
		errs = append(errs, fmt.Errorf("refresh_interval must be positive, got %d", c.RefreshInterval))
	}
	if c.KillGrace < 0 {
		errs = append(errs, fmt.Errorf("kill_grace must not be negative, got %d", c.KillGrace))
	}
	if c.Scanner != port.KindLsof && c.Scanner != port.KindProc {
		errs = append(errs, fmt.Errorf("scanner must be %q or %q, got %q", port.KindLsof, port.KindProc, c.Scanner))
	}
	if _, err := process.ParseSignal(c.KillSignal); err != nil {
		errs = append(errs, fmt.Errorf("kill_signal: %w", err))
	}
	return errors.Join(errs...)
}

// Interval returns the refresh interval as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.RefreshInterval) * time.Second
}

// Grace returns the kill grace period as a duration.
func (c *Config) Grace() time.Duration {
	return time.Duration(c.KillGrace) * time.Second
}

// Save marshals the config to YAML and writes it to the given path,
// creating parent directories as needed.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "portman", "config.yaml")
}
