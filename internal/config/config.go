// Package config provides the YAML configuration model for the kittcal
// daemon, including first-run config creation with 0600 permissions.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level daemon configuration.
type Config struct {
	// Database is the SQLite database path. ":memory:" is accepted for
	// throwaway runs.
	Database string `yaml:"database" json:"database"`

	// WindowMonths is the forward span of the rolling occurrence window.
	WindowMonths int `yaml:"window_months" json:"window_months"`

	// HistoryLimit caps how many past occurrences a history query returns.
	HistoryLimit int `yaml:"history_limit" json:"history_limit"`

	// ExcerptLength is how many characters of linked note content history
	// entries carry.
	ExcerptLength int `yaml:"excerpt_length" json:"excerpt_length"`

	// Refresh is a cron-style schedule string for periodic window
	// re-extension (e.g. "0 * * * *").
	Refresh string `yaml:"refresh" json:"refresh"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Database:      "kittcal.db",
		WindowMonths:  6,
		HistoryLimit:  20,
		ExcerptLength: 120,
		Refresh:       "0 * * * *",
		LogLevel:      "info",
	}
}

// Normalize fills in missing/zero values with defaults so partially-filled
// configs still behave correctly.
func (c *Config) Normalize() {
	if c.Database == "" {
		c.Database = "kittcal.db"
	}
	if c.WindowMonths <= 0 {
		c.WindowMonths = 6
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 20
	}
	if c.ExcerptLength <= 0 {
		c.ExcerptLength = 120
	}
	if c.Refresh == "" {
		c.Refresh = "0 * * * *"
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		c.LogLevel = "info"
	}
}

// Load loads configuration from the given YAML path. A missing file is a
// first run: a default config is written with 0600 perms and returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the configuration to the given path, creating the parent
// directory as needed and keeping 0600 permissions on the file.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}
