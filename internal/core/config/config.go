// Package config handles configuration loading and validation for stitch.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hay-kot/criterio"
	"gopkg.in/yaml.v3"

	"github.com/ferndale-health/stitch/internal/sync/api"
)

// Config holds the application configuration.
type Config struct {
	Server        ServerConfig       `yaml:"server"`
	Sync          SyncConfig         `yaml:"sync"`
	Notifications NotificationConfig `yaml:"notifications"`
	DataDir       string             `yaml:"-"` // set by caller, not from config file
}

// ServerConfig holds the chat service connection settings.
type ServerConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// SyncConfig tunes the sync core. Zero values fall back to defaults; these
// knobs exist for debugging, not everyday use.
type SyncConfig struct {
	BatchWindow   time.Duration `yaml:"batch_window"`
	BatchQuiet    time.Duration `yaml:"batch_quiet"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	CacheMessages int           `yaml:"cache_messages"`
}

// NotificationConfig controls user-facing notifications.
type NotificationConfig struct {
	Desktop bool `yaml:"desktop"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Timeout: 20 * time.Second,
		},
		Sync: SyncConfig{
			BatchWindow:   50 * time.Millisecond,
			BatchQuiet:    100 * time.Millisecond,
			PollInterval:  5 * time.Minute,
			CacheMessages: 200,
		},
		Notifications: NotificationConfig{
			Desktop: true,
		},
	}
}

// Load reads configuration from the given path and sets the data directory.
// If configPath is empty or doesn't exist, returns defaults with the
// provided dataDir.
func Load(configPath, dataDir string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.DataDir = dataDir

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}

			// Re-set dataDir since Unmarshal may have cleared it
			cfg.DataDir = dataDir
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.Server.Timeout == 0 {
		c.Server.Timeout = defaults.Server.Timeout
	}
	if c.Sync.BatchWindow == 0 {
		c.Sync.BatchWindow = defaults.Sync.BatchWindow
	}
	if c.Sync.BatchQuiet == 0 {
		c.Sync.BatchQuiet = defaults.Sync.BatchQuiet
	}
	if c.Sync.PollInterval == 0 {
		c.Sync.PollInterval = defaults.Sync.PollInterval
	}
	if c.Sync.CacheMessages == 0 {
		c.Sync.CacheMessages = defaults.Sync.CacheMessages
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs criterio.FieldErrorsBuilder

	if c.Server.URL == "" {
		errs = errs.Append("server.url", fmt.Errorf("is required"))
	} else if _, err := api.NormalizeBaseURL(c.Server.URL); err != nil {
		errs = errs.Append("server.url", err)
	}

	if c.DataDir == "" {
		errs = errs.Append("data_dir", fmt.Errorf("cannot be empty"))
	}

	if c.Sync.BatchWindow < 0 {
		errs = errs.Append("sync.batch_window", fmt.Errorf("cannot be negative"))
	}
	if c.Sync.BatchQuiet < c.Sync.BatchWindow {
		errs = errs.Append("sync.batch_quiet", fmt.Errorf("must be at least the batch window"))
	}
	if c.Sync.PollInterval < time.Second {
		errs = errs.Append("sync.poll_interval", fmt.Errorf("must be at least 1s"))
	}
	if c.Sync.CacheMessages < 1 {
		errs = errs.Append("sync.cache_messages", fmt.Errorf("must be at least 1"))
	}

	return errs.ToError()
}

// CacheDir returns the path where per-chat message caches are stored.
func (c *Config) CacheDir() string {
	return filepath.Join(c.DataDir, "cache", "chats")
}

// LogFile returns the default log file path.
func (c *Config) LogFile() string {
	return filepath.Join(c.DataDir, "stitch.log")
}
