package commands

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/ferndale-health/stitch/internal/core/config"
	"github.com/ferndale-health/stitch/internal/stitch"
	"github.com/ferndale-health/stitch/internal/sync/api"
)

type Flags struct {
	LogLevel   string
	LogFile    string
	ConfigPath string
	DataDir    string

	// Config is loaded in the Before hook and available to all commands
	Config *config.Config

	// Service is the stitch service for orchestrating chat sessions
	Service *stitch.Service

	// Client is the raw API client for commands that bypass sessions
	Client *api.Client

	// LoadErr records a config load failure. Commands that need a working
	// config surface it; doctor and config validate still run without one.
	LoadErr error
}

// RequireService returns the service, or the config load failure when setup
// never completed.
func (f *Flags) RequireService() (*stitch.Service, error) {
	if f.Service == nil {
		if f.LoadErr != nil {
			return nil, f.LoadErr
		}
		return nil, errors.New("service not initialized")
	}
	return f.Service, nil
}

// DefaultConfigPath returns the default config file path using XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, _ := os.UserHomeDir()
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "stitch", "config.yaml")
}

// DefaultDataDir returns the default data directory using XDG_DATA_HOME.
func DefaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "stitch")
}
