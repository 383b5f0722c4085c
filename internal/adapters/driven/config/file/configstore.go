// Package file provides file-based configuration for gitminer: TOML
// settings in the config directory and credential loading from the
// environment or a tokens file.
package file

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Settings is the persisted harvester configuration. Flags override
// any value loaded from the file.
type Settings struct {
	Harvest HarvestSettings `toml:"harvest"`
	Paths   PathSettings    `toml:"paths"`
}

// HarvestSettings tunes the scheduling core.
type HarvestSettings struct {
	Concurrency          int     `toml:"concurrency"`
	MaxAttempts          int     `toml:"max_attempts"`
	PerPage              int     `toml:"per_page"`
	SafetyMargin         int     `toml:"safety_margin"`
	AuthFailureThreshold int     `toml:"auth_failure_threshold"`
	ProactiveRate        float64 `toml:"proactive_rate"`
	RequestTimeoutSecs   int     `toml:"request_timeout_seconds"`
}

// PathSettings locates the checkpoint database and the tokens file.
type PathSettings struct {
	Database   string `toml:"database"`
	TokensFile string `toml:"tokens_file"`
}

// ConfigStore loads and saves Settings as TOML.
type ConfigStore struct {
	filePath string
}

// NewConfigStore creates a TOML-based config store. If configDir is
// empty, defaults to ~/.gitminer/config.toml.
func NewConfigStore(configDir string) (*ConfigStore, error) {
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		configDir = filepath.Join(home, ".gitminer")
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, err
	}

	return &ConfigStore{filePath: filepath.Join(configDir, "config.toml")}, nil
}

// Path returns the config file path.
func (s *ConfigStore) Path() string {
	return s.filePath
}

// Load reads settings from disk. A missing file yields zero Settings
// and no error: every field has a package default downstream.
func (s *ConfigStore) Load() (*Settings, error) {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Settings{}, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var settings Settings
	if err := toml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &settings, nil
}

// Save writes settings to disk with restrictive permissions.
func (s *ConfigStore) Save(settings *Settings) error {
	data, err := toml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(s.filePath, data, 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
