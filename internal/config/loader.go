package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"tether/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/tether"
	configFileName = "config.yaml"
)

// GetDefaultConfigPathOrPanic returns the per-user configuration directory.
func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// LoadConfig loads the tether configuration from the given directory. The
// directory should contain config.yaml; a missing file yields an empty
// configuration rather than an error.
func LoadConfig(configPath string) (TetherConfig, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	var config TetherConfig

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
			return config, nil
		}
		logging.Info("ConfigLoader", "Error loading config.yaml from %s: %s", configFilePath, err)
		return TetherConfig{}, err
	}
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		// config malformed
		return TetherConfig{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
	}
	logging.Info("ConfigLoader", "Loaded configuration from %s (%d servers)", configFilePath, len(config.Servers))
	return config, nil
}

// FallbackTable converts the parsed server list into the static fallback
// table consumed by the layered cache. Later duplicates win, matching YAML
// document order.
func (c TetherConfig) FallbackTable() map[string]*ServiceConfig {
	table := make(map[string]*ServiceConfig, len(c.Servers))
	for _, srv := range c.Servers {
		if srv == nil || srv.Name == "" {
			continue
		}
		table[srv.Name] = srv
	}
	return table
}
