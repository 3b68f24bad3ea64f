package app

import (
	"tether/internal/config"
)

// Config holds the application configuration.
type Config struct {
	// Debug enables verbose logging across all subsystems.
	Debug bool

	// Silent suppresses all log output. Used by tests.
	Silent bool

	// ConfigPath overrides the default configuration directory.
	ConfigPath string

	// TetherConfig is populated during bootstrap from the loaded
	// configuration file.
	TetherConfig *config.TetherConfig
}

// NewConfig creates a new application configuration.
func NewConfig(debug bool, configPath string) *Config {
	return &Config{
		Debug:      debug,
		ConfigPath: configPath,
	}
}
