package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"tether/internal/config"
	"tether/pkg/logging"
)

// Application bootstraps and runs tether. It follows a two-phase pattern:
// NewApplication loads configuration and wires the subsystems, Run starts
// them and blocks until shutdown.
type Application struct {
	config   *Config
	services *Services
}

// NewApplication creates and initializes a new application instance. It
// configures logging, loads the configuration file, and initializes all
// subsystems. Returns an error when the configuration is malformed or a
// subsystem fails to initialize.
func NewApplication(cfg *Config) (*Application, error) {
	appLogLevel := logging.LevelInfo
	if cfg.Debug {
		appLogLevel = logging.LevelDebug
	}

	var logOutput io.Writer = os.Stdout
	if cfg.Silent {
		logOutput = io.Discard
	}
	logging.Init(appLogLevel, logOutput)

	configPath := cfg.ConfigPath
	if configPath == "" {
		configPath = config.GetDefaultConfigPathOrPanic()
	}

	tetherCfg, err := config.LoadConfig(configPath)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to load configuration from %s", configPath)
		return nil, fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}
	cfg.TetherConfig = &tetherCfg

	services, err := InitializeServices(cfg, configPath)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		services: services,
	}, nil
}

// Run executes the application. It blocks until the context is cancelled or
// an interrupt signal arrives, then shuts everything down.
func (a *Application) Run(ctx context.Context) error {
	return runService(ctx, a.services)
}

// Services exposes the wired subsystems. Used by tests.
func (a *Application) Services() *Services {
	return a.services
}
