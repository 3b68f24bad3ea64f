package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"tether/pkg/logging"
)

// runService starts the background subsystems and blocks until the context
// is cancelled or an interrupt signal arrives, then performs a graceful
// shutdown. Suitable for systemd units and container entrypoints.
func runService(ctx context.Context, services *Services) error {
	if err := services.Watcher.Start(); err != nil {
		logging.Error("App", err, "Failed to start configuration watcher")
		return err
	}

	logging.Info("App", "tether is running. Press Ctrl+C to stop.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		logging.Info("App", "Context cancelled, shutting down")
	case sig := <-sigChan:
		logging.Info("App", "Received %s, shutting down", sig)
	}

	services.Shutdown()
	return nil
}
