package cmd

import (
	"context"
	"fmt"

	"tether/internal/app"

	"github.com/spf13/cobra"
)

// serveDebug enables verbose logging across the application.
var serveDebug bool

// serveConfigPath specifies a custom configuration directory. When empty,
// the per-user default (~/.config/tether) is used.
var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tether connection manager",
	Long: `Starts tether in the foreground: loads the configuration file,
watches it for changes, and manages per-user connections to the
configured downstream tool servers until interrupted.

Configuration:
  tether reads config.yaml from ~/.config/tether by default.
  Use --config-path to point at a different directory.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := app.NewConfig(serveDebug, serveConfigPath)

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	serveCmd.Flags().StringVar(&serveConfigPath, "config-path", "", "Custom configuration directory path")
}
