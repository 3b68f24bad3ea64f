package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the tether application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "tether",
	Short: "Share delegated access to downstream tool servers",
	Long: `tether manages per-user connections to downstream MCP tool servers
that require delegated OAuth authorization. It keeps one authorization
flow in flight per user and server, caches server configurations across
override tiers, and quietly reconnects users to servers they have
already authorized.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command. Called from the main
// package to inject the build version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "tether version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
}
