// Flexlink is a command-line client for FlexLink software-defined radios.
//
// It discovers radios from their periodic network announcements, opens
// command sessions, mirrors radio state into a local object registry, and
// receives binary sample streams.
//
// Usage:
//
//	flexlink [command] [flags]
//
// See 'flexlink --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sdrkit/flexlink/internal/logging"
	"github.com/sdrkit/flexlink/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "flexlink",
	Short: "FlexLink SDR client",
	Long: `A command-line client for FlexLink software-defined radios.

Discovers radios on the local network, opens command sessions, mirrors
radio state, and receives audio, I/Q, and spectrum streams.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Initialize(logLevel)
	},
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); silent when unset")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("flexlink %s (commit: %s)\n", version.Version, version.Commit)
	},
}
