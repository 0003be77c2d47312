package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-editor/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "heimdex-editor",
	Short: "Local non-linear video editing core",
	Long: `Heimdex Editor runs the timeline, playback and export engine behind the
Heimdex editing UI. Without a subcommand it starts the local API server.`,
	Version:       config.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(doctorCmd)
}
