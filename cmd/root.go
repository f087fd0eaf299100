package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "trackbridge",
	Short: "TrackBridge reconciles incidents with an external issue tracker",
	Long: `TrackBridge is a CLI tool that reconciles incident records in an internal
tracking system with issues in an external tracker. Each run exports newly
created incidents, imports new and updated issues back, and records the
cross-system identity links in a local mapping database.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
