// Package cli implements the gitminer command-line interface using
// cobra. Commands wire the driven adapters (GitHub fetcher, SQLite
// checkpoint store, record sinks) into the core harvest pipeline.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/collabgraph/gitminer/internal/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	flagVerbose   bool
	flagConfigDir string
)

var rootCmd = &cobra.Command{
	Use:   "gitminer",
	Short: "Harvest GitHub collaboration data with rotating credentials",
	Long: `gitminer harvests public collaboration data (contributors, pull
requests, issues, comments, commits, stars, forks) from the GitHub API
using multiple tokens in rotation. Progress is checkpointed
continuously, so a multi-hour harvest can be interrupted and resumed
without redoing completed work.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(flagVerbose)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false,
		"enable verbose logging to stderr")
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "",
		"config directory (default ~/.gitminer)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
