package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "plugsift.yaml"

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "plugsift",
		Short: "plugsift - find the plugins that crash your game",
		Long: `plugsift isolates the plugins that make a program crash at startup.

It rewrites the program's plugin order file, launches the program and
watches whether it survives, narrowing down the culprits batch by batch:
  - Required and optional plugins are booted alone first
  - Candidates are tried in batches, crashed batches are split
  - Turbo mode tries everything untested after each confirmed culprit
  - Culprits can be quarantined and the order file finalized`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", DefaultConfigPath, "config file path (.yaml, .yml or .cue)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newRunCommand(version))
	rootCmd.AddCommand(newRestoreCommand())
	rootCmd.AddCommand(newFinalizeCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
