package commands

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/plugsift/plugsift/pkg/session"
)

func newFinalizeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "finalize",
		Short: "Rebuild the order file in its final form",
		Long: `Rebuild the order file: the mod manager header, an enforced-order
banner, required then optional then the other enabled plugins, the pinned
entries and the removed-plugins block.

Plugins of the newest quarantine session are dropped and listed as removed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			res, err := session.Finalize(cfg, time.Now())
			if err != nil {
				return err
			}

			removed := 0
			if res.Quarantine != nil {
				removed = len(res.Quarantine.Plugins)
				log.Info().Str("quarantine", res.Quarantine.Dir).Int("removed", removed).Msg("Using quarantine session")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s (%d lines, %d removed)\n", cfg.OrderFile, len(res.Lines), removed)
			if verbose {
				for _, line := range res.Lines {
					fmt.Fprintln(cmd.OutOrStdout(), line)
				}
			}
			return nil
		},
	}

	return cmd
}
