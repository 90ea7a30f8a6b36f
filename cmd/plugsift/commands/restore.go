package commands

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/plugsift/plugsift/pkg/orderfile"
	"github.com/plugsift/plugsift/pkg/report"
	"github.com/plugsift/plugsift/pkg/session"
)

func newRestoreCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore the order file from the newest backup",
		Long: `Restore the order file from the newest session backup.

WARNING: This replaces the current order file.`,
		Example: `  # Restore after confirmation
  plugsift restore

  # Restore without confirmation
  plugsift restore --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			latest, err := orderfile.NewBackups(cfg.Paths.Backups()).Latest()
			if errors.Is(err, orderfile.ErrNoBackup) {
				fmt.Fprintln(cmd.OutOrStdout(), "No backup found.")
				return nil
			}
			if err != nil {
				return err
			}

			if !force {
				prompt := report.NewPrompter(report.NewInput(cmd.InOrStdin()), cmd.OutOrStdout())
				ok, err := prompt.Confirm(cmd.Context(), fmt.Sprintf("Restore %s from %s?", cfg.OrderFile, latest.Session))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Skipped restoration.")
					return nil
				}
			}

			restored, err := session.RestoreLatest(cfg)
			if err != nil {
				return err
			}
			log.Info().Str("backup", restored.Path).Str("order_file", cfg.OrderFile).Msg("Order file restored")
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Restored %s from %s\n", cfg.OrderFile, restored.Session)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "skip confirmation prompt")

	return cmd
}
