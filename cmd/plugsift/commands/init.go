package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/plugsift/plugsift/pkg/config"
)

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration and working directories",
		Long: `Write a default YAML configuration to --config and create the
backup, quarantine and log directories next to it, along with the session
journal database.

The defaults point at a Steam install of Oblivion Remastered; edit
target.executable, target.process_name and order_file for anything else.`,
		Example: `  # Create plugsift.yaml in the current directory
  plugsift init

  # Overwrite an existing configuration
  plugsift init --force --config ./oblivion.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Info().Str("config", configPath).Bool("force", force).Msg("Initializing workspace")

			if err := config.WriteDefault(configPath, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote configuration: %s\n", configPath)

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			for _, dir := range []string{cfg.Paths.Backups(), cfg.Paths.Quarantine(), cfg.Paths.Logs()} {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", dir, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Created directory: %s\n", dir)
			}

			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Initialized session journal: %s\n", cfg.Paths.State())

			fmt.Fprintln(cmd.OutOrStdout(), "\nNext: check target.executable, target.process_name and order_file, then run 'plugsift validate'.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing configuration")

	return cmd
}
