package commands

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/plugsift/plugsift/pkg/config"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a configuration file",
		Long: `Validate a YAML or CUE configuration file.

This command checks:
  - YAML or CUE syntax
  - Conformance to the configuration schema
  - Field constraints such as positive timings and a valid marker`,
		Example: `  # Validate plugsift.yaml
  plugsift validate

  # Validate a CUE configuration
  plugsift validate ./oblivion.cue`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if len(args) > 0 {
				path = args[0]
			}
			log.Debug().Str("path", path).Msg("Validating configuration")

			cfg, err := config.Load(path)
			var verrs config.ValidationErrors
			if errors.As(err, &verrs) {
				for _, ve := range verrs {
					fmt.Fprintf(cmd.ErrOrStderr(), "✗ %s\n", ve.String())
				}
				return fmt.Errorf("%s: %d problem(s)", path, len(verrs))
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is valid\n", path)
			fmt.Fprintf(cmd.OutOrStdout(), "  target:     %s (%s)\n", cfg.Target.Executable, cfg.Target.ProcessName)
			fmt.Fprintf(cmd.OutOrStdout(), "  order file: %s\n", cfg.OrderFile)
			fmt.Fprintf(cmd.OutOrStdout(), "  baseline:   %d required, %d optional\n", len(cfg.Plugins.Required), len(cfg.Plugins.Optional))
			return nil
		},
	}

	return cmd
}
