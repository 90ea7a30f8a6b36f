package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/plugsift/plugsift/pkg/config"
	"github.com/plugsift/plugsift/pkg/engine"
	"github.com/plugsift/plugsift/pkg/oracle"
	"github.com/plugsift/plugsift/pkg/orderfile"
	"github.com/plugsift/plugsift/pkg/plugin"
	"github.com/plugsift/plugsift/pkg/report"
	"github.com/plugsift/plugsift/pkg/session"
	"github.com/plugsift/plugsift/pkg/telemetry"
)

func newRunCommand(version string) *cobra.Command {
	var (
		noClear  bool
		noWatch  bool
		noTurbo  bool
		batch    int
		fastMode bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Isolate the plugins that crash the target",
		Long: `Run an isolation session.

The session:
  - Offers to restore the newest backup, then backs up the order file
  - Boots the required and optional plugins alone
  - Tests every candidate plugin in batches
  - Writes the passing plugins back and lists the crashing ones as removed
  - Lets you quarantine the crashing plugins or revert the order file

Type any line and press Enter while a trial runs to pause it.`,
		Example: `  # Run with plugsift.yaml from the current directory
  plugsift run

  # Smaller batches without turbo mode
  plugsift run --batch-size 4 --no-turbo`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("batch-size") {
				cfg.Isolation.BatchSize = batch
			}
			if noTurbo {
				cfg.Isolation.TurboBatch = false
			}
			if fastMode {
				cfg.Timing.FastMode = true
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			tel, err := newTelemetry(cfg, version)
			if err != nil {
				return err
			}
			defer func() { _ = tel.Shutdown(context.WithoutCancel(ctx)) }()
			ctx = tel.WithContext(ctx)
			if cfg.Telemetry.MetricsAddr != "" {
				tel.StartMetricsServer(ctx)
			}

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			logPath := filepath.Join(cfg.Paths.Logs(), orderfile.SessionDirName(time.Now()), "results.log")
			results, err := telemetry.OpenSessionLog(logPath)
			if err != nil {
				return fmt.Errorf("failed to open session log: %w", err)
			}
			defer results.Close()

			selector, err := newSelector(cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			in := report.NewInput(cmd.InOrStdin())
			prompt := report.NewPrompter(in, out)
			display := report.NewDisplay(out, report.DisplayOptions{
				Truncate: cfg.Display.TruncateLength,
				Clear:    !noClear,
			})

			orc := oracle.New(oracle.Options{
				Executable:         cfg.Target.Executable,
				Args:               cfg.Target.Args,
				WorkDir:            cfg.Target.WorkDir,
				ImageName:          cfg.Target.ProcessName,
				CrashReporterImage: cfg.Target.CrashReporter,
				Timeout:            cfg.Timing.Timeout(),
				StartupGrace:       cfg.Timing.Grace(),
				AfterCloseDelay:    cfg.Timing.AfterClose(),
				Fast:               cfg.Timing.FastMode,
			}, oracle.NewSystemProcessTable(),
				oracle.WithPauseSignal(in),
				oracle.WithLogger(tel.Logger.NewComponentLogger("oracle").Zerolog()),
			)

			sess, err := session.New(cfg, session.Dependencies{
				Oracle:     orc,
				Prompt:     prompt,
				Display:    display,
				Store:      store,
				Telemetry:  tel,
				Log:        results,
				Selector:   selector,
				WatchOrder: !noWatch,
			})
			if err != nil {
				return err
			}

			log.Info().Str("session", sess.ID()).Str("log", logPath).Msg("Session started")
			res, err := sess.Run(ctx)
			if engine.IsAborted(err) {
				fmt.Fprintf(out, "Session %s stopped: %v\n", sess.ID(), err)
				return nil
			}
			if err != nil {
				return err
			}
			if res.Result != nil {
				fmt.Fprintf(out, "Session %s %s: %d passed, %d failed in %d trials (%s)\n",
					sess.ID(), res.Status, len(res.Result.Safe), len(res.Result.Failed),
					res.Result.Trials, res.Result.Duration.Round(time.Second))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noClear, "no-clear", false, "append progress frames instead of redrawing")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not watch the order file for foreign changes")
	cmd.Flags().BoolVar(&noTurbo, "no-turbo", false, "disable turbo batch mode")
	cmd.Flags().IntVar(&batch, "batch-size", config.DefaultBatchSize, "candidates per top-level batch")
	cmd.Flags().BoolVar(&fastMode, "fast", false, "shorten fixed settle delays")

	return cmd
}

// newSelector returns the Starlark selector named in the configuration,
// or the keyword selector.
func newSelector(cfg *config.Config) (plugin.Selector, error) {
	def := plugin.NewDefaultSelector(cfg.Plugins.PatchKeywords)
	if cfg.Plugins.Selector == "" {
		return def, nil
	}
	script, err := os.ReadFile(cfg.Plugins.Selector)
	if err != nil {
		return nil, fmt.Errorf("failed to read selector script: %w", err)
	}
	sel, err := plugin.NewStarlarkSelector(string(script), def, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load selector script %s: %w", cfg.Plugins.Selector, err)
	}
	return sel, nil
}
