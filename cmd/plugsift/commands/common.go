package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/plugsift/plugsift/pkg/config"
	"github.com/plugsift/plugsift/pkg/stores"
	"github.com/plugsift/plugsift/pkg/telemetry"
)

// loadConfig loads the file named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("config", configPath).Str("home", cfg.Paths.Home).Msg("Configuration loaded")
	return cfg, nil
}

// newTelemetry builds logging, tracing and metrics from the configuration.
func newTelemetry(cfg *config.Config, version string) (*telemetry.Telemetry, error) {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = version
	tc.Logging.Level = cfg.Telemetry.LogLevel
	tc.Logging.Format = cfg.Telemetry.LogFormat
	if cfg.Telemetry.LogFile != "" {
		tc.Logging.Output = cfg.Telemetry.LogFile
	}
	if verbose {
		tc.Logging.Level = "debug"
	}
	tc.Tracing.Exporter = cfg.Telemetry.Tracing
	tc.Tracing.Endpoint = cfg.Telemetry.OTLPEndpoint
	tc.Metrics.ListenAddress = cfg.Telemetry.MetricsAddr

	tel, err := telemetry.NewTelemetry(tc)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	return tel, nil
}

// openStore opens the session journal of cfg.
func openStore(ctx context.Context, cfg *config.Config) (*stores.SQLiteStore, error) {
	store, err := stores.Open(ctx, cfg.Paths.State())
	if err != nil {
		return nil, fmt.Errorf("failed to open session journal: %w", err)
	}
	return store, nil
}
