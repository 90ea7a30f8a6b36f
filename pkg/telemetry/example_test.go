package telemetry_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/plugsift/plugsift/pkg/telemetry"
)

// Example_sessionLog writes timestamped lines and drains them on Close.
func Example_sessionLog() {
	var buf bytes.Buffer
	at := time.Date(2025, 5, 1, 21, 4, 5, 0, time.UTC)

	slog := telemetry.NewSessionLog(&buf, telemetry.WithSessionLogClock(func() time.Time { return at }))
	slog.Log("Session started")
	slog.Logf("Batch %d crashed, splitting into %d", 1, 3)
	_ = slog.Close()

	fmt.Print(buf.String())
	// Output:
	// [2025-05-01 21:04:05] Session started
	// [2025-05-01 21:04:05] Batch 1 crashed, splitting into 3
}

// Example_structuredLogging demonstrates component and session loggers.
func Example_structuredLogging() {
	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  "info",
		Format: "json",
		Writer: os.Stdout,
	})
	if err != nil {
		panic(err)
	}

	logger = logger.NewComponentLogger("engine").WithSessionID("s-1")
	logger.Debug("hidden below info")
	logger.WithPlugin("Broken.esp").Warn("plugin failed")

	// Output varies with the timestamp, no output specified
}

// Example_telemetry wires the bundle into a context.
func Example_telemetry() {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Writer = os.Stdout

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())
	ctx, span := tel.Tracer.StartSessionSpan(ctx, "s-1", 12)
	defer span.End()

	telemetry.FromContext(ctx).Info("session started")
	tel.Metrics.RecordTrial("batch", "passed", 11*time.Second)
}
