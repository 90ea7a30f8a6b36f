package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "no service", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: "service name"},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "log level"},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "log format"},
		{name: "bad exporter", mutate: func(c *Config) { c.Tracing.Exporter = "jaeger" }, wantErr: "exporter"},
		{name: "otlp without endpoint", mutate: func(c *Config) { c.Tracing.Exporter = "otlp" }, wantErr: "endpoint"},
		{name: "bad sampling", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: "sampling"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LoggingConfig{Level: "debug", Format: "json", Writer: &buf})
	require.NoError(t, err)

	logger.NewComponentLogger("engine").
		WithSessionID("s-1").
		WithTrialID("t-1").
		WithPlugin("Broken.esp").
		WithError(errors.New("boom")).
		Warn("plugin failed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "engine", entry["component"])
	assert.Equal(t, "s-1", entry["session_id"])
	assert.Equal(t, "t-1", entry["trial_id"])
	assert.Equal(t, "Broken.esp", entry["plugin"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "plugin failed", entry["message"])
}

func TestLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LoggingConfig{Level: "warn", Format: "json", Writer: &buf})
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Debugf("dropped %d", 1)
	assert.Zero(t, buf.Len())

	logger.Errorf("kept %d", 2)
	assert.Contains(t, buf.String(), "kept 2")
}

func TestLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugsift.log")
	logger, err := NewLogger(LoggingConfig{Level: "info", Format: "console", Output: path})
	require.NoError(t, err)

	logger.Info("to file")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
	assert.NotContains(t, string(data), "\x1b[", "file output is not colored")
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()), "missing logger falls back to nop")

	logger := NewNopLogger().WithField("k", "v")
	ctx := logger.WithContext(context.Background())
	assert.Same(t, logger, FromContext(ctx))
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"trace": zerolog.TraceLevel,
		"debug": zerolog.DebugLevel,
		"info":  zerolog.InfoLevel,
		"warn":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
		"":      zerolog.InfoLevel,
		"loud":  zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestMetrics(t *testing.T) {
	m := NewMetrics(DefaultConfig().Metrics)

	m.RecordTrial("batch", "passed", 11*time.Second)
	m.RecordTrial("batch", "crashed", 2*time.Second)
	m.RecordTrial("mega", "crashed", 3*time.Second)
	m.RecordTrial("verify", "passed", 11*time.Second)
	m.SetCandidates(3, 1, 6)
	m.RecordSession("completed")
	m.RecordError("transient", "ORDER_WRITE")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.trials.WithLabelValues("batch", "passed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.trials.WithLabelValues("batch", "crashed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.megaAttempts.WithLabelValues("crashed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reverified.WithLabelValues("passed")))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.candidates.WithLabelValues("remaining")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorsByCode.WithLabelValues("transient", "ORDER_WRITE")))
	assert.Equal(t, 3, testutil.CollectAndCount(m.trialDuration))
}

func TestTracer_Stdout(t *testing.T) {
	var buf bytes.Buffer
	tracer, err := NewTracer(TracingConfig{Exporter: "stdout", SamplingRate: 1, Writer: &buf}, "plugsift", "test")
	require.NoError(t, err)

	ctx, span := tracer.StartSessionSpan(context.Background(), "s-1", 4)
	assert.NotEmpty(t, TraceID(ctx))
	RecordError(span, errors.New("boom"))
	span.End()

	require.NoError(t, tracer.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "session.run")
	assert.Contains(t, buf.String(), "s-1")
}

func TestTracer_None(t *testing.T) {
	tracer, err := NewTracer(TracingConfig{Exporter: "none"}, "plugsift", "test")
	require.NoError(t, err)

	ctx, span := tracer.StartSessionSpan(context.Background(), "s-1", 0)
	RecordSuccess(span)
	span.End()
	assert.Empty(t, TraceID(ctx))
	assert.NoError(t, tracer.ForceFlush(context.Background()))
	assert.NoError(t, tracer.Shutdown(context.Background()))

	_, err = NewTracer(TracingConfig{Exporter: "zipkin"}, "plugsift", "test")
	assert.Error(t, err)
}

func TestSessionLog_Format(t *testing.T) {
	defer goleak.VerifyNone(t)

	var buf bytes.Buffer
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	slog := NewSessionLog(&buf, WithSessionLogClock(func() time.Time { return at }))

	slog.Log("one")
	slog.Logf("two %d", 2)
	require.NoError(t, slog.Close())

	assert.Equal(t, "[2025-01-02 03:04:05] one\n[2025-01-02 03:04:05] two 2\n", buf.String())
}

func TestSessionLog_DrainOnClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	var buf bytes.Buffer
	slog := NewSessionLog(&buf, WithSessionLogQueue(4))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				slog.Logf("writer %d line %d", w, i)
			}
		}(w)
	}
	wg.Wait()
	require.NoError(t, slog.Close())

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 200)

	slog.Log("after close")
	assert.NoError(t, slog.Close(), "second close is a no-op")
	assert.NotContains(t, buf.String(), "after close")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrShortWrite }

func TestSessionLog_WriteError(t *testing.T) {
	defer goleak.VerifyNone(t)

	slog := NewSessionLog(failingWriter{})
	for i := 0; i < 10; i++ {
		slog.Log(strings.Repeat("x", 5000))
	}
	assert.ErrorIs(t, slog.Close(), io.ErrShortWrite)
}

func TestOpenSessionLog(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "logs", "session_x", "results.log")
	slog, err := OpenSessionLog(path)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		slog.Log(fmt.Sprintf("line %d", i))
	}
	require.NoError(t, slog.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(data), "\n"))
}

func TestTelemetry_Nop(t *testing.T) {
	tel := NewNop()
	ctx := tel.WithContext(context.Background())

	assert.Same(t, tel, FromTelemetryContext(ctx))
	assert.Nil(t, FromTelemetryContext(context.Background()))
	assert.NoError(t, tel.Shutdown(context.Background()))
}
