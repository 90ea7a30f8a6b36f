// Package telemetry provides logging, tracing, metrics and the session log
// for plugsift.
//
// # Architecture
//
//  1. Structured logging with zerolog, scoped by component, session and trial
//  2. Tracing with OpenTelemetry (session.run, isolate.partition, trial.run)
//  3. Prometheus metrics on a private registry, optionally served over HTTP
//  4. SessionLog, the human-readable results.log of one session
//
// # Usage
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	tel.StartMetricsServer(ctx)
//	logger := tel.Logger.NewComponentLogger("session").WithSessionID(id)
//
// # Session Log
//
// SessionLog queues lines on a bounded channel drained by one goroutine:
//
//	slog, err := telemetry.OpenSessionLog("logs/session_2025-01-02_10-00-00/results.log")
//	if err != nil {
//	    return err
//	}
//	slog.Logf("Batch %d passed", n)
//	defer slog.Close() // blocks until every line is on disk
//
// # Metrics
//
//  - plugsift_trials_total{kind,outcome}
//  - plugsift_trial_duration_seconds{kind}
//  - plugsift_candidates{state}
//  - plugsift_mega_attempts_total{outcome}
//  - plugsift_reverify_total{outcome}
//  - plugsift_sessions_total{status}
//  - plugsift_errors_total{class,code}
package telemetry
