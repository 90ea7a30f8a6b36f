package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for isolation sessions.
type Metrics struct {
	config MetricsConfig

	trials        *prometheus.CounterVec
	trialDuration *prometheus.HistogramVec
	candidates    *prometheus.GaugeVec
	megaAttempts  *prometheus.CounterVec
	reverified    *prometheus.CounterVec
	sessions      *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics(cfg MetricsConfig) *Metrics {
	namespace := cfg.Namespace
	buckets := cfg.TrialBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		trials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trials_total",
				Help:      "Total number of trials by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		trialDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "trial_duration_seconds",
				Help:      "Duration of a launch-wait-terminate cycle in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),
		candidates: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "candidates",
				Help:      "Current number of candidates by state",
			},
			[]string{"state"},
		),
		megaAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mega_attempts_total",
				Help:      "Total number of mega-batch attempts by outcome",
			},
			[]string{"outcome"},
		),
		reverified: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reverify_total",
				Help:      "Total number of re-verification trials by outcome",
			},
			[]string{"outcome"},
		),
		sessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Total number of sessions by final status",
			},
			[]string{"status"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of engine errors by class and code",
			},
			[]string{"class", "code"},
		),
	}

	registry.MustRegister(
		m.trials,
		m.trialDuration,
		m.candidates,
		m.megaAttempts,
		m.reverified,
		m.sessions,
		m.errorsByCode,
	)

	return m
}

// RecordTrial records a finished trial.
func (m *Metrics) RecordTrial(kind, outcome string, duration time.Duration) {
	m.trials.WithLabelValues(kind, outcome).Inc()
	m.trialDuration.WithLabelValues(kind).Observe(duration.Seconds())
	if kind == "mega" {
		m.megaAttempts.WithLabelValues(outcome).Inc()
	}
	if kind == "verify" {
		m.reverified.WithLabelValues(outcome).Inc()
	}
}

// SetCandidates sets the candidate gauges.
func (m *Metrics) SetCandidates(safe, failed, remaining int) {
	m.candidates.WithLabelValues("safe").Set(float64(safe))
	m.candidates.WithLabelValues("failed").Set(float64(failed))
	m.candidates.WithLabelValues("remaining").Set(float64(remaining))
}

// RecordSession records a finished session.
func (m *Metrics) RecordSession(status string) {
	m.sessions.WithLabelValues(status).Inc()
}

// RecordError records an error by class and code.
func (m *Metrics) RecordError(class, code string) {
	m.errorsByCode.WithLabelValues(class, code).Inc()
}

// Registry returns the metrics registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves metrics until ctx is done. It is a no-op
// without a listen address.
func (m *Metrics) StartMetricsServer(ctx context.Context, logger *Logger) {
	if m.config.ListenAddress == "" {
		return
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server stopped")
		}
	}()
}
