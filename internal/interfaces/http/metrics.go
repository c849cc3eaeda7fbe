// Package http exposes run metrics and a health probe over HTTP. This is
// observability surface only; the engine itself has no network dependencies.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/salescope/dealrisk/internal/application/pipeline"
)

// MetricsRegistry holds all Prometheus metrics for the scoring engine.
type MetricsRegistry struct {
	registry *prometheus.Registry

	RunsTotal               prometheus.Counter
	DealsScored             prometheus.Counter
	DealsRejected           prometheus.Counter
	LowConfidenceBenchmarks prometheus.Gauge
	HoldoutAUC              prometheus.Gauge
	RunDuration             prometheus.Histogram
	StaleModelRuns          prometheus.Counter
}

// NewMetricsRegistry creates the engine's metric set on a private registry.
func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		registry: prometheus.NewRegistry(),
		RunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dealrisk_runs_total",
			Help: "Total number of completed scoring runs",
		}),
		DealsScored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dealrisk_deals_scored_total",
			Help: "Total number of deals scored across runs",
		}),
		DealsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dealrisk_deals_rejected_total",
			Help: "Total number of deals rejected by schema validation",
		}),
		LowConfidenceBenchmarks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dealrisk_low_confidence_benchmarks",
			Help: "Low-confidence benchmark count of the latest run",
		}),
		HoldoutAUC: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dealrisk_holdout_auc",
			Help: "Holdout ROC-AUC of the latest trained model",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dealrisk_run_duration_seconds",
			Help:    "Duration of scoring runs in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		StaleModelRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dealrisk_stale_model_runs_total",
			Help: "Runs scored against a model past its retraining interval",
		}),
	}

	m.registry.MustRegister(
		m.RunsTotal, m.DealsScored, m.DealsRejected,
		m.LowConfidenceBenchmarks, m.HoldoutAUC, m.RunDuration,
		m.StaleModelRuns,
	)
	return m
}

// ObserveRun implements pipeline.Observer.
func (m *MetricsRegistry) ObserveRun(s pipeline.Summary) {
	m.RunsTotal.Inc()
	m.DealsScored.Add(float64(s.Scored))
	m.DealsRejected.Add(float64(s.Rejected))
	m.LowConfidenceBenchmarks.Set(float64(s.LowConfidenceBenchmarks))
	m.HoldoutAUC.Set(s.HoldoutAUC)
	m.RunDuration.Observe(s.Duration.Seconds())
	if s.ModelStale {
		m.StaleModelRuns.Inc()
	}
}

// Handler returns the prometheus scrape handler for this registry.
func (m *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Server serves /metrics and /health.
type Server struct {
	srv *http.Server
}

// NewServer wires the routes.
func NewServer(addr string, metrics *MetricsRegistry) *Server {
	r := mux.NewRouter()
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}).Methods(http.MethodGet)

	return &Server{srv: &http.Server{Addr: addr, Handler: r}}
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.srv.Addr).Msg("metrics server listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
