package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salescope/dealrisk/internal/application/pipeline"
)

func TestObserveRun(t *testing.T) {
	m := NewMetricsRegistry()
	m.ObserveRun(pipeline.Summary{
		Scored:                  48,
		Rejected:                2,
		LowConfidenceBenchmarks: 3,
		HoldoutAUC:              0.87,
		ModelStale:              true,
		Duration:                250 * time.Millisecond,
	})
	m.ObserveRun(pipeline.Summary{
		Scored:     10,
		HoldoutAUC: 0.91,
		Duration:   100 * time.Millisecond,
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "dealrisk_runs_total 2")
	assert.Contains(t, body, "dealrisk_deals_scored_total 58")
	assert.Contains(t, body, "dealrisk_deals_rejected_total 2")
	assert.Contains(t, body, "dealrisk_low_confidence_benchmarks 3")
	assert.Contains(t, body, "dealrisk_holdout_auc 0.91") // gauge tracks latest run
	assert.Contains(t, body, "dealrisk_stale_model_runs_total 1")
	assert.Contains(t, body, "dealrisk_run_duration_seconds_count 2")
}

func TestHealthEndpoint(t *testing.T) {
	srv := NewServer(":0", NewMetricsRegistry())
	router := srv.srv.Handler.(*mux.Router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.True(t, strings.Contains(rec.Body.String(), `"status":"ok"`))
}

func TestMetricsEndpointRejectsPost(t *testing.T) {
	srv := NewServer(":0", NewMetricsRegistry())
	router := srv.srv.Handler.(*mux.Router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
