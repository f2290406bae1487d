package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamakara/bakabooru/internal/config"
	"github.com/tamakara/bakabooru/internal/handlers"
	"github.com/tamakara/bakabooru/internal/metrics"
)

func newTestServer(t *testing.T, origins []string) http.Handler {
	t.Helper()
	cfg := &config.AppConfig{
		Environment:      "test",
		Metrics:          config.MetricsConfig{Enabled: true, Path: "/metrics"},
		AllowCORSOrigins: origins,
	}
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	m.TaskProcessed("succeeded")

	h := handlers.NewHandlerSet(zerolog.Nop(), cfg, handlers.Deps{})
	return NewHTTPServer(cfg, zerolog.Nop(), h, m.Handler()).Handler()
}

func TestRequestIDIsEchoed(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	req := httptest.NewRequest(http.MethodGet, "/api/healthz", nil)
	req.Header.Set("X-Request-Id", "req-42")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-Id"))
}

func TestMetricsRoute(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bakabooru_ingest_tasks_total")
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t, []string{"https://booru.example"})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/search", nil)
	req.Header.Set("Origin", "https://booru.example")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://booru.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/search", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
