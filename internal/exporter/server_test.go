package exporter_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsmr-tools/p1exporter/internal/exporter"
	"github.com/dsmr-tools/p1exporter/internal/metrics"
)

const wantContentType = "application/openmetrics-text; version=1.0.0; charset=utf-8"

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()

	registry := prometheus.NewRegistry()
	store := metrics.NewStore()
	registry.MustRegister(store)
	store.SetPowerConsumed(1.234)
	return registry
}

func TestServeHTTPEncodesSnapshot(t *testing.T) {
	srv := exporter.New(newTestRegistry(t), newTestLogger())

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, wantContentType, rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "p1_power_consumed_kilowatts 1.234")
	assert.Contains(t, body, "# EOF")
}

func TestServeHTTPAnswersAnyPath(t *testing.T) {
	srv := exporter.New(newTestRegistry(t), newTestLogger())

	for _, path := range []string{"/", "/metrics", "/some/other/path"} {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

		assert.Equal(t, http.StatusOK, rec.Code, "path %s", path)
		assert.Contains(t, rec.Body.String(), "p1_power_consumed_kilowatts", "path %s", path)
	}
}

func TestServeHTTPGatherFailureIsServerError(t *testing.T) {
	failing := prometheus.GathererFunc(func() ([]*dto.MetricFamily, error) {
		return nil, errors.New("snapshot failed")
	})
	srv := exporter.New(failing, newTestLogger())

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "snapshot failed")
}

func TestRoutesRateLimitsExcessScrapes(t *testing.T) {
	srv := exporter.New(newTestRegistry(t), newTestLogger())
	handler := srv.Routes(1, 1)

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Body.String())
}

// brokenWriter simulates a client that disconnects mid-write.
type brokenWriter struct {
	*httptest.ResponseRecorder
}

func (w *brokenWriter) Write([]byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestServeHTTPLogsFailedResponseWrite(t *testing.T) {
	logger, hook := logrustest.NewNullLogger()
	srv := exporter.New(newTestRegistry(t), logger)

	rec := &brokenWriter{ResponseRecorder: httptest.NewRecorder()}
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "Failed to write scrape response", hook.LastEntry().Message)

	// The serving loop is unaffected: the next request succeeds.
	next := httptest.NewRecorder()
	srv.ServeHTTP(next, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, next.Code)
}

func TestRoutesLogsRequests(t *testing.T) {
	logger, hook := logrustest.NewNullLogger()
	srv := exporter.New(newTestRegistry(t), logger)
	handler := srv.Routes(10, 10)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.NotNil(t, hook.LastEntry())
	entry := hook.LastEntry()
	assert.Equal(t, "Handled scrape request", entry.Message)
	assert.Equal(t, http.StatusOK, entry.Data["status"])
	assert.NotEmpty(t, entry.Data["request_id"])
}
