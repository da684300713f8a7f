// Package exporter serves the metrics snapshot over HTTP in the OpenMetrics
// text format.
package exporter

import (
	"bytes"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const contentType = "application/openmetrics-text; version=1.0.0; charset=utf-8"

var openMetricsFormat = mustOpenMetricsFormat()

func mustOpenMetricsFormat() expfmt.Format {
	format, err := expfmt.NewOpenMetricsFormat(expfmt.OpenMetricsVersion_1_0_0)
	if err != nil {
		panic(err)
	}
	return format
}

// Server answers every scrape request with a freshly gathered snapshot. It
// never terminates on a per-request failure: encoding errors become a 500
// response and write errors are logged and dropped.
type Server struct {
	gatherer prometheus.Gatherer
	logger   *logrus.Logger
}

func New(gatherer prometheus.Gatherer, logger *logrus.Logger) *Server {
	return &Server{
		gatherer: gatherer,
		logger:   logger,
	}
}

// Routes wraps the snapshot handler in the middleware chain: request ID,
// request logging, rate limiting. Every request path serves the snapshot.
func (s *Server) Routes(rateLimit float64, burst int) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rateLimit), burst)

	var handler http.Handler = s
	handler = RateLimitMiddleware(limiter, handler)
	handler = LoggingMiddleware(s.logger, handler)
	handler = RequestIDMiddleware(handler)
	return handler
}

// ServeHTTP encodes the snapshot into a buffer first so that an encoding
// failure can still produce a server-error response instead of a truncated
// body.
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	families, err := s.gatherer.Gather()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, openMetricsFormat)
	for _, family := range families {
		if err := encoder.Encode(family); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	// The OpenMetrics encoder writes the EOF marker on Close.
	if closer, ok := encoder.(expfmt.Closer); ok {
		if err := closer.Close(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", contentType)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.WithError(err).Warn("Failed to write scrape response")
	}
}
