// Package metrics exposes Prometheus metrics for the scan service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailscan",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures HTTP request duration in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mailscan",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks current in-flight requests.
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mailscan",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)
)

var (
	// ScansTotal counts scans by mode and outcome.
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailscan",
			Subsystem: "scan",
			Name:      "scans_total",
			Help:      "Total number of mailbox scans by mode and status",
		},
		[]string{"mode", "status"},
	)

	// ScanDuration measures end-to-end scan duration.
	ScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mailscan",
			Subsystem: "scan",
			Name:      "duration_seconds",
			Help:      "End-to-end mailbox scan duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	// MessagesScanned counts messages classified across all scans.
	MessagesScanned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailscan",
			Subsystem: "scan",
			Name:      "messages_scanned_total",
			Help:      "Total number of messages classified across scans",
		},
	)

	// PdfsFound counts PDF-bearing messages discovered.
	PdfsFound = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailscan",
			Subsystem: "scan",
			Name:      "pdfs_found_total",
			Help:      "Total number of PDF-bearing messages discovered",
		},
	)
)

var (
	// IMAPDialsTotal counts IMAP session dials by outcome.
	IMAPDialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailscan",
			Subsystem: "imap",
			Name:      "dials_total",
			Help:      "Total number of IMAP session dials by status",
		},
		[]string{"status"},
	)

	// AttachmentDownloads counts attachment retrievals by outcome.
	AttachmentDownloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailscan",
			Subsystem: "attachment",
			Name:      "downloads_total",
			Help:      "Total number of attachment downloads by status",
		},
		[]string{"status"},
	)

	// AttachmentBytes measures downloaded attachment sizes.
	AttachmentBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mailscan",
			Subsystem: "attachment",
			Name:      "download_size_bytes",
			Help:      "Downloaded attachment size in bytes",
			Buckets:   []float64{1024, 10240, 102400, 1048576, 5242880, 10485760, 52428800},
		},
	)
)

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped writer so the SSE stream keeps working
// behind the metrics middleware.
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// routePattern returns the chi route pattern for stable labels, falling back
// to the URL path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
