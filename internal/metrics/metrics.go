// Package metrics provides Prometheus metrics for the VeeDrive server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veedrive_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "veedrive_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Protocol dispatcher metrics
	rpcRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veedrive_rpc_requests_total",
			Help: "Total protocol requests by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	// Thumbnail pipeline metrics
	thumbnailDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "veedrive_thumbnail_duration_seconds",
			Help:    "Thumbnail generation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	thumbnailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veedrive_thumbnails_total",
			Help: "Total thumbnail generations",
		},
		[]string{"kind", "status"},
	)

	// Thumbnail cache metrics
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veedrive_thumbnail_cache_lookups_total",
			Help: "Total thumbnail cache lookups",
		},
		[]string{"result"},
	)

	// Search crawler metrics
	searchesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "veedrive_searches_active",
			Help: "Number of registered search jobs",
		},
	)

	searchesPurgedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veedrive_searches_purged_total",
			Help: "Total search jobs reclaimed by the purge loop",
		},
		[]string{"reason"},
	)

	// Content transfer metrics
	contentBytesServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "veedrive_content_bytes_served_total",
			Help: "Total bytes served from the content endpoints",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRPCRequest records a dispatched protocol request.
func RecordRPCRequest(method string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	rpcRequestsTotal.WithLabelValues(method, outcome).Inc()
}

// RecordThumbnail records a thumbnail generation.
func RecordThumbnail(kind string, duration time.Duration, err error) {
	thumbnailDuration.WithLabelValues(kind).Observe(duration.Seconds())
	status := "success"
	if err != nil {
		status = "error"
	}
	thumbnailsTotal.WithLabelValues(kind, status).Inc()
}

// RecordCacheLookup records a thumbnail cache hit or miss.
func RecordCacheLookup(hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// SetSearchesActive sets the number of registered search jobs.
func SetSearchesActive(n int) {
	searchesActive.Set(float64(n))
}

// RecordSearchPurged records a purge-loop reclamation.
func RecordSearchPurged(reason string) {
	searchesPurgedTotal.WithLabelValues(reason).Inc()
}

// RecordContentBytes records bytes served from a content endpoint.
func RecordContentBytes(n int64) {
	contentBytesServed.Add(float64(n))
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
