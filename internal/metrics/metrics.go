// Package metrics exposes the Prometheus collectors for the marketplace.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "marketplace",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "marketplace",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	agentUploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "agents",
			Name:      "uploads_total",
			Help:      "Total number of agent bundle uploads.",
		},
		[]string{"status"},
	)

	agentDownloads = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "agents",
			Name:      "downloads_total",
			Help:      "Total number of agent bundle downloads served.",
		},
	)

	reviewsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "reviews",
			Name:      "submitted_total",
			Help:      "Total number of reviews submitted.",
		},
		[]string{"rating"},
	)

	starOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "agents",
			Name:      "star_operations_total",
			Help:      "Total number of star and unstar operations.",
		},
		[]string{"op"},
	)

	validationRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "validation",
			Name:      "runs_total",
			Help:      "Total number of completed validation runs.",
		},
		[]string{"status"},
	)

	validationCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "marketplace",
			Subsystem: "validation",
			Name:      "check_duration_seconds",
			Help:      "Duration of individual validation checks.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"check"},
	)

	agentsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "marketplace",
			Subsystem: "agents",
			Name:      "registered_total",
			Help:      "Number of agents registered on the platform.",
		},
	)

	usersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "marketplace",
			Subsystem: "users",
			Name:      "registered_total",
			Help:      "Number of registered users.",
		},
	)

	validationsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "marketplace",
			Subsystem: "validation",
			Name:      "pending_runs",
			Help:      "Number of validation runs waiting for a worker.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		agentUploads,
		agentDownloads,
		reviewsSubmitted,
		starOps,
		validationRuns,
		validationCheckDuration,
		agentsTotal,
		usersTotal,
		validationsPending,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordUpload records an agent bundle upload attempt.
func RecordUpload(status string) {
	agentUploads.WithLabelValues(status).Inc()
}

// RecordDownload records a served bundle download.
func RecordDownload() {
	agentDownloads.Inc()
}

// RecordReview records a submitted review by rating.
func RecordReview(rating int) {
	reviewsSubmitted.WithLabelValues(strconv.Itoa(rating)).Inc()
}

// RecordStar records a star or unstar operation.
func RecordStar(op string) {
	starOps.WithLabelValues(op).Inc()
}

// RecordValidationRun records a completed validation run.
func RecordValidationRun(status string) {
	validationRuns.WithLabelValues(status).Inc()
}

// RecordValidationCheck records the duration of one pipeline check.
func RecordValidationCheck(check string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	validationCheckDuration.WithLabelValues(check).Observe(duration.Seconds())
}

// SetPlatformGauges refreshes the platform-level gauges.
func SetPlatformGauges(agents, users, pendingValidations int64) {
	agentsTotal.Set(float64(agents))
	usersTotal.Set(float64(users))
	validationsPending.Set(float64(pendingValidations))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses resource identifiers so metric cardinality stays
// bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "api" {
		return "/" + parts[0]
	}
	// /api/v1/<resource>[/<id>[/<sub>]]
	if len(parts) < 3 {
		return "/api/v1"
	}
	resource := parts[2]
	switch len(parts) {
	case 3:
		return "/api/v1/" + resource
	case 4:
		return "/api/v1/" + resource + "/:id"
	default:
		return "/api/v1/" + resource + "/:id/" + parts[4]
	}
}
