// Package metrics provides Prometheus metrics for the bookmark server and
// sync client.
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
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookmarks_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookmarks_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	storageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookmarks_storage_operations_total",
			Help: "Storage operations by backend and outcome",
		},
		[]string{"backend", "operation", "result"},
	)

	storageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookmarks_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	reconcilePassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookmarks_reconcile_passes_total",
			Help: "Reconciliation passes by outcome",
		},
		[]string{"result"},
	)

	reconcileChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookmarks_reconcile_changes_total",
			Help: "Bookmarks deleted or saved by reconciliation",
		},
		[]string{"kind"},
	)

	reconcileLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bookmarks_reconcile_last_success_timestamp_seconds",
			Help: "Unix time of the last successful reconciliation pass",
		},
	)

	watchNotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookmarks_watch_notifications_total",
			Help: "Change notifications emitted by watchers",
		},
		[]string{"source"},
	)

	watchSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bookmarks_watch_subscribers",
			Help: "Number of active watcher subscriptions",
		},
	)

	watchPendingPolls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bookmarks_watch_pending_polls",
			Help: "Number of long-poll watch requests being held open",
		},
	)

	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookmarks_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func outcome(err error, ok bool) string {
	switch {
	case err != nil:
		return "error"
	case !ok:
		return "rejected"
	}
	return "success"
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordStorageOperation records one storage call. ok is the boolean result
// of the operation; it is ignored when err is set.
func RecordStorageOperation(backend, operation string, start time.Time, ok bool, err error) {
	storageOperationsTotal.WithLabelValues(backend, operation, outcome(err, ok)).Inc()
	storageOperationDuration.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
}

// RecordReconcilePass records a reconciliation pass.
func RecordReconcilePass(deleted, saved int, err error) {
	reconcilePassesTotal.WithLabelValues(outcome(err, true)).Inc()
	reconcileChangesTotal.WithLabelValues("deleted").Add(float64(deleted))
	reconcileChangesTotal.WithLabelValues("saved").Add(float64(saved))
	if err == nil {
		reconcileLastSuccess.SetToCurrentTime()
	}
}

// RecordWatchNotification records one change notification.
func RecordWatchNotification(source string) {
	watchNotificationsTotal.WithLabelValues(source).Inc()
}

// AddWatchSubscribers adjusts the subscriber gauge by delta.
func AddWatchSubscribers(delta int) {
	watchSubscribers.Add(float64(delta))
}

// AddPendingPolls adjusts the held long-poll gauge by delta.
func AddPendingPolls(delta int) {
	watchPendingPolls.Add(float64(delta))
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
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

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request metrics labelled by route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
	})
}
