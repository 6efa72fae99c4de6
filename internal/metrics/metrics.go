// Package metrics holds the Prometheus collectors for the HTTP API and session tracking.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	ActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_active_requests",
			Help: "Current number of active HTTP requests",
		},
	)

	// Store Metrics
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "activity_store_operation_duration_seconds",
			Help:    "Duration of user_activity_logs operations",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	StoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_store_errors_total",
			Help: "Total number of failed user_activity_logs operations",
		},
		[]string{"operation"},
	)

	// Session Metrics
	SessionsOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "activity_sessions_opened_total",
			Help: "Total number of activity sessions created",
		},
	)

	SessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_sessions_closed_total",
			Help: "Total number of activity sessions closed",
		},
		[]string{"reason"}, // logout, idle_timeout, rollover, unload, stale
	)

	DuplicatesRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "activity_duplicate_sessions_removed_total",
			Help: "Total number of duplicate open sessions deleted",
		},
	)

	LiveClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "activity_live_clients",
			Help: "Current number of client instances with a session manager",
		},
	)
)

// Middleware records request count, latency and in-flight requests.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method

		ActiveRequests.Inc()
		defer ActiveRequests.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// TrackStoreOperation starts a timer for a store operation; call ObserveDuration when done.
func TrackStoreOperation(operation string) *prometheus.Timer {
	return prometheus.NewTimer(StoreOperationDuration.WithLabelValues(operation))
}

// TrackStoreError increments the store error counter for operation.
func TrackStoreError(operation string) {
	StoreErrorsTotal.WithLabelValues(operation).Inc()
}

// TrackSessionClosed increments the closed-session counter by reason.
func TrackSessionClosed(reason string) {
	SessionsClosed.WithLabelValues(reason).Inc()
}
