// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values.
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultRejected = "rejected"
)

var (
	// LockAcquisitions tracks acquisition attempts by result.
	LockAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deadbolt_lock_acquisitions_total",
			Help: "Total advisory lock acquisition attempts by result",
		},
		[]string{"result"},
	)

	// LockReleases tracks release attempts by result.
	LockReleases = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deadbolt_lock_releases_total",
			Help: "Total advisory lock releases by result",
		},
		[]string{"result"},
	)

	// LockAcquireWait tracks how long callers waited for the server to grant a lock.
	LockAcquireWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deadbolt_lock_acquire_wait_seconds",
			Help:    "Time from connect to advisory lock grant in seconds",
			Buckets: []float64{.001, .01, .1, .5, 1, 5, 30, 60, 300, 1800},
		},
	)

	// LocksHeld tracks the number of sessions currently holding a lock in this process.
	LocksHeld = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deadbolt_locks_held",
			Help: "Current number of advisory locks held by this process",
		},
	)

	// ExecutorTasksInflight tracks tasks currently running on the shared executor.
	ExecutorTasksInflight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deadbolt_executor_tasks_inflight",
			Help: "Current number of tasks running on the shared executor",
		},
	)

	// ConnectionFailures tracks failed connection attempts to the lock database.
	ConnectionFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deadbolt_connection_failures_total",
			Help: "Total failed connection attempts to the lock database",
		},
	)
)

// RegisterMetricsEndpoint registers the /metrics endpoint on a Gin router.
func RegisterMetricsEndpoint(router *gin.Engine) {
	router.GET("/metrics", MetricsHandler())
}

// MetricsHandler returns the Prometheus HTTP handler.
func MetricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// RecordAcquisition records an acquisition attempt.
func RecordAcquisition(result string) {
	LockAcquisitions.WithLabelValues(result).Inc()
}

// RecordAcquireWait records the time spent waiting for a lock grant.
func RecordAcquireWait(seconds float64) {
	LockAcquireWait.Observe(seconds)
}

// RecordRelease records a release attempt.
func RecordRelease(result string) {
	LockReleases.WithLabelValues(result).Inc()
}

// IncLocksHeld marks one more lock as held.
func IncLocksHeld() {
	LocksHeld.Inc()
}

// DecLocksHeld marks one lock as no longer held.
func DecLocksHeld() {
	LocksHeld.Dec()
}

// IncExecutorTasks marks an executor task as started.
func IncExecutorTasks() {
	ExecutorTasksInflight.Inc()
}

// DecExecutorTasks marks an executor task as finished.
func DecExecutorTasks() {
	ExecutorTasksInflight.Dec()
}

// RecordConnectionFailure records a failed connection attempt.
func RecordConnectionFailure() {
	ConnectionFailures.Inc()
}
