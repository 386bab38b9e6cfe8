package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Task metrics
	TasksDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acceldispatch_tasks_dispatched_total",
			Help: "Total number of tasks handed to a worker",
		},
		[]string{"device_id"},
	)

	TasksSucceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acceldispatch_tasks_succeeded_total",
			Help: "Total number of tasks that completed without error",
		},
		[]string{"device_id"},
	)

	TasksFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acceldispatch_tasks_failed_total",
			Help: "Total number of tasks whose Process call returned an error",
		},
		[]string{"device_id"},
	)

	TasksTimedOut = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acceldispatch_tasks_timed_out_total",
			Help: "Total number of tasks that exceeded their per-task timeout",
		},
		[]string{"device_id"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "acceldispatch_task_duration_seconds",
			Help:    "Task processing duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		[]string{"device_id"},
	)

	// Queue metrics
	TaskQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "acceldispatch_task_queue_depth",
			Help: "Current number of envelopes buffered in the Task Queue",
		},
	)

	ResultQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "acceldispatch_result_queue_depth",
			Help: "Current number of outcomes buffered in the Result Queue",
		},
	)

	// Worker metrics
	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "acceldispatch_active_workers",
			Help: "Current number of worker subprocesses that have not yet terminated",
		},
	)

	WorkerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "acceldispatch_worker_state",
			Help: "1 if the worker for device_id is currently in state, 0 otherwise",
		},
		[]string{"device_id", "state"},
	)

	SetupFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acceldispatch_setup_failures_total",
			Help: "Total number of worker Setup calls that returned an error",
		},
		[]string{"device_id"},
	)

	CleanupFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acceldispatch_cleanup_failures_total",
			Help: "Total number of worker Cleanup calls that returned an error",
		},
		[]string{"device_id"},
	)

	// HTTP metrics (internal/admin)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "acceldispatch_http_request_duration_seconds",
			Help:    "Admin HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// Registry metrics (internal/registry)
	RegistryPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acceldispatch_registry_publish_errors_total",
			Help: "Total number of failed best-effort publishes to the registry transport",
		},
		[]string{"operation"},
	)

	// WebSocket metrics (internal/admin)
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "acceldispatch_websocket_connections",
			Help: "Current number of WebSocket clients subscribed to the outcome stream",
		},
	)
)

// deviceLabel renders a device id as the string label value every
// per-device metric above is keyed by.
func deviceLabel(deviceID int) string {
	return strconv.Itoa(deviceID)
}

// RecordDispatch records a task handed to the worker on deviceID.
func RecordDispatch(deviceID int) {
	TasksDispatched.WithLabelValues(deviceLabel(deviceID)).Inc()
}

// RecordSuccess records a task completing without error, including its
// processing duration.
func RecordSuccess(deviceID int, durationSeconds float64) {
	TasksSucceeded.WithLabelValues(deviceLabel(deviceID)).Inc()
	TaskDuration.WithLabelValues(deviceLabel(deviceID)).Observe(durationSeconds)
}

// RecordFailure records a task whose Process call returned an error.
func RecordFailure(deviceID int, durationSeconds float64) {
	TasksFailed.WithLabelValues(deviceLabel(deviceID)).Inc()
	TaskDuration.WithLabelValues(deviceLabel(deviceID)).Observe(durationSeconds)
}

// RecordTimeout records a task that exceeded its per-task timeout.
func RecordTimeout(deviceID int) {
	TasksTimedOut.WithLabelValues(deviceLabel(deviceID)).Inc()
}

// RecordSetupFailure records a worker whose Setup call returned an error.
func RecordSetupFailure(deviceID int) {
	SetupFailures.WithLabelValues(deviceLabel(deviceID)).Inc()
}

// RecordCleanupFailure records a worker whose Cleanup call returned an error.
func RecordCleanupFailure(deviceID int) {
	CleanupFailures.WithLabelValues(deviceLabel(deviceID)).Inc()
}

// SetWorkerState zeroes every other known state for deviceID and sets state
// to 1, so a Prometheus query can read "current state" as whichever label
// is non-zero.
func SetWorkerState(deviceID int, state string, knownStates []string) {
	label := deviceLabel(deviceID)
	for _, s := range knownStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		WorkerState.WithLabelValues(label, s).Set(v)
	}
}

// SetActiveWorkers sets the active workers gauge.
func SetActiveWorkers(count float64) {
	ActiveWorkers.Set(count)
}

// SetTaskQueueDepth sets the Task Queue depth gauge.
func SetTaskQueueDepth(depth float64) {
	TaskQueueDepth.Set(depth)
}

// SetResultQueueDepth sets the Result Queue depth gauge.
func SetResultQueueDepth(depth float64) {
	ResultQueueDepth.Set(depth)
}

// RecordHTTPRequest records one admin HTTP request.
func RecordHTTPRequest(method, path, status string, durationSeconds float64) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(durationSeconds)
}

// RecordRegistryPublishError records a failed best-effort registry publish.
func RecordRegistryPublishError(operation string) {
	RegistryPublishErrors.WithLabelValues(operation).Inc()
}

// SetWebSocketConnections sets the WebSocket connections gauge.
func SetWebSocketConnections(count float64) {
	WebSocketConnections.Set(count)
}
