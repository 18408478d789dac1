// Package metrics provides Prometheus metrics for the cocktime station.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for a station.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Matchmaking outcomes
	matchesStarted    *prometheus.CounterVec
	matchesCompleted  *prometheus.CounterVec
	selectionFailures *prometheus.CounterVec
	noops             *prometheus.CounterVec

	// Synchronization
	writeFailures    prometheus.Counter
	publishFailures  prometheus.Counter
	broadcastDropped prometheus.Counter
	remoteEvents     *prometheus.CounterVec
	reconciliations  *prometheus.CounterVec
	commitLatency    prometheus.Histogram
	commitQueueDepth prometheus.Gauge
	queueRejected    prometheus.Counter

	// Store
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec

	// Session state
	players        *prometheus.GaugeVec
	occupiedCourts prometheus.Gauge
	wsClients      prometheus.Gauge

	// Process
	memoryUsage    prometheus.Gauge
	goroutineCount prometheus.Gauge
	gcPauseTime    prometheus.Histogram

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpErrors          *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// Configure replaces the global manager with one built from opts on a fresh
// registry. Call it at startup, before the metrics handler is created.
func Configure(opts ...Option) {
	registry := prometheus.NewRegistry()
	globalManager = NewManager(append(opts, WithPrometheusRegistry(registry))...)
	customRegistry = registry
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "cocktime",
		subsystem:        "station",
		histogramBuckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) histogramOpts(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.matchesStarted = auto.NewCounterVec(
		m.counterOpts("matches_started_total", "Matches assigned to a court, by game type"),
		[]string{"game_type"},
	)
	m.matchesCompleted = auto.NewCounterVec(
		m.counterOpts("matches_completed_total", "Matches completed, by game type"),
		[]string{"game_type"},
	)
	m.selectionFailures = auto.NewCounterVec(
		m.counterOpts("selection_failures_total", "Generate calls that produced no proposal, by reason"),
		[]string{"reason"},
	)
	m.noops = auto.NewCounterVec(
		m.counterOpts("operations_noop_total", "Operations ignored because their precondition did not hold"),
		[]string{"operation"},
	)

	m.writeFailures = auto.NewCounter(m.counterOpts("store_write_failures_total", "Durable writes that failed"))
	m.publishFailures = auto.NewCounter(m.counterOpts("broadcast_publish_failures_total", "Broadcast publishes that failed"))
	m.broadcastDropped = auto.NewCounter(m.counterOpts("broadcast_dropped_total", "Events dropped because a subscriber was full"))
	m.remoteEvents = auto.NewCounterVec(
		m.counterOpts("remote_events_total", "Broadcast events received from other stations, by outcome"),
		[]string{"result"},
	)
	m.reconciliations = auto.NewCounterVec(
		m.counterOpts("reconciliations_total", "Authoritative snapshot rebuilds, by trigger"),
		[]string{"trigger"},
	)
	m.commitLatency = auto.NewHistogram(m.histogramOpts(
		"commit_latency_milliseconds", "Time from local apply to durable write and publish"))
	m.commitQueueDepth = auto.NewGauge(m.gaugeOpts("commit_queue_depth", "Commit jobs waiting for the worker"))
	m.queueRejected = auto.NewCounter(m.counterOpts("commit_queue_rejected_total", "Commit jobs refused by a full queue"))

	m.storeLatency = auto.NewHistogramVec(
		m.histogramOpts("store_operation_latency_milliseconds", "Durable store latency, by driver and operation"),
		[]string{"driver", "operation"},
	)
	m.storeErrors = auto.NewCounterVec(
		m.counterOpts("store_operation_errors_total", "Durable store errors, by driver and operation"),
		[]string{"driver", "operation"},
	)

	m.players = auto.NewGaugeVec(
		m.gaugeOpts("players", "Session players, by status"),
		[]string{"status"},
	)
	m.occupiedCourts = auto.NewGauge(m.gaugeOpts("occupied_courts", "Courts with an active match"))
	m.wsClients = auto.NewGauge(m.gaugeOpts("websocket_clients", "Connected websocket clients"))

	m.memoryUsage = auto.NewGauge(m.gaugeOpts("memory_usage_bytes", "Allocated heap bytes"))
	m.goroutineCount = auto.NewGauge(m.gaugeOpts("goroutines", "Number of goroutines"))
	m.gcPauseTime = auto.NewHistogram(m.histogramOpts("gc_pause_milliseconds", "Average GC pause time"))

	m.httpRequests = auto.NewCounterVec(
		m.counterOpts("http_requests_total", "Total number of HTTP requests by endpoint and method"),
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpRequestDuration = auto.NewHistogramVec(
		m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration in milliseconds"),
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpErrors = auto.NewCounterVec(
		m.counterOpts("http_errors_total", "HTTP error responses by endpoint, method and error type"),
		[]string{"endpoint", "method", "error_type", "severity"},
	)
}

// RecordMatchStarted counts a match assigned to a court.
func RecordMatchStarted(gameType string) {
	globalManager.matchesStarted.WithLabelValues(gameType).Inc()
}

// RecordMatchCompleted counts a completed match.
func RecordMatchCompleted(gameType string) {
	globalManager.matchesCompleted.WithLabelValues(gameType).Inc()
}

// RecordSelectionFailure counts a Generate call without a proposal.
func RecordSelectionFailure(reason string) {
	globalManager.selectionFailures.WithLabelValues(reason).Inc()
}

// RecordNoop counts an operation rejected by its precondition.
func RecordNoop(operation string) {
	globalManager.noops.WithLabelValues(operation).Inc()
}

// RecordWriteFailure counts a failed durable write.
func RecordWriteFailure() {
	globalManager.writeFailures.Inc()
}

// RecordPublishFailure counts a failed broadcast publish.
func RecordPublishFailure() {
	globalManager.publishFailures.Inc()
}

// RecordBroadcastDropped counts an event a subscriber could not buffer.
func RecordBroadcastDropped() {
	globalManager.broadcastDropped.Inc()
}

// RecordRemoteEvent counts a received broadcast event.
// result is one of applied, duplicate, stale, rejected or own.
func RecordRemoteEvent(result string) {
	globalManager.remoteEvents.WithLabelValues(result).Inc()
}

// RecordReconciliation counts a snapshot rebuild.
func RecordReconciliation(trigger string) {
	globalManager.reconciliations.WithLabelValues(trigger).Inc()
}

// RecordCommitLatency records how long a commit job took end to end.
func RecordCommitLatency(d time.Duration) {
	globalManager.commitLatency.Observe(float64(d.Microseconds()) / 1000)
}

// UpdateCommitQueueDepth sets the number of pending commit jobs.
func UpdateCommitQueueDepth(n int) {
	globalManager.commitQueueDepth.Set(float64(n))
}

// RecordQueueRejected counts a commit job refused by a full queue.
func RecordQueueRejected() {
	globalManager.queueRejected.Inc()
}

// RecordStoreOperation records latency and, when err is set, an error for one store call.
func RecordStoreOperation(driver, operation string, d time.Duration, err error) {
	globalManager.storeLatency.WithLabelValues(driver, operation).Observe(float64(d.Microseconds()) / 1000)
	if err != nil {
		globalManager.storeErrors.WithLabelValues(driver, operation).Inc()
	}
}

// UpdatePlayerCounts sets the per-status player gauges.
func UpdatePlayerCounts(counts map[string]int) {
	for status, n := range counts {
		globalManager.players.WithLabelValues(status).Set(float64(n))
	}
}

// UpdateOccupiedCourts sets the occupied court gauge.
func UpdateOccupiedCourts(n int) {
	globalManager.occupiedCourts.Set(float64(n))
}

// UpdateWebsocketClients sets the connected websocket client gauge.
func UpdateWebsocketClients(n int) {
	globalManager.wsClients.Set(float64(n))
}

// UpdateSystemMemoryUsage sets the allocated heap gauge.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.memoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine gauge.
func UpdateSystemGoroutineCount(n int) {
	globalManager.goroutineCount.Set(float64(n))
}

// RecordSystemGCPauseTime records the average GC pause in milliseconds.
func RecordSystemGCPauseTime(ms float64) {
	globalManager.gcPauseTime.Observe(ms)
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordHTTPError records an HTTP error response.
func RecordHTTPError(endpoint, method, errorType, severity string) {
	globalManager.httpErrors.WithLabelValues(endpoint, method, errorType, severity).Inc()
}

// GetRegistry returns the custom registry used for all metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
