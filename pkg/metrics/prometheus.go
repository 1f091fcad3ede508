// Package metrics provides Prometheus metrics for the mimic pipeline service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stage and LLM latencies are dominated by provider round trips, so the
// default buckets are in milliseconds and reach into minutes.
var defaultLatencyBuckets = []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 180000, 600000} //nolint:gochecknoglobals // read-only defaults

// Manager manages all Prometheus metrics for the mimic service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Pipeline lifecycle
	pipelinesCreated prometheus.Counter
	pipelinesTotal   prometheus.Gauge
	stagesStarted    *prometheus.CounterVec
	stagesCompleted  *prometheus.CounterVec
	stagesFailed     *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	stagesInFlight   prometheus.Gauge
	bestModelPicks   *prometheus.CounterVec

	// Language model calls
	llmCallLatency *prometheus.HistogramVec
	llmCallErrors  *prometheus.CounterVec

	// Stage queue and workers
	queueSize        prometheus.Gauge
	queueCapacity    prometheus.Gauge
	queueUtilization prometheus.Gauge
	queueEnqueued    prometheus.Counter
	queueRejected    *prometheus.CounterVec
	workerCount      prometheus.Gauge
	workerBusy       prometheus.Gauge

	// Store
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec

	// Process
	systemMemory     prometheus.Gauge
	systemGoroutines prometheus.Gauge
	systemGCPause    prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "mimic",
		subsystem:        "pipeline",
		histogramBuckets: defaultLatencyBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) histogramOpts(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: m.histogramBuckets, ConstLabels: m.constLabels}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.pipelinesCreated = auto.NewCounter(m.counterOpts("created_total", "Total number of pipelines created"))
	m.pipelinesTotal = auto.NewGauge(m.gaugeOpts("stored", "Number of pipelines currently held by the store"))
	m.stagesStarted = auto.NewCounterVec(m.counterOpts("stage_started_total", "Stage executions started"), []string{"stage"})
	m.stagesCompleted = auto.NewCounterVec(m.counterOpts("stage_completed_total", "Stage executions that completed successfully"), []string{"stage"})
	m.stagesFailed = auto.NewCounterVec(m.counterOpts("stage_failed_total", "Stage executions that ended in error"), []string{"stage", "kind"})
	m.stageDuration = auto.NewHistogramVec(m.histogramOpts("stage_duration_milliseconds", "Stage wall time in milliseconds"), []string{"stage", "outcome"})
	m.stagesInFlight = auto.NewGauge(m.gaugeOpts("stages_in_flight", "Stage tasks currently claimed by the supervisor"))
	m.bestModelPicks = auto.NewCounterVec(m.counterOpts("best_model_total", "How often each model was selected as best"), []string{"model"})

	m.llmCallLatency = auto.NewHistogramVec(m.histogramOpts("llm_call_latency_milliseconds", "Language model call latency by capability"), []string{"capability"})
	m.llmCallErrors = auto.NewCounterVec(m.counterOpts("llm_call_errors_total", "Language model call failures by capability"), []string{"capability"})

	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size", "Stage jobs waiting in the queue"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity", "Maximum stage queue capacity"))
	m.queueUtilization = auto.NewGauge(m.gaugeOpts("queue_utilization_ratio", "Queue utilization ratio (current size / capacity)"))
	m.queueEnqueued = auto.NewCounter(m.counterOpts("queue_enqueue_total", "Stage jobs accepted by the queue"))
	m.queueRejected = auto.NewCounterVec(m.counterOpts("queue_rejected_total", "Stage jobs rejected by the queue"), []string{"reason"})
	m.workerCount = auto.NewGauge(m.gaugeOpts("worker_count", "Number of stage workers"))
	m.workerBusy = auto.NewGauge(m.gaugeOpts("worker_busy", "Number of workers currently running a stage"))

	m.storeLatency = auto.NewHistogramVec(m.histogramOpts("store_latency_milliseconds", "Store operation latency"), []string{"op"})
	m.storeErrors = auto.NewCounterVec(m.counterOpts("store_errors_total", "Store operation failures"), []string{"op"})

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total", "Total number of HTTP requests by endpoint and method"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration in milliseconds"), []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = auto.NewCounterVec(m.counterOpts("errors_total", "Errors by component and type"), []string{"component", "error_type"})

	m.systemMemory = auto.NewGauge(m.gaugeOpts("system_memory_bytes", "Heap bytes allocated by the process"))
	m.systemGoroutines = auto.NewGauge(m.gaugeOpts("system_goroutines", "Number of goroutines"))
	m.systemGCPause = auto.NewGauge(m.gaugeOpts("system_gc_pause_milliseconds", "Average GC pause in milliseconds"))
}

// Pipeline lifecycle.

// RecordPipelineCreated increments the created pipelines counter.
func RecordPipelineCreated() { globalManager.pipelinesCreated.Inc() }

// UpdatePipelinesStored sets the number of pipelines in the store.
func UpdatePipelinesStored(count int) { globalManager.pipelinesTotal.Set(float64(count)) }

// RecordStageStarted counts a stage execution start.
func RecordStageStarted(stage string) { globalManager.stagesStarted.WithLabelValues(stage).Inc() }

// RecordStageCompleted counts a successful stage and observes its duration.
func RecordStageCompleted(stage string, durationMs float64) {
	globalManager.stagesCompleted.WithLabelValues(stage).Inc()
	globalManager.stageDuration.WithLabelValues(stage, "complete").Observe(durationMs)
}

// RecordStageFailed counts a failed stage by error kind and observes its duration.
func RecordStageFailed(stage, kind string, durationMs float64) {
	globalManager.stagesFailed.WithLabelValues(stage, kind).Inc()
	globalManager.stageDuration.WithLabelValues(stage, "error").Observe(durationMs)
}

// UpdateStagesInFlight sets the number of claimed stage tasks.
func UpdateStagesInFlight(count int) { globalManager.stagesInFlight.Set(float64(count)) }

// RecordBestModel counts a best-model selection.
func RecordBestModel(model string) { globalManager.bestModelPicks.WithLabelValues(model).Inc() }

// Language model calls.

// RecordLLMCall observes the latency of a language model capability call.
func RecordLLMCall(capability string, latencyMs float64) {
	globalManager.llmCallLatency.WithLabelValues(capability).Observe(latencyMs)
}

// RecordLLMError counts a failed language model capability call.
func RecordLLMError(capability string) { globalManager.llmCallErrors.WithLabelValues(capability).Inc() }

// Queue and workers.

// UpdateQueueSize sets the number of queued stage jobs.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(ratio float64) { globalManager.queueUtilization.Set(ratio) }

// RecordQueueEnqueue counts an accepted job.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueRejected counts a rejected job.
func RecordQueueRejected(reason string) { globalManager.queueRejected.WithLabelValues(reason).Inc() }

// UpdateWorkerCount sets the number of workers.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// AddWorkerBusy adjusts the busy worker gauge by delta.
func AddWorkerBusy(delta int) { globalManager.workerBusy.Add(float64(delta)) }

// Store.

// RecordStoreOp observes the latency of a store operation.
func RecordStoreOp(op string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(op).Observe(latencyMs)
}

// RecordStoreError counts a failed store operation.
func RecordStoreError(op string) { globalManager.storeErrors.WithLabelValues(op).Inc() }

// HTTP.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// Process.

// UpdateSystemMemoryUsage sets the allocated heap bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemory.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the goroutine count.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutines.Set(float64(count)) }

// RecordSystemGCPauseTime sets the average GC pause.
func RecordSystemGCPauseTime(ms float64) { globalManager.systemGCPause.Set(ms) }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
