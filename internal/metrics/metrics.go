// ============================================================================
// Task runtime Metrics - Prometheus Monitoring
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: Collect and expose runtime metrics for Prometheus monitoring.
//
// Metric Categories:
//
//   1. Counters - Cumulative, monotonically increasing:
//      - tasks_scheduled_total: Total tasks scheduled onto a pool
//      - tasks_inline_total: Total tasks that ran inline (load-factor fallback)
//      - tasks_failed_total: Total tasks that panicked
//      - graph_waves_total: Total graph executor waves run
//
//   2. Performance Metrics (Histogram):
//      - task_latency_seconds: Wall time from schedule to completion
//      - timed_task_drift_seconds: Actual fire time minus scheduled deadline
//
//   3. Status Metrics (Gauge) - Instantaneous values:
//      - pool_work_remaining: Current in-flight task count
//      - pool_num_threads: Current worker goroutine count
//      - pipeline_stage_queue_depth: Items waiting at a gated pipeline stage
//
// HTTP Endpoint:
//   Exposed via /metrics, scraped by Prometheus. Default port: 9090.
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects Prometheus metrics for a running pool/graph/pipeline.
type Collector struct {
	tasksScheduled prometheus.Counter
	tasksInline    prometheus.Counter
	tasksFailed    prometheus.Counter
	graphWaves     prometheus.Counter

	taskLatency    prometheus.Histogram
	timedTaskDrift prometheus.Histogram

	poolWorkRemaining prometheus.Gauge
	poolNumThreads    prometheus.Gauge
	stageQueueDepth   *prometheus.GaugeVec
}

// NewCollector creates and registers a new metrics collector.
func NewCollector() *Collector {
	c := &Collector{
		tasksScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskrunner_tasks_scheduled_total",
			Help: "Total number of tasks scheduled onto a pool",
		}),
		tasksInline: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskrunner_tasks_inline_total",
			Help: "Total number of tasks executed inline due to pool load factor",
		}),
		tasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskrunner_tasks_failed_total",
			Help: "Total number of tasks that panicked",
		}),
		graphWaves: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskrunner_graph_waves_total",
			Help: "Total number of graph executor waves run",
		}),
		taskLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskrunner_task_latency_seconds",
			Help:    "Task wall time from schedule to completion, in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		timedTaskDrift: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskrunner_timed_task_drift_seconds",
			Help:    "Difference between a timed task's actual fire time and its deadline",
			Buckets: prometheus.DefBuckets,
		}),
		poolWorkRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskrunner_pool_work_remaining",
			Help: "Current in-flight task count for the pool",
		}),
		poolNumThreads: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskrunner_pool_num_threads",
			Help: "Current number of worker goroutines backing the pool",
		}),
		stageQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "taskrunner_pipeline_stage_queue_depth",
			Help: "Items waiting at a gated pipeline stage",
		}, []string{"stage"}),
	}

	prometheus.MustRegister(
		c.tasksScheduled,
		c.tasksInline,
		c.tasksFailed,
		c.graphWaves,
		c.taskLatency,
		c.timedTaskDrift,
		c.poolWorkRemaining,
		c.poolNumThreads,
		c.stageQueueDepth,
	)

	return c
}

// RecordScheduled records a task handed to a pool.
func (c *Collector) RecordScheduled() { c.tasksScheduled.Inc() }

// RecordInline records a task that ran inline under load.
func (c *Collector) RecordInline() { c.tasksInline.Inc() }

// RecordFailed records a task that panicked.
func (c *Collector) RecordFailed() { c.tasksFailed.Inc() }

// RecordLatency records a task's schedule-to-completion latency.
func (c *Collector) RecordLatency(seconds float64) { c.taskLatency.Observe(seconds) }

// RecordGraphWave records one completed graph executor wave.
func (c *Collector) RecordGraphWave() { c.graphWaves.Inc() }

// RecordTimedTaskDrift records a timed task's actual-vs-scheduled fire time
// difference.
func (c *Collector) RecordTimedTaskDrift(seconds float64) { c.timedTaskDrift.Observe(seconds) }

// UpdatePoolStats updates the pool saturation gauges.
func (c *Collector) UpdatePoolStats(workRemaining, numThreads int) {
	c.poolWorkRemaining.Set(float64(workRemaining))
	c.poolNumThreads.Set(float64(numThreads))
}

// SetStageQueueDepth records a named pipeline stage's queue depth.
func (c *Collector) SetStageQueueDepth(stage string, depth int) {
	c.stageQueueDepth.WithLabelValues(stage).Set(float64(depth))
}

// StartServer starts the Prometheus metrics HTTP server on port.
func StartServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, mux)
}
