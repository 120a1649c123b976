package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector(t *testing.T) {
	// Reset Prometheus registry to avoid duplicate registration
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector := NewCollector()

	assert.NotNil(t, collector, "NewCollector should return a non-nil collector")
	assert.NotNil(t, collector.tasksScheduled, "tasksScheduled counter should be initialized")
	assert.NotNil(t, collector.tasksInline, "tasksInline counter should be initialized")
	assert.NotNil(t, collector.tasksFailed, "tasksFailed counter should be initialized")
	assert.NotNil(t, collector.graphWaves, "graphWaves counter should be initialized")
	assert.NotNil(t, collector.taskLatency, "taskLatency histogram should be initialized")
	assert.NotNil(t, collector.timedTaskDrift, "timedTaskDrift histogram should be initialized")
	assert.NotNil(t, collector.poolWorkRemaining, "poolWorkRemaining gauge should be initialized")
	assert.NotNil(t, collector.poolNumThreads, "poolNumThreads gauge should be initialized")
	assert.NotNil(t, collector.stageQueueDepth, "stageQueueDepth gauge vec should be initialized")
}

func TestRecordScheduled(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordScheduled()
	}, "RecordScheduled should not panic")

	for i := 0; i < 5; i++ {
		collector.RecordScheduled()
	}
}

func TestRecordInline(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordInline()
	}, "RecordInline should not panic")

	for i := 0; i < 10; i++ {
		collector.RecordInline()
	}
}

func TestRecordLatency(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	latencies := []float64{0.001, 0.01, 0.1, 1.0, 5.0}

	for _, latency := range latencies {
		assert.NotPanics(t, func() {
			collector.RecordLatency(latency)
		}, "RecordLatency should not panic with latency %f", latency)
	}
}

func TestRecordFailed(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordFailed()
	}, "RecordFailed should not panic")

	for i := 0; i < 3; i++ {
		collector.RecordFailed()
	}
}

func TestRecordGraphWave(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordGraphWave()
	}, "RecordGraphWave should not panic")

	for i := 0; i < 2; i++ {
		collector.RecordGraphWave()
	}
}

func TestRecordTimedTaskDrift(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	drifts := []float64{0.001, 0.5, 1.5, 3.0}

	for _, d := range drifts {
		assert.NotPanics(t, func() {
			collector.RecordTimedTaskDrift(d)
		}, "RecordTimedTaskDrift should not panic with drift %f", d)
	}
}

func TestUpdatePoolStats(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	testCases := []struct {
		name          string
		workRemaining int
		numThreads    int
	}{
		{"zero values", 0, 0},
		{"normal values", 10, 5},
		{"high backlog", 100, 8},
		{"high thread count", 5, 50},
		{"equal values", 20, 20},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				collector.UpdatePoolStats(tc.workRemaining, tc.numThreads)
			}, "UpdatePoolStats should not panic")
		})
	}
}

func TestSetStageQueueDepth(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.SetStageQueueDepth("double", 7)
		collector.SetStageQueueDepth("collect", 0)
	}, "SetStageQueueDepth should not panic")
}

func TestConcurrentMetricUpdates(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	// Prometheus metrics are safe for concurrent use.
	done := make(chan bool, 100)

	for i := 0; i < 100; i++ {
		go func() {
			collector.RecordScheduled()
			collector.RecordInline()
			collector.RecordLatency(0.1)
			collector.UpdatePoolStats(10, 5)
			done <- true
		}()
	}

	for i := 0; i < 100; i++ {
		<-done
	}
}

func TestCollectorIsolation(t *testing.T) {
	// Collectors are not independent: all register on the same default
	// registerer, so only one may exist per registry.
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector1 := NewCollector()
	require.NotNil(t, collector1)

	// A second collector panics on duplicate registration: a process
	// should have only one collector.
	assert.Panics(t, func() {
		NewCollector()
	}, "Creating a second collector should panic due to duplicate registration")
}

func TestMetricOperationSequence(t *testing.T) {
	// Simulate a task's schedule -> run -> complete lifecycle
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordScheduled()
		collector.UpdatePoolStats(1, 0)

		collector.UpdatePoolStats(0, 1)
		collector.RecordLatency(0.5)

		collector.UpdatePoolStats(0, 0)
	}, "Complete task lifecycle should not panic")
}

func TestMetricOperationWithFailure(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordScheduled()
		collector.RecordFailed()
	}, "Task failure scenario should not panic")
}

func TestZeroAndNegativeValues(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	// Boundary values
	assert.NotPanics(t, func() {
		collector.RecordLatency(0.0)        // zero latency
		collector.RecordTimedTaskDrift(0.0) // zero drift
		collector.UpdatePoolStats(0, 0)      // empty pool
		collector.UpdatePoolStats(-1, -1)    // negative values (shouldn't happen)
	}, "Edge case values should not panic")
}
