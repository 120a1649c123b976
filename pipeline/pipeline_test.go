package pipeline

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/taskrunner/pool"
)

// ----------------------------------------------------------------------------
// Round-trip property (spec.md §8): pipeline(gen, sink) where gen yields
// elements and sink appends them yields the same multiset as the serial
// composition.
// ----------------------------------------------------------------------------

func TestRunIdentityPipelineRoundTrip(t *testing.T) {
	p := pool.New(4)
	defer p.Close()

	const n = 2000
	next := 0
	gen := func() (int, bool) {
		if next >= n {
			return 0, false
		}
		v := next
		next++
		return v, true
	}

	var mu sync.Mutex
	var collected []int
	sink := func(v int) {
		mu.Lock()
		collected = append(collected, v)
		mu.Unlock()
	}

	Run(p, gen, 1, sink, 0)

	require.Len(t, collected, n)
	sort.Ints(collected)
	for i := 0; i < n; i++ {
		assert.Equal(t, i, collected[i])
	}
}

// ----------------------------------------------------------------------------
// Transform stage
// ----------------------------------------------------------------------------

func TestRun2DoublesEveryValue(t *testing.T) {
	p := pool.New(4)
	defer p.Close()

	const n = 500
	next := 0
	gen := func() (int, bool) {
		if next >= n {
			return 0, false
		}
		v := next
		next++
		return v, true
	}

	var mu sync.Mutex
	var collected []int
	sink := func(v int) {
		mu.Lock()
		collected = append(collected, v)
		mu.Unlock()
	}

	Run2(p, gen, 1, func(v int) (int, bool) { return v * 2, true }, 4, sink, 0)

	require.Len(t, collected, n)
	sort.Ints(collected)
	for i := 0; i < n; i++ {
		assert.Equal(t, i*2, collected[i])
	}
}

func TestRun2FilterDropsValues(t *testing.T) {
	// A transform stage returning ok=false must filter the item out of the
	// sink entirely, never invoking sink for it.
	p := pool.New(4)
	defer p.Close()

	const n = 300
	next := 0
	gen := func() (int, bool) {
		if next >= n {
			return 0, false
		}
		v := next
		next++
		return v, true
	}

	var mu sync.Mutex
	var collected []int
	sink := func(v int) {
		mu.Lock()
		collected = append(collected, v)
		mu.Unlock()
	}

	Run2(p, gen, 1, func(v int) (int, bool) { return v, v%2 == 0 }, 0, sink, 0)

	for _, v := range collected {
		assert.Equal(t, 0, v%2, "odd value %d leaked through the filter", v)
	}
	assert.Len(t, collected, n/2)
}

// ----------------------------------------------------------------------------
// Boundary behavior
// ----------------------------------------------------------------------------

func TestRunEmptyGeneratorNeverInvokesSink(t *testing.T) {
	p := pool.New(4)
	defer p.Close()

	gen := func() (int, bool) { return 0, false }
	called := false
	sink := func(v int) { called = true }

	Run(p, gen, 1, sink, 0)
	assert.False(t, called)
}

// ----------------------------------------------------------------------------
// Concurrency gating
// ----------------------------------------------------------------------------

func TestStageGateBoundsInFlightConcurrency(t *testing.T) {
	// A stage with concurrencyLimit == k must never have more than k
	// invocations of the transform running at once.
	p := pool.New(8)
	defer p.Close()

	const n = 200
	const limit = 3

	next := 0
	gen := func() (int, bool) {
		if next >= n {
			return 0, false
		}
		v := next
		next++
		return v, true
	}

	var mu sync.Mutex
	inFlight := 0
	maxSeen := 0
	stage := func(v int) (int, bool) {
		mu.Lock()
		inFlight++
		if inFlight > maxSeen {
			maxSeen = inFlight
		}
		mu.Unlock()

		mu.Lock()
		inFlight--
		mu.Unlock()
		return v, true
	}

	var count int
	var countMu sync.Mutex
	sink := func(v int) {
		countMu.Lock()
		count++
		countMu.Unlock()
	}

	Run2(p, gen, 1, stage, limit, sink, 0)

	assert.Equal(t, n, count)
	assert.LessOrEqual(t, maxSeen, limit)
}

// ----------------------------------------------------------------------------
// N-stage Pipeline
// ----------------------------------------------------------------------------

func TestPipelineChainsMultipleStages(t *testing.T) {
	p := pool.New(4)
	defer p.Close()

	const n = 300
	next := 0
	gen := func() (int, bool) {
		if next >= n {
			return 0, false
		}
		v := next
		next++
		return v, true
	}

	var mu sync.Mutex
	var collected []int
	sink := func(v int) {
		mu.Lock()
		collected = append(collected, v)
		mu.Unlock()
	}

	pl := NewPipeline(p, gen, 1).
		AddStage(func(v int) (int, bool) { return v + 1, true }, 2).
		AddStage(func(v int) (int, bool) { return v * 2, true }, 2).
		AddStage(func(v int) (int, bool) { return v - 1, true }, 0)
	pl.SetSink(sink, 0)
	pl.Run()

	require.Len(t, collected, n)
	sort.Ints(collected)
	for i := 0; i < n; i++ {
		assert.Equal(t, (i+1)*2-1, collected[i])
	}
}

func TestPipelineStageFilterDropsItems(t *testing.T) {
	p := pool.New(4)
	defer p.Close()

	const n = 200
	next := 0
	gen := func() (int, bool) {
		if next >= n {
			return 0, false
		}
		v := next
		next++
		return v, true
	}

	var mu sync.Mutex
	var collected []int
	sink := func(v int) {
		mu.Lock()
		collected = append(collected, v)
		mu.Unlock()
	}

	pl := NewPipeline(p, gen, 1).
		AddStage(func(v int) (int, bool) { return v, v%2 == 0 }, 0)
	pl.SetSink(sink, 0)
	pl.Run()

	for _, v := range collected {
		assert.Equal(t, 0, v%2)
	}
	assert.Len(t, collected, n/2)
}

func TestPipelineWithNoStagesActsAsIdentity(t *testing.T) {
	p := pool.New(2)
	defer p.Close()

	const n = 50
	next := 0
	gen := func() (int, bool) {
		if next >= n {
			return 0, false
		}
		v := next
		next++
		return v, true
	}

	var mu sync.Mutex
	var collected []int
	pl := NewPipeline(p, gen, 1)
	pl.SetSink(func(v int) {
		mu.Lock()
		collected = append(collected, v)
		mu.Unlock()
	}, 0)
	pl.Run()

	require.Len(t, collected, n)
}

func TestUngatedStageHasNoLimit(t *testing.T) {
	// concurrencyLimit == 0 means unlimited: newGate(0) returns nil and
	// acquire/release on a nil gate must be no-ops, never blocking.
	g := newGate(0)
	assert.Nil(t, g)
	g.acquire()
	g.release()
}
