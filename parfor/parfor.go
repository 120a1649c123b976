// ============================================================================
// Parallel-for engine
// ============================================================================
//
// Package: parfor
// File: parfor.go
// Function: Partitions an integer range across pool workers using static or
//            dynamic chunking, with a stateful per-worker reduction variant.
//
// Design Pattern:
//   ChunkedRange is a lazy partition descriptor (spec.md §4.3); ParallelFor
//   submits work to a taskset.TaskSet built over the caller-supplied pool.
//   Static mode pre-computes each worker's [s, e) sub-range with a ceil/floor
//   split; Auto mode has every launched closure fetch-and-add a shared chunk
//   index until the range is exhausted.
//
// Concurrency Control:
//   - Auto mode's shared index is an atomic int64 local captured by the
//     launched closures, so it stays valid whether or not the caller waits
//     (Go's escape analysis moves it to the heap in both cases).
//
// Numeric Semantics:
//   - Chunk size math avoids overflow for ranges approaching the index
//     type's maximum by computing size := end - start once and dividing it
//     (signed int64 division); the hot loop tests cur >= end rather than
//     cur+chunk > end so it tolerates a chunk computation that saturates.
// ============================================================================

package parfor

import (
	"sync/atomic"

	"github.com/ChuLiYu/taskrunner/internal/pooltls"
	"github.com/ChuLiYu/taskrunner/pool"
	"github.com/ChuLiYu/taskrunner/taskset"
)

// ChunkMode selects how a ChunkedRange divides its span among workers.
type ChunkMode int

const (
	// Auto dynamically hands out ~16*workerCount chunks via fetch-and-add.
	Auto ChunkMode = iota
	// Static assigns exactly one contiguous sub-range per launched task.
	Static
	// Explicit uses a caller-supplied fixed chunk size.
	Explicit
)

// ChunkedRange is the lazy partition of [Start, End) described in spec.md
// §4.3.
type ChunkedRange struct {
	Start, End int64
	Mode       ChunkMode
	ChunkSize  int64 // only consulted when Mode == Explicit
}

// NewRange constructs an Auto-chunked range over [start, end).
func NewRange(start, end int64) ChunkedRange {
	return ChunkedRange{Start: start, End: end, Mode: Auto}
}

// Options configures a ParallelFor call, mirroring spec.md §6's
// ParForOptions/ForEachOptions.
type Options struct {
	// MaxThreads caps the number of launched tasks; 0 forces fully serial
	// execution on the calling goroutine.
	MaxThreads int
	// Wait, when true (the default), blocks until every sub-range has run;
	// when false the caller must externally join via the returned TaskSet.
	Wait bool
}

// DefaultOptions returns an Options with Wait: true and no thread cap.
func DefaultOptions() Options {
	return Options{MaxThreads: -1, Wait: true}
}

// poolIdentityKey is used only to ask pooltls whether the calling goroutine
// is already executing inside p.
func poolIdentityKey(p *pool.Pool) uintptr { return p.Key() }

// ParallelFor runs body(i) for every i in r, partitioning the range across
// p's workers. Returns the taskset.TaskSet used, so a non-waiting caller can
// join later. Empty or reversed ranges never invoke body.
func ParallelFor(p *pool.Pool, r ChunkedRange, opts Options, body func(i int64)) *taskset.TaskSet {
	return parallelForImpl(p, r, opts, func(i int64, _ interface{}) { body(i) }, nil)
}

// ParallelForState is the stateful variant of spec.md §4.3: newState is
// called once per launched task (plus once more for the caller if it
// participates inline), and body receives that task's private state
// instance by reference, passed back to the caller via the returned slice
// for reduction once every sub-range has completed.
func ParallelForState[S any](
	p *pool.Pool,
	r ChunkedRange,
	opts Options,
	newState func() S,
	body func(i int64, state *S),
) []*S {
	var states []*S
	var statesMu chanMutex
	statesMu.init()

	ts := parallelForImpl(p, r, opts, func(i int64, raw interface{}) {
		body(i, raw.(*S))
	}, func() interface{} {
		// Each per-task state is individually heap-allocated so the
		// pointer handed to body() stays valid even as the states slice
		// below grows and reallocates its backing array.
		s := newState()
		statesMu.lock()
		states = append(states, &s)
		statesMu.unlock()
		return &s
	})
	if opts.Wait {
		ts.Wait()
	}
	return states
}

// chanMutex is a minimal channel-based mutex, used here only to guard
// appends to the states slice from multiple launched goroutines; a
// sync.Mutex would do identically, this mirrors the lightweight primitive
// style used elsewhere for simple mutual exclusion.
type chanMutex struct{ ch chan struct{} }

func (m *chanMutex) init()   { m.ch = make(chan struct{}, 1); m.ch <- struct{}{} }
func (m *chanMutex) lock()   { <-m.ch }
func (m *chanMutex) unlock() { m.ch <- struct{}{} }

func parallelForImpl(
	p *pool.Pool,
	r ChunkedRange,
	opts Options,
	body func(i int64, state interface{}),
	newState func() interface{},
) *taskset.TaskSet {
	ts := taskset.New(p)

	if r.Start >= r.End {
		return ts // empty or reversed range: no-op
	}

	recursive := pooltls.IsRecursive(poolIdentityKey(p))
	if recursive || opts.MaxThreads == 0 {
		// Inline: recursion detected, or the caller asked for serial
		// execution. Running the whole range on the calling goroutine with
		// no new tasks avoids exhausting the pool on recursive parallel-for.
		var state interface{}
		if newState != nil {
			state = newState()
		}
		for i := r.Start; i < r.End; i++ {
			body(i, state)
		}
		return ts
	}

	rangeSize := r.End - r.Start
	maxThreads := opts.MaxThreads
	if maxThreads < 0 {
		maxThreads = p.NumThreads()
	}
	numTasks := min64(int64(p.NumThreads()), int64(maxThreads), rangeSize)
	if numTasks < 1 {
		numTasks = 1
	}

	switch r.Mode {
	case Static:
		runStatic(ts, r, numTasks, opts.Wait, body, newState)
	case Explicit:
		runExplicitChunks(ts, r, opts, body, newState)
	default:
		runAuto(ts, r, numTasks, opts.Wait, body, newState)
	}

	if opts.Wait {
		ts.Wait()
	}
	return ts
}

func min64(a, b, c int64) int64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// runStatic assigns each of numTasks launched closures a contiguous,
// pre-computed sub-range: the first (size % numTasks) tasks get ceil(size /
// numTasks) items, the rest get floor(size / numTasks).
func runStatic(ts *taskset.TaskSet, r ChunkedRange, numTasks int64, wait bool, body func(int64, interface{}), newState func() interface{}) {
	size := r.End - r.Start
	base := size / numTasks
	rem := size % numTasks // first `rem` tasks get base+1 (ceil split)

	cur := r.Start
	var lastStart, lastEnd int64
	for t := int64(0); t < numTasks; t++ {
		chunk := base
		if t < rem {
			chunk++
		}
		s, e := cur, cur+chunk
		cur = e

		if t == numTasks-1 && wait {
			// The calling goroutine participates by running the last
			// sub-range inline instead of queuing it.
			lastStart, lastEnd = s, e
			continue
		}
		ts.Schedule(func() {
			var state interface{}
			if newState != nil {
				state = newState()
			}
			for i := s; i < e; i++ {
				body(i, state)
			}
		})
	}
	if wait {
		var state interface{}
		if newState != nil {
			state = newState()
		}
		for i := lastStart; i < lastEnd; i++ {
			body(i, state)
		}
	}
}

// runAuto submits numTasks (or numTasks-1, if the caller will participate)
// identical closures that each fetch-and-add a chunk out of a shared index
// until the range is exhausted.
func runAuto(ts *taskset.TaskSet, r ChunkedRange, numTasks int64, wait bool, body func(int64, interface{}), newState func() interface{}) {
	chunk := chunkSizeFor(r, numTasks)

	var idx atomic.Int64
	idx.Store(r.Start)
	end := r.End

	worker := func() {
		var state interface{}
		if newState != nil {
			state = newState()
		}
		for {
			s := idx.Add(chunk) - chunk
			if s >= end {
				return
			}
			e := s + chunk
			if e > end {
				e = end
			}
			for i := s; i < e; i++ {
				body(i, state)
			}
		}
	}

	launch := numTasks
	if wait {
		launch--
	}
	for t := int64(0); t < launch; t++ {
		ts.Schedule(worker)
	}
	if wait {
		worker()
	}
}

func runExplicitChunks(ts *taskset.TaskSet, r ChunkedRange, opts Options, body func(int64, interface{}), newState func() interface{}) {
	chunk := r.ChunkSize
	if chunk <= 0 {
		chunk = 1
	}
	numTasks := (r.End - r.Start + chunk - 1) / chunk
	var idx atomic.Int64
	idx.Store(r.Start)
	end := r.End

	worker := func() {
		var state interface{}
		if newState != nil {
			state = newState()
		}
		for {
			s := idx.Add(chunk) - chunk
			if s >= end {
				return
			}
			e := s + chunk
			if e > end {
				e = end
			}
			for i := s; i < e; i++ {
				body(i, state)
			}
		}
	}

	launch := numTasks
	if opts.Wait {
		launch--
	}
	for t := int64(0); t < launch; t++ {
		ts.Schedule(worker)
	}
	if opts.Wait {
		worker()
	}
}

// ForEachN runs f(items[i]) for each of the first n items, partitioned
// across p's workers with the same chunking and recursion-guard behavior as
// ParallelFor. The slice-oriented analogue of dispenso's for_each_n
// (for_each.h), specialized to index into a concrete slice instead of an
// arbitrary iterator since Go has no generic iterator-advance primitive.
func ForEachN[T any](p *pool.Pool, items []T, n int, opts Options, f func(item T)) *taskset.TaskSet {
	if n > len(items) {
		n = len(items)
	}
	return ParallelFor(p, NewRange(0, int64(n)), opts, func(i int64) {
		f(items[i])
	})
}

// ForEach runs f(item) for every item in items, partitioned across p's
// workers; the slice-oriented analogue of dispenso's for_each.
func ForEach[T any](p *pool.Pool, items []T, opts Options, f func(item T)) *taskset.TaskSet {
	return ForEachN(p, items, len(items), opts, f)
}

// chunkSizeFor computes Auto mode's dynamic chunk size: the range is
// divided into roughly 16 chunks per launched task, floor-bounded at 1.
func chunkSizeFor(r ChunkedRange, numTasks int64) int64 {
	const chunksPerTask = 16
	size := r.End - r.Start
	denom := numTasks * chunksPerTask
	if denom <= 0 {
		denom = 1
	}
	chunk := size / denom
	if chunk < 1 {
		chunk = 1
	}
	return chunk
}
