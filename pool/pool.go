// ============================================================================
// Thread pool - recursion-aware concurrent task executor
// ============================================================================
//
// Package: pool
// File: pool.go
// Function: Manages a fixed (resizable) set of worker goroutines draining a
//            shared queue of once-callables, with load-factor based inline
//            execution to avoid deadlock when a pool task recursively
//            schedules more work on the same pool.
//
// Design Pattern:
//   Worker Pool, generalized with recursion-aware self-steal:
//   1. A set of long-lived worker goroutines repeatedly dequeue and invoke
//      once-callables from a shared channel.
//   2. Schedule() may run the callable on the calling goroutine instead of
//      queuing it, when the pool looks saturated - this is what lets a pool
//      task that schedules more work and then waits for it avoid deadlocking
//      against a fully-busy worker set.
//   3. workRemaining is the single source of truth for "is there still
//      in-flight work"; Close() blocks until it reaches zero.
//
// Architecture Components:
//   ┌───────────┐   Schedule()/ScheduleForceQueuing()    ┌────────┐
//   │  caller   │ ───────────────────────────────────▶  │ queue  │
//   └───────────┘  (or: run inline under load)           └───┬────┘
//                                                              │
//                                      ┌───────────────────────┘
//                                      ▼
//                            ┌───────────────────┐
//                            │ worker goroutines │  (N, resizable)
//                            └───────────────────┘
//
// Concurrency Control:
//   - queue: buffered channel, natively MPMC
//   - workRemaining / numThreads: atomic counters
//   - resizeMu: serializes Resize against itself (spec.md §3 invariant c)
//   - pooltls: per-goroutine recursion-depth registry, see internal/pooltls
//
// Error Handling:
//   - Scheduling onto a closed pool is a contract violation (spec.md §7
//     category 3) and panics, it is not a recoverable error.
// ============================================================================

package pool

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/ChuLiYu/taskrunner/internal/pooltls"
)

var log = slog.Default()

// defaultLoadMultiplier is dispenso's default poolLoadMultiplier: a pool of
// n threads tolerates roughly 32n outstanding callables before an external
// (non-recursive) Schedule call falls back to running inline.
const defaultLoadMultiplier = 32

// ForceQueuingTag is a marker type naming the enqueue-only mode that
// ScheduleForceQueuing provides: no inline-execution fallback, the callable
// is always enqueued. Useful when the caller must not grow its own stack
// (recursion bound). Schedule itself does not accept it as an argument.
type ForceQueuingTag struct{}

// ForceQueuing is the canonical ForceQueuingTag value.
var ForceQueuing = ForceQueuingTag{}

type worker struct {
	id      int
	running atomic.Bool
	done    chan struct{}
}

// Pool is the thread pool described in spec.md §3/§4.1.
type Pool struct {
	mu             sync.Mutex // protects workers slice
	resizeMu       sync.Mutex // serializes Resize against itself
	workers        []*worker
	queue          chan func()
	workRemaining  atomic.Int64
	numThreads     atomic.Int64
	loadMultiplier int64
	closed         atomic.Bool
}

// New creates a thread pool with n worker goroutines and the default queue
// capacity and load multiplier (32). A pool of size zero is valid: every
// task passed to Schedule then runs inline on the submitting goroutine,
// while ScheduleForceQueuing still enqueues (the task runs when taken via
// Take, or when Close drains the queue).
func New(n int) *Pool {
	return NewWithOptions(n, 4096, defaultLoadMultiplier)
}

// NewWithOptions creates a thread pool with an explicit queue capacity and
// load multiplier (spec.md §4.1's poolLoadMultiplier).
func NewWithOptions(n, queueCapacity int, loadMultiplier int64) *Pool {
	if loadMultiplier <= 0 {
		loadMultiplier = defaultLoadMultiplier
	}
	p := &Pool{
		queue:          make(chan func(), queueCapacity),
		loadMultiplier: loadMultiplier,
	}
	p.Resize(n)
	return p
}

// key returns the identity used to register this pool with the per-goroutine
// recursion registry.
func (p *Pool) key() uintptr {
	return uintptr(unsafe.Pointer(p))
}

// Key exposes the pool's recursion-registry identity for callers outside
// this package (taskset, parfor, graph) that need to ask pooltls whether the
// calling goroutine is already executing inside this specific pool.
func (p *Pool) Key() uintptr {
	return p.key()
}

// ExposedQueue returns the pool's shared callable queue. It exists so that
// taskset.TaskSet can "steal" work while waiting instead of blocking idle;
// dispenso exposes a private producer-token deque for this, Go's MPMC
// channel plays the same role without a separate type.
func (p *Pool) ExposedQueue() chan func() {
	return p.queue
}

// Take attempts to dequeue and run one callable without blocking, crediting
// workRemaining the same way a worker goroutine would. It reports whether a
// callable was found and run.
func (p *Pool) Take() bool {
	select {
	case f, ok := <-p.queue:
		if !ok {
			return false
		}
		p.runOne(f)
		return true
	default:
		return false
	}
}

// NumThreads returns the current number of worker goroutines backing the
// pool. If called concurrently with Resize the value may be stale.
func (p *Pool) NumThreads() int {
	return int(p.numThreads.Load())
}

// Schedule enqueues f, or — if the pool's load factor indicates it is
// saturated — runs it inline on the calling goroutine. See spec.md §4.1.
func (p *Pool) Schedule(f func()) {
	p.schedule(f, false)
}

// ScheduleForceQueuing always enqueues f, regardless of load factor.
func (p *Pool) ScheduleForceQueuing(f func()) {
	p.schedule(f, true)
}

func (p *Pool) schedule(f func(), forceQueue bool) {
	if p.closed.Load() {
		panic("pool: Schedule called on a closed pool")
	}
	n := p.numThreads.Load()
	if n == 0 && !forceQueue {
		// Boundary behavior (spec.md §8): a pool of size zero runs every
		// non-force-queued task on the submitting goroutine.
		f()
		return
	}
	if !forceQueue {
		wr := p.workRemaining.Load()
		if pooltls.IsRecursive(p.key()) {
			quickLoadFactor := n + n/2 // 1.5x
			if wr > quickLoadFactor {
				f()
				return
			}
		} else if wr > p.loadMultiplier*n {
			f()
			return
		}
	}
	p.workRemaining.Add(1)
	p.queue <- f
}

// Resize grows or shrinks the worker set to n goroutines. Must not be
// called concurrently with itself.
func (p *Pool) Resize(n int) {
	p.resizeMu.Lock()
	defer p.resizeMu.Unlock()

	p.mu.Lock()
	current := len(p.workers)
	p.mu.Unlock()

	if n == current {
		return
	}

	if n > current {
		for i := current; i < n; i++ {
			w := &worker{id: i, done: make(chan struct{})}
			w.running.Store(true)
			p.mu.Lock()
			p.workers = append(p.workers, w)
			p.mu.Unlock()
			go p.runWorker(w)
		}
		p.numThreads.Add(int64(n - current))
		log.Debug("pool resized up", "from", current, "to", n)
		return
	}

	// Shrinking: signal the trailing workers to stop, then join them.
	p.mu.Lock()
	toStop := append([]*worker(nil), p.workers[n:]...)
	p.workers = p.workers[:n]
	p.mu.Unlock()

	for _, w := range toStop {
		w.running.Store(false)
	}
	for _, w := range toStop {
		<-w.done
	}
	p.numThreads.Add(-int64(len(toStop)))
	log.Debug("pool resized down", "from", current, "to", n)
}

// runWorker is the worker goroutine's main loop: when the queue looks empty
// it backs off by yielding (runtime.Gosched) for the first 65 empty polls,
// then sleeping 100µs per poll, exiting only once
// its running flag has been cleared *and* no work remains anywhere in the
// pool (spec.md §4.1's "this ordering matters" note).
func (p *Pool) runWorker(w *worker) {
	defer close(w.done)
	defer pooltls.Forget()

	const spinLimit = 64
	spins := 0

	for {
		select {
		case f, ok := <-p.queue:
			if !ok {
				return
			}
			p.runOne(f)
			spins = 0
			continue
		default:
		}

		if !w.running.Load() && p.workRemaining.Load() == 0 {
			return
		}

		switch {
		case spins < spinLimit:
			runtime.Gosched()
			spins++
		case spins < spinLimit+1:
			runtime.Gosched()
			spins++
		default:
			time.Sleep(100 * time.Microsecond)
		}
	}
}

func (p *Pool) runOne(f func()) {
	leave := pooltls.Enter(p.key())
	defer leave()
	defer p.workRemaining.Add(-1)
	f()
}

// Close signals every worker to stop accepting new iterations of their
// loop, drains whatever work remains (workers keep dequeuing until
// workRemaining reaches zero even after their running flag clears), and
// blocks until all worker goroutines have exited; anything still queued
// after that (a zero-sized pool has no workers) is run on the calling
// goroutine. After Close returns, no
// previously-scheduled task is still pending or running (spec.md §8's pool
// drain invariant). Scheduling onto a closed pool panics.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.mu.Lock()
	workers := append([]*worker(nil), p.workers...)
	p.mu.Unlock()

	for _, w := range workers {
		w.running.Store(false)
	}
	for _, w := range workers {
		<-w.done
	}
	for p.Take() {
	}
}

var (
	globalOnce sync.Once
	global     *Pool
)

// Global returns the process-wide thread pool, lazily initialized on first
// call and intentionally never closed (spec.md §9: global state is a
// deliberately-leaked singleton to avoid destruction-order hazards).
func Global() *Pool {
	globalOnce.Do(func() {
		global = New(runtime.GOMAXPROCS(0))
	})
	return global
}

// ResizeGlobal resizes the process-wide thread pool.
func ResizeGlobal(n int) {
	Global().Resize(n)
}
