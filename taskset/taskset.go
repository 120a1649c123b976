// ============================================================================
// Task sets - completion-tracking wrappers over a thread pool
// ============================================================================
//
// Package: taskset
// File: taskset.go
// Function: Tracks an outstanding-task count over a pool, aggregates the
//            first exception from any scheduled task, and lets a waiter
//            "steal" work from the pool's queue instead of blocking idle.
//
// Design Pattern:
//   Two variants share this file's TaskSet type:
//     - TaskSet: single-producer (spec.md §3's "Task set (single-producer)").
//     - ConcurrentTaskSet: multi-producer, built by setting concurrent=true.
//   Both delegate actual execution to a *pool.Pool; this type only adds the
//   outstanding counter and exception guard around pool.Schedule.
//
// Concurrency Control:
//   - outstanding: atomic int64, release on decrement / acquire on load so
//     that Wait returning implies every scheduled task's effects are visible
//     (spec.md §5 ordering guarantee).
//   - excGuard: tri-state CAS (unset/setting/set) so exactly one exception
//     survives; siblings are discarded, matching spec.md §4.2.
//
// Error Handling:
//   - Wait()/TryWait() rethrow the first captured *TaskError, if any, by
//     panicking with it (Err() returns it without panicking). Calling
//     Wait/TryWait/Schedule concurrently from multiple goroutines on a
//     single-producer TaskSet is a contract violation (undefined behavior),
//     the concurrent variant only relaxes this for Schedule.
// ============================================================================

package taskset

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync/atomic"

	"github.com/ChuLiYu/taskrunner/pool"
)

// TaskError captures a panic recovered from a scheduled callable, the
// runtime analogue of spec.md §7 category 1 ("user code failures").
type TaskError struct {
	Value interface{}
	Stack []byte
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("taskset: task panicked: %v", e.Value)
}

const (
	guardUnset int32 = iota
	guardSetting
	guardSet
)

// TaskSet tracks outstanding work scheduled on a pool. The zero value is not
// usable; construct with New or NewConcurrent.
type TaskSet struct {
	p             *pool.Pool
	outstanding   atomic.Int64
	guard         atomic.Int32
	firstErr      atomic.Pointer[TaskError]
	loadFactor    int64
	concurrent    bool
	// producerBusy enforces the single-producer contract documented above:
	// set only when concurrent is false, it catches overlapping Schedule
	// calls from more than one goroutine at once rather than silently
	// tolerating the race.
	producerBusy atomic.Bool
}

// defaultLoadFactor is dispenso's task-set load factor: once outstanding
// work exceeds 4x the pool's thread count, Schedule runs inline rather than
// queuing, the same deadlock-avoidance trick the pool itself uses.
const defaultLoadFactor = 4

// New creates a single-producer TaskSet bound to p.
func New(p *pool.Pool) *TaskSet {
	return &TaskSet{p: p, loadFactor: defaultLoadFactor}
}

// NewConcurrent creates a multi-producer TaskSet bound to p. Schedule may be
// called from many goroutines concurrently; Wait/TryWait still require a
// single caller.
func NewConcurrent(p *pool.Pool) *TaskSet {
	return &TaskSet{p: p, loadFactor: defaultLoadFactor, concurrent: true}
}

func (s *TaskSet) wrap(f func()) func() {
	return func() {
		defer s.outstanding.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				s.captureException(&TaskError{Value: r, Stack: debug.Stack()})
			}
		}()
		f()
	}
}

func (s *TaskSet) captureException(e *TaskError) {
	if s.guard.CompareAndSwap(guardUnset, guardSetting) {
		s.firstErr.Store(e)
		s.guard.Store(guardSet)
	}
	// else: a sibling already claimed the guard, this exception is discarded.
}

// Schedule increments the outstanding count and schedules f on the
// underlying pool, falling back to inline execution once outstanding work
// exceeds the load factor (4x pool threads). On a single-producer TaskSet
// (constructed with New), overlapping calls from more than one goroutine
// panic instead of racing silently; NewConcurrent's ConcurrentTaskSet lifts
// this restriction entirely.
func (s *TaskSet) Schedule(f func()) {
	if !s.concurrent {
		if !s.producerBusy.CompareAndSwap(false, true) {
			panic("taskset: concurrent Schedule call on a single-producer TaskSet; use NewConcurrent instead")
		}
		defer s.producerBusy.Store(false)
	}
	s.outstanding.Add(1)
	wrapped := s.wrap(f)
	if s.outstanding.Load() > s.loadFactor*int64(s.p.NumThreads()) {
		wrapped()
		return
	}
	s.p.Schedule(wrapped)
}

// ScheduleForceQueuing behaves like Schedule but never runs inline.
func (s *TaskSet) ScheduleForceQueuing(f func()) {
	s.outstanding.Add(1)
	s.p.ScheduleForceQueuing(s.wrap(f))
}

// Wait steals and runs tasks from the pool's queue until this set's
// outstanding count reaches zero, then rethrows (via panic) the first
// captured exception, if any. It never blocks on a condition variable —
// this is what lets it be called safely from a pool worker whose pool is
// saturated (spec.md §5).
func (s *TaskSet) Wait() {
	for s.outstanding.Load() > 0 {
		s.stealOne()
	}
	s.rethrow()
}

// TryWait steals and runs at most max tasks before returning. It reports
// whether the outstanding count has reached zero. Per the resolution of
// spec.md's open question on forward progress, TryWait(0) still makes one
// attempt at stealing (never literally a no-op), so it composes safely with
// non-blocking parallel-for submission loops.
func (s *TaskSet) TryWait(maxToExecute int) bool {
	if maxToExecute <= 0 {
		maxToExecute = 1
	}
	for i := 0; i < maxToExecute && s.outstanding.Load() > 0; i++ {
		s.stealOne()
	}
	done := s.outstanding.Load() == 0
	if done {
		s.rethrow()
	}
	return done
}

// stealOne runs one pending callable from the pool's queue if one is
// available without blocking, otherwise it yields briefly. This "stealing"
// is approximate: Go's pool queue is a plain channel, not an exposed deque,
// so stealing here means draining the shared queue rather than a private
// per-producer deque; it is still non-blocking and still makes progress.
func (s *TaskSet) stealOne() {
	if !s.p.Take() {
		runtime.Gosched()
	}
}

func (s *TaskSet) rethrow() {
	if err := s.firstErr.Load(); err != nil {
		panic(err)
	}
}

// Outstanding returns the current outstanding-task count.
func (s *TaskSet) Outstanding() int64 {
	return s.outstanding.Load()
}

// Err returns the first captured task error, or nil.
func (s *TaskSet) Err() *TaskError {
	return s.firstErr.Load()
}
