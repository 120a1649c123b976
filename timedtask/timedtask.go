// ============================================================================
// Timed-task scheduler
// ============================================================================
//
// Package: timedtask
// File: timedtask.go
// Function: A single driver goroutine pops a min-heap of deadlines and
//            dispatches expired tasks through an arbitrary invoker
//            (spec.md §3/§4.6).
//
// Design Pattern:
//   TimedTask holds its own shared state (next run time, period, cancelled/
//   detached flags); the Scheduler only orders tasks by deadline and wakes
//   on whichever is soonest. A task scheduled with delay <= 0 is still
//   pushed onto the heap with deadline = now rather than run synchronously
//   on the caller's goroutine — the resolution adopted for the spec's open
//   question on zero-delay scheduling (see DESIGN.md).
// ============================================================================

package timedtask

import (
	"container/heap"
	"sync"
	"time"
)

// Invoker dispatches a functor; *pool.Pool, future.ImmediateInvoker, and
// future.NewThreadInvoker all satisfy this shape.
type Invoker interface {
	Schedule(f func())
}

// TimedTask is the shared state of one scheduled (possibly repeating) call.
type TimedTask struct {
	mu         sync.Mutex
	nextRun    time.Time
	period     time.Duration
	timesToRun int // -1 means unbounded
	ran        int
	cancelled  bool
	detached   bool
	inProgress bool
	fn         func() bool // false stops repetition
	invoker    Invoker
	index      int // heap index, maintained by container/heap
}

// Cancel prevents any future invocation of the task. A call already
// in-progress runs to completion.
func (t *TimedTask) Cancel() {
	t.mu.Lock()
	t.cancelled = true
	t.mu.Unlock()
}

// Detach releases the caller's interest in explicitly cancelling the task;
// it continues running on its configured schedule until it cancels itself
// (by returning false) or is cancelled by another holder.
func (t *TimedTask) Detach() {
	t.mu.Lock()
	t.detached = true
	t.mu.Unlock()
}

type taskHeap []*TimedTask

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].nextRun.Before(h[j].nextRun) }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *taskHeap) Push(x interface{}) {
	t := x.(*TimedTask)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Scheduler drives a min-heap of TimedTasks from a single background
// goroutine.
type Scheduler struct {
	mu     sync.Mutex
	cond   *sync.Cond
	heap   taskHeap
	closed bool
}

// NewScheduler starts a Scheduler's driver goroutine.
func NewScheduler() *Scheduler {
	s := &Scheduler{}
	s.cond = sync.NewCond(&s.mu)
	go s.driverLoop()
	return s
}

// Schedule arranges for fn to run on invoker after delay, repeating every
// period while fn returns true, up to timesToRun repetitions (-1 for
// unbounded). delay <= 0 still goes through the driver goroutine rather than
// running inline.
func (s *Scheduler) Schedule(invoker Invoker, delay, period time.Duration, timesToRun int, fn func() bool) *TimedTask {
	if delay < 0 {
		delay = 0
	}
	t := &TimedTask{
		nextRun:    time.Now().Add(delay),
		period:     period,
		timesToRun: timesToRun,
		fn:         fn,
		invoker:    invoker,
	}
	s.mu.Lock()
	heap.Push(&s.heap, t)
	s.mu.Unlock()
	s.cond.Broadcast()
	return t
}

func (s *Scheduler) driverLoop() {
	for {
		s.mu.Lock()
		for !s.closed && s.heap.Len() == 0 {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		next := s.heap[0]
		wait := time.Until(next.nextRun)
		if wait > 0 {
			s.mu.Unlock()
			s.sleepOrWake(wait)
			continue
		}
		heap.Pop(&s.heap)
		s.mu.Unlock()

		s.dispatch(next)
	}
}

// sleepOrWake blocks for d unless the scheduler's condition is signaled
// sooner (e.g. a new, earlier-deadline task was just scheduled).
func (s *Scheduler) sleepOrWake(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	woken := make(chan struct{})
	go func() {
		s.mu.Lock()
		s.cond.Wait()
		s.mu.Unlock()
		close(woken)
	}()
	select {
	case <-timer.C:
	case <-woken:
	}
}

func (s *Scheduler) dispatch(t *TimedTask) {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.inProgress = true
	t.mu.Unlock()

	t.invoker.Schedule(func() {
		keepGoing := t.fn()

		t.mu.Lock()
		t.inProgress = false
		t.ran++
		cancelled := t.cancelled
		boundedDone := t.timesToRun >= 0 && t.ran >= t.timesToRun
		t.nextRun = t.nextRun.Add(t.period)
		t.mu.Unlock()

		if !keepGoing || cancelled || boundedDone {
			return
		}
		s.mu.Lock()
		heap.Push(&s.heap, t)
		s.mu.Unlock()
		s.cond.Broadcast()
	})
}

// Close stops the driver goroutine. Already-dispatched invocations complete
// normally; nothing still on the heap runs.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

var (
	globalOnce sync.Once
	global     *Scheduler
)

// Global returns the process-wide timed-task scheduler, lazily initialized
// and intentionally never closed (spec.md §9).
func Global() *Scheduler {
	globalOnce.Do(func() {
		global = NewScheduler()
	})
	return global
}
