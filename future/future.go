// ============================================================================
// Future - reference-counted state with a lock-free then-chain
// ============================================================================
//
// Package: future
// File: future.go
// Function: Generic Future[T] with deferred/async launch policies, a
//            CAS-linked continuation chain drained on completion, and
//            when_all over a homogeneous slice or a small fixed arity of
//            heterogeneous futures.
//
// Design Pattern:
//   status transitions not-started -> running -> ready via CAS, so exactly
//   one goroutine (the scheduled worker, or a goroutine calling Wait, Get,
//   WaitFor or WaitUntil before the functor has started) executes the user
//   functor. Continuations registered with Then
//   are pushed at the head of a singly-linked list with a CAS loop; once the
//   future becomes ready, the whole chain is claimed (swapped to nil) and
//   every link dispatched. A link arriving after the swap is dispatched
//   immediately instead of being pushed, handling the push/ready race named
//   in spec.md §4.4.
//
// Concurrency Control:
//   - status: atomic int32, not-started/running/ready
//   - chainHead: atomic.Pointer[link[T]], CAS push, swap-to-nil drain
//   - completion: pool.CompletionEvent, for Wait/Get
// ============================================================================

package future

import (
	"sync/atomic"
	"time"

	"github.com/ChuLiYu/taskrunner/pool"
)

type status int32

const (
	notStarted status = iota
	running
	ready
)

// Schedulable is anything a Future can dispatch its functor or continuations
// onto. *pool.Pool satisfies it.
type Schedulable interface {
	Schedule(f func())
	ScheduleForceQueuing(f func())
}

// ImmediateInvoker runs functors synchronously on whichever goroutine
// triggers them (the dispatching goroutine), the zero-overhead schedulable
// used internally by WhenAll's bookkeeping continuations.
type ImmediateInvoker struct{}

func (ImmediateInvoker) Schedule(f func())             { f() }
func (ImmediateInvoker) ScheduleForceQueuing(f func()) { f() }

// NewThreadInvoker spawns a fresh goroutine per scheduled functor. It exists
// for parity with dispenso's NewThreadInvoker tag; ordinary code should
// prefer a pool.Pool.
type NewThreadInvoker struct{}

func (NewThreadInvoker) Schedule(f func())             { go f() }
func (NewThreadInvoker) ScheduleForceQueuing(f func()) { go f() }

type link[T any] struct {
	run  func(Future[T])
	next atomic.Pointer[link[T]]
}

// outstandingCounter is satisfied by *taskset.TaskSet without importing it
// (avoids a future<->taskset import cycle); a future bound to a task set
// decrements this after publishing ready, giving "task set wait implies
// future is ready" (spec.md §4.4).
type outstandingCounter interface {
	MarkFutureDone()
}

// Future is the reference-counted future state of spec.md §3/§4.4.
// Copying a Future value shares the same underlying state (it is itself a
// thin handle around a pointer), matching the reference-counted semantics
// without requiring manual ref-count bookkeeping in Go's GC'd runtime.
type Future[T any] struct {
	s *state[T]
}

type state[T any] struct {
	st         atomic.Int32
	value      T
	err        any
	hasErr     atomic.Bool
	completion *pool.CompletionEvent
	chainHead  atomic.Pointer[link[T]]
	parent     outstandingCounter
	// fn is the deferred computation, retained (not just closed over by the
	// scheduled call) so that Wait/Get can claim and run it on the calling
	// goroutine if the scheduler hasn't gotten to it yet. nil for futures
	// that start out ready (MakeReadyFuture) and never need to run anything.
	fn func() T
}

func newState[T any]() *state[T] {
	return &state[T]{completion: pool.NewCompletionEvent()}
}

// MakeReadyFuture returns a Future that is immediately ready with value v.
func MakeReadyFuture[T any](v T) Future[T] {
	s := newState[T]()
	s.value = v
	s.st.Store(int32(ready))
	s.completion.Notify()
	return Future[T]{s: s}
}

// Async schedules fn onto sched and returns a Future for its result. This is
// the general construction path described in spec.md §4.4: fn runs exactly
// once, guarded by a CAS transition from not-started to running.
func Async[T any](sched Schedulable, fn func() T) Future[T] {
	s := newState[T]()
	s.fn = fn
	f := Future[T]{s: s}
	s.st.Store(int32(notStarted))
	sched.Schedule(func() { f.run() })
	return f
}

// AsyncForceQueuing is Async but never runs fn inline on the scheduler, the
// analogue of dispenso's async-launch-policy bit.
func AsyncForceQueuing[T any](sched Schedulable, fn func() T) Future[T] {
	s := newState[T]()
	s.fn = fn
	f := Future[T]{s: s}
	s.st.Store(int32(notStarted))
	sched.ScheduleForceQueuing(func() { f.run() })
	return f
}

// AsyncBound is Async but binds parent's outstanding counter on the future's
// state before fn is ever scheduled, rather than after. sched.Schedule may
// run fn synchronously inline under load (pool.Pool does this past its load
// factor), so binding the parent after scheduling would race invoke()'s
// MarkFutureDone check against the caller's own BindTaskSet call on the
// calling goroutine, potentially completing fn and publishing ready with
// f.s.parent still nil — the counter the caller already bumped would then
// never be decremented and a subsequent Wait/TryWait would spin forever.
// Binding before Schedule closes that race. Mirrors dispenso's
// createFutureImpl, which calls setTaskSetCounter before scheduling
// (future_impl.h).
func AsyncBound[T any](sched Schedulable, fn func() T, parent OutstandingCounter) Future[T] {
	s := newState[T]()
	s.fn = fn
	s.parent = parent
	f := Future[T]{s: s}
	s.st.Store(int32(notStarted))
	sched.Schedule(func() { f.run() })
	return f
}

// run claims the not-started -> running transition and, if it wins, executes
// s.fn. A loser (the scheduler already got there, or another waiter already
// claimed it) simply returns: whoever is executing will publish ready and
// wake everyone blocked in Wait.
func (f Future[T]) run() {
	if !f.s.st.CompareAndSwap(int32(notStarted), int32(running)) {
		return
	}
	f.invoke()
}

func (f Future[T]) invoke() {
	defer func() {
		if r := recover(); r != nil {
			f.s.err = r
			f.s.hasErr.Store(true)
		}
		f.s.st.Store(int32(ready))
		f.s.completion.Notify()
		if f.s.parent != nil {
			f.s.parent.MarkFutureDone()
		}
		f.drainChain()
	}()
	f.s.value = f.s.fn()
}

// IsReady reports whether the future's result is available, with acquire
// ordering sufficient that a true result guarantees the value/err fields are
// fully initialized.
func (f Future[T]) IsReady() bool {
	return status(f.s.st.Load()) == ready
}

// Wait blocks until the future is ready. Per spec.md §4.4, wait always
// drives the transition itself rather than only polling: if the deferred
// computation has not yet started, the calling goroutine claims the
// not-started -> running CAS and runs it inline, the same work-stealing
// motivation as TaskSet's Wait/TryWait (§4.1) — without this, a future
// scheduled on a saturated pool with every worker itself blocked on Wait
// could deadlock waiting for a worker that will never free up.
func (f Future[T]) Wait() {
	f.run() // no-op if already running/ready, or if this future has no fn (MakeReadyFuture)
	for !f.IsReady() {
		since := f.s.completion.Value()
		if f.IsReady() {
			return
		}
		f.s.completion.Wait(since)
	}
}

// WaitFor blocks until the future is ready or d elapses, returning true if
// it became ready. It attempts the same self-execution as Wait before
// falling back to a timed wait on the completion event (spec.md §5:
// wait_for/wait_until take deadlines).
func (f Future[T]) WaitFor(d time.Duration) bool {
	return f.waitUntil(time.Now().Add(d))
}

// WaitUntil blocks until the future is ready or the wall-clock deadline
// passes, returning true if it became ready.
func (f Future[T]) WaitUntil(deadline time.Time) bool {
	return f.waitUntil(deadline)
}

func (f Future[T]) waitUntil(deadline time.Time) bool {
	f.run()
	for !f.IsReady() {
		since := f.s.completion.Value()
		if f.IsReady() {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return f.IsReady()
		}
		if !f.s.completion.WaitTimeout(since, remaining) && !f.IsReady() {
			return false
		}
	}
	return true
}

// Get blocks until ready and returns the value, panicking with the captured
// value if fn panicked (spec.md §7: exceptions are stored and rethrown by
// get, never swallowed).
func (f Future[T]) Get() T {
	f.Wait()
	if f.s.hasErr.Load() {
		panic(f.s.err)
	}
	return f.s.value
}

// BindTaskSet associates this future with an outstanding-counter (normally a
// *taskset.TaskSet) so that the counter is decremented only after this
// future's ready status is published — the "task set wait implies future is
// ready" guarantee of spec.md §4.4. The caller is responsible for having
// incremented the counter before binding.
func (f Future[T]) BindTaskSet(c outstandingCounter) {
	f.s.parent = c
}

// OutstandingCounter re-exports outstandingCounter for callers (package
// taskset) that need to implement it without this package exporting its
// internal name directly in two places.
type OutstandingCounter = outstandingCounter

// Then registers a continuation that runs after f becomes ready. If f is
// already ready, fn is dispatched immediately on sched; otherwise the link
// is pushed onto f's chain with a CAS loop and dispatched once f transitions
// to ready.
func Then[T, U any](f Future[T], sched Schedulable, fn func(Future[T]) U) Future[U] {
	out := newState[U]()
	out.fn = func() U { return fn(f) }
	outFut := Future[U]{s: out}

	dispatch := func() {
		sched.Schedule(func() { outFut.run() })
	}

	if f.IsReady() {
		dispatch()
		return outFut
	}

	l := &link[T]{run: func(Future[T]) { dispatch() }}
	for {
		head := f.s.chainHead.Load()
		l.next.Store(head)
		if f.s.chainHead.CompareAndSwap(head, l) {
			break
		}
	}
	// Double-check: f may have become ready between the IsReady check above
	// and the push; drainChain from invoke() claims the whole list with a
	// swap-to-nil, so if that already happened this link would be stranded.
	if f.IsReady() {
		f.drainChain()
	}
	return outFut
}

func (f Future[T]) drainChain() {
	head := f.s.chainHead.Swap(nil)
	for head != nil {
		head.run(f)
		head = head.next.Load()
	}
}
