package pool

import (
	"sync"
	"time"
)

// CompletionEvent is the futex/semaphore-like integer-valued event of
// spec.md §2.2: waiters block until the event's value changes, with an
// optional deadline.
type CompletionEvent struct {
	mu    sync.Mutex
	cond  *sync.Cond
	value int64
}

// NewCompletionEvent creates a CompletionEvent starting at value 0.
func NewCompletionEvent() *CompletionEvent {
	e := &CompletionEvent{}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Notify bumps the event's value and wakes every waiter.
func (e *CompletionEvent) Notify() {
	e.mu.Lock()
	e.value++
	e.mu.Unlock()
	e.cond.Broadcast()
}

// Value returns the current value.
func (e *CompletionEvent) Value() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

// Wait blocks until the event's value differs from since.
func (e *CompletionEvent) Wait(since int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.value == since {
		e.cond.Wait()
	}
}

// WaitTimeout blocks until the event's value differs from since or the
// deadline elapses, returning false on timeout.
func (e *CompletionEvent) WaitTimeout(since int64, d time.Duration) bool {
	timer := time.AfterFunc(d, func() {
		e.cond.Broadcast()
	})
	defer timer.Stop()

	e.mu.Lock()
	defer e.mu.Unlock()
	deadline := time.Now().Add(d)
	for e.value == since {
		if !time.Now().Before(deadline) {
			return false
		}
		e.cond.Wait()
	}
	return true
}
