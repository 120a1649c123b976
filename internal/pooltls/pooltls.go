// ============================================================================
// Per-pool-per-thread registry
// ============================================================================
//
// Package: internal/pooltls
// Purpose: answer "is the current goroutine already running a task that
//          belongs to pool P, and at what recursion depth" without the
//          caller having to thread a context value through every closure.
//
// Design Pattern:
//   Go has no native thread-local storage. The workers backing a ThreadPool
//   are long-lived goroutines that call user functors directly (no `go`
//   statement in between), so the calling goroutine's identity is stable for
//   the whole lifetime of a scheduled callable, including any further
//   recursive scheduling that callable performs. We extract a goroutine
//   identity from the runtime stack trace (the same technique used by
//   goroutine-local-storage shims such as jtolio/gls and petermattis/goid,
//   neither of which appears in the dependency pack) and key a small map off
//   it, exactly mirroring the "process-wide thread-local state: for each
//   thread, a map... from pool identity to a recursion-depth counter" data
//   model.
//
// Concurrency Control:
//   - registry: plain map keyed by goroutine id, values are *frame, guarded
//     by mu (a one-slot channel used as a mutex)
//   - frame: private to one goroutine once installed; never touched by
//     another goroutine, so no further locking is required on it
// ============================================================================

package pooltls

import (
	"bytes"
	"runtime"
	"strconv"
)

type frame struct {
	depth map[uintptr]int
}

var registry = map[int64]*frame{}

// goroutineID extracts the calling goroutine's numeric id from the runtime
// stack trace header ("goroutine 123 [running]:"). Slow relative to normal
// calls, used only on the scheduling path, never in a hot loop.
func goroutineID() int64 {
	buf := make([]byte, 64)
	for {
		n := runtime.Stack(buf, false)
		if n < len(buf) {
			buf = buf[:n]
			break
		}
		buf = make([]byte, 2*len(buf))
	}
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	idx := bytes.IndexByte(buf, ' ')
	if idx < 0 {
		return -1
	}
	id, err := strconv.ParseInt(string(buf[:idx]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}

// poolKey identifies a pool instance. Callers pass the pool's own address.
type poolKey = uintptr

var mu registryMutex

type registryMutex struct{ inner chan struct{} }

func init() {
	mu.inner = make(chan struct{}, 1)
	mu.inner <- struct{}{}
}

func (m *registryMutex) Lock()   { <-m.inner }
func (m *registryMutex) Unlock() { m.inner <- struct{}{} }

func currentFrame() *frame {
	gid := goroutineID()
	mu.Lock()
	defer mu.Unlock()
	f, ok := registry[gid]
	if !ok {
		f = &frame{depth: make(map[uintptr]int)}
		registry[gid] = f
	}
	return f
}

// Enter records that the calling goroutine has begun executing a callable
// that belongs to pool (identified by its address as a uintptr). It returns
// a function that must be called when the callable finishes, popping the
// recursion depth back down.
func Enter(pool poolKey) (leave func()) {
	f := currentFrame()
	f.depth[pool]++
	return func() {
		f := currentFrame()
		f.depth[pool]--
		if f.depth[pool] <= 0 {
			delete(f.depth, pool)
		}
	}
}

// IsRecursive reports whether the calling goroutine is already running a
// callable belonging to pool, i.e. whether a Schedule call on that pool from
// here would be a recursive submission.
func IsRecursive(pool poolKey) bool {
	gid := goroutineID()
	mu.Lock()
	defer mu.Unlock()
	f, ok := registry[gid]
	if !ok {
		return false
	}
	return f.depth[pool] > 0
}

// Forget drops any bookkeeping for the calling goroutine. Workers call this
// right before exiting so the registry doesn't accumulate stale goroutine
// ids across pool resizes.
func Forget() {
	gid := goroutineID()
	mu.Lock()
	defer mu.Unlock()
	delete(registry, gid)
}
