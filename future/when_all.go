// ============================================================================
// when_all - fan-in over futures
// ============================================================================
//
// Package: future
// File: when_all.go
// Function: Combine a homogeneous slice of futures, or two/three
//            heterogeneous futures, into one future of all their results.
//            Go generics have no variadic type parameters, so the tuple
//            overload of spec.md §4.4 becomes a small fixed family of
//            WhenAll2/WhenAll3 instead of one variadic template.
// ============================================================================

package future

import "sync/atomic"

// WhenAll waits on every future in fs (in order) and returns their values as
// a slice. An empty input produces an immediately-ready future, per
// spec.md §8's boundary behavior.
func WhenAll[T any](sched Schedulable, fs []Future[T]) Future[[]T] {
	if len(fs) == 0 {
		return MakeReadyFuture([]T{})
	}

	out := newState[[]T]()
	out.fn = func() []T {
		vals := make([]T, len(fs))
		for i, f := range fs {
			vals[i] = f.Get()
		}
		return vals
	}
	outFut := Future[[]T]{s: out}

	var remaining atomic.Int64
	remaining.Store(int64(len(fs)))

	complete := func() {
		sched.Schedule(func() { outFut.run() })
	}

	for _, f := range fs {
		f := f
		Then(f, ImmediateInvoker{}, func(Future[T]) struct{} {
			if remaining.Add(-1) == 0 {
				complete()
			}
			return struct{}{}
		})
	}
	return outFut
}

// Pair is the result of WhenAll2.
type Pair[A, B any] struct {
	First  A
	Second B
}

// WhenAll2 is the two-future heterogeneous overload of when_all.
func WhenAll2[A, B any](sched Schedulable, a Future[A], b Future[B]) Future[Pair[A, B]] {
	out := newState[Pair[A, B]]()
	out.fn = func() Pair[A, B] {
		return Pair[A, B]{First: a.Get(), Second: b.Get()}
	}
	outFut := Future[Pair[A, B]]{s: out}

	var remaining atomic.Int64
	remaining.Store(2)

	complete := func() {
		sched.Schedule(func() { outFut.run() })
	}

	Then(a, ImmediateInvoker{}, func(Future[A]) struct{} {
		if remaining.Add(-1) == 0 {
			complete()
		}
		return struct{}{}
	})
	Then(b, ImmediateInvoker{}, func(Future[B]) struct{} {
		if remaining.Add(-1) == 0 {
			complete()
		}
		return struct{}{}
	})
	return outFut
}

// Triple is the result of WhenAll3.
type Triple[A, B, C any] struct {
	First  A
	Second B
	Third  C
}

// WhenAll3 is the three-future heterogeneous overload of when_all.
func WhenAll3[A, B, C any](sched Schedulable, a Future[A], b Future[B], c Future[C]) Future[Triple[A, B, C]] {
	out := newState[Triple[A, B, C]]()
	out.fn = func() Triple[A, B, C] {
		return Triple[A, B, C]{First: a.Get(), Second: b.Get(), Third: c.Get()}
	}
	outFut := Future[Triple[A, B, C]]{s: out}

	var remaining atomic.Int64
	remaining.Store(3)

	complete := func() {
		sched.Schedule(func() { outFut.run() })
	}

	done := func() {
		if remaining.Add(-1) == 0 {
			complete()
		}
	}
	Then(a, ImmediateInvoker{}, func(Future[A]) struct{} { done(); return struct{}{} })
	Then(b, ImmediateInvoker{}, func(Future[B]) struct{} { done(); return struct{}{} })
	Then(c, ImmediateInvoker{}, func(Future[C]) struct{} { done(); return struct{}{} })
	return outFut
}
