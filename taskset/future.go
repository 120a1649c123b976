package taskset

import "github.com/ChuLiYu/taskrunner/future"

// MarkFutureDone implements future.OutstandingCounter: a future bound to
// this task set calls this after publishing its ready status, giving the
// "task set wait implies future is ready" guarantee (spec.md §4.4).
func (s *TaskSet) MarkFutureDone() {
	s.outstanding.Add(-1)
}

// ScheduleFuture schedules fn on the underlying pool and returns a future
// bound to this task set: Wait() will not return zero-outstanding until the
// future's result has been published. The future is bound to s before fn is
// scheduled (not after), so a synchronous inline run under load can never
// observe an unbound parent and leak the increment below (future.AsyncBound).
func ScheduleFuture[T any](s *TaskSet, fn func() T) future.Future[T] {
	s.outstanding.Add(1)
	return future.AsyncBound(s.p, fn, s)
}
