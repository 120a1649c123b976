// ============================================================================
// Pipeline - staged producer/transform/sink execution
// ============================================================================
//
// Package: pipeline
// File: pipeline.go
// Function: Chains a generator stage through zero or more transform stages
//            into a sink stage, each with an optional concurrency limit,
//            all driven by a single ConcurrentTaskSet (spec.md §3/§4.6).
//
// Design Pattern:
//   Every stage runs as a closure scheduled on a shared taskset.TaskSet. A
//   stage with a concurrency limit is gated by a small buffered channel used
//   as a counting semaphore (the "limit-gated scheduler" of spec.md §4.6);
//   an unlimited stage has no gate at all.
// ============================================================================

package pipeline

import (
	"github.com/ChuLiYu/taskrunner/pool"
	"github.com/ChuLiYu/taskrunner/taskset"
)

// gate is a simple counting semaphore used to cap a stage's concurrency.
type gate struct{ tokens chan struct{} }

func newGate(limit int) *gate {
	if limit <= 0 {
		return nil
	}
	g := &gate{tokens: make(chan struct{}, limit)}
	for i := 0; i < limit; i++ {
		g.tokens <- struct{}{}
	}
	return g
}

func (g *gate) acquire() {
	if g != nil {
		<-g.tokens
	}
}

func (g *gate) release() {
	if g != nil {
		g.tokens <- struct{}{}
	}
}

// Generator produces a stream of values until ok is false.
type Generator[T any] func() (value T, ok bool)

// Transform maps an input to an output; ok false filters the value out.
type Transform[In, Out any] func(in In) (out Out, ok bool)

// Sink consumes a value, with no further output.
type Sink[In any] func(in In)

// Run2 drives gen through its single transform stage and into sink, under
// a single ConcurrentTaskSet on p. Each stage's limit (0 means unlimited)
// bounds how many in-flight items that stage may be processing at once.
// Run2 blocks until every item produced by gen has been pushed through
// every stage.
func Run2[A, B any](
	p *pool.Pool,
	gen Generator[A],
	genLimit int,
	stage Transform[A, B],
	stageLimit int,
	sink Sink[B],
	sinkLimit int,
) {
	ts := taskset.NewConcurrent(p)
	genGate := newGate(genLimit)
	stageGate := newGate(stageLimit)
	sinkGate := newGate(sinkLimit)

	var produce func()
	produce = func() {
		genGate.acquire()
		v, ok := gen()
		genGate.release()
		if !ok {
			return
		}
		ts.Schedule(func() {
			stageGate.acquire()
			out, keep := stage(v)
			stageGate.release()
			if keep {
				ts.Schedule(func() {
					sinkGate.acquire()
					sink(out)
					sinkGate.release()
				})
			}
		})
		ts.Schedule(produce)
	}

	ts.Schedule(produce)
	ts.Wait()
}

// Run is the common case of Run2 with the identity transform, i.e. a plain
// generator/sink pipeline (spec.md §8's round-trip property: "pipeline(gen,
// sink) where gen yields elements and sink appends them yields the same
// multiset as the serial composition").
func Run[T any](p *pool.Pool, gen Generator[T], genLimit int, sink Sink[T], sinkLimit int) {
	Run2[T, T](p, gen, genLimit, func(v T) (T, bool) { return v, true }, 0, sink, sinkLimit)
}

// Stage is one homogeneous transform in a Pipeline's chain: same shape as
// Transform[T, T], named separately to match spec.md's "stage" vocabulary
// for the general N-stage case.
type Stage[T any] Transform[T, T]

// Pipeline chains a generator through an arbitrary number of homogeneous
// stages into a sink, each stage independently concurrency-gated. Run and
// Run2 above are the common zero- and one-transform-stage shorthands; this
// is the general form behind spec.md §2.7/§3's "a pipeline composes stages
// into a chain" for chains of any length, built the same way as Run2: one
// ConcurrentTaskSet, one gate per stage.
type Pipeline[T any] struct {
	p           *pool.Pool
	gen         Generator[T]
	genLimit    int
	stages      []Stage[T]
	stageLimits []int
	sink        Sink[T]
	sinkLimit   int
}

// NewPipeline starts building a Pipeline that pulls from gen, gated to at
// most genLimit in-flight generator calls (0 means unlimited).
func NewPipeline[T any](p *pool.Pool, gen Generator[T], genLimit int) *Pipeline[T] {
	return &Pipeline[T]{p: p, gen: gen, genLimit: genLimit}
}

// AddStage appends a transform stage gated to at most concurrencyLimit
// in-flight items (0 means unlimited), returning the Pipeline for chaining.
func (pl *Pipeline[T]) AddStage(stage Stage[T], concurrencyLimit int) *Pipeline[T] {
	pl.stages = append(pl.stages, stage)
	pl.stageLimits = append(pl.stageLimits, concurrencyLimit)
	return pl
}

// SetSink sets the terminal consumer and its concurrency limit, returning
// the Pipeline for chaining.
func (pl *Pipeline[T]) SetSink(sink Sink[T], concurrencyLimit int) *Pipeline[T] {
	pl.sink = sink
	pl.sinkLimit = concurrencyLimit
	return pl
}

// Run drives every generated item through each stage in order and into the
// sink, under a single ConcurrentTaskSet. It blocks until the generator is
// exhausted and every in-flight item has cleared every stage.
func (pl *Pipeline[T]) Run() {
	ts := taskset.NewConcurrent(pl.p)
	genGate := newGate(pl.genLimit)
	gates := make([]*gate, len(pl.stages))
	for i, lim := range pl.stageLimits {
		gates[i] = newGate(lim)
	}
	sinkGate := newGate(pl.sinkLimit)

	var process func(v T, stageIdx int)
	process = func(v T, stageIdx int) {
		if stageIdx >= len(pl.stages) {
			if pl.sink != nil {
				sinkGate.acquire()
				pl.sink(v)
				sinkGate.release()
			}
			return
		}
		g := gates[stageIdx]
		g.acquire()
		out, keep := pl.stages[stageIdx](v)
		g.release()
		if keep {
			ts.Schedule(func() { process(out, stageIdx+1) })
		}
	}

	var produce func()
	produce = func() {
		genGate.acquire()
		v, ok := pl.gen()
		genGate.release()
		if !ok {
			return
		}
		ts.Schedule(func() { process(v, 0) })
		ts.Schedule(produce)
	}

	ts.Schedule(produce)
	ts.Wait()
}
