// ============================================================================
// Graph executors
// ============================================================================
//
// Package: graph
// File: executors.go
// Function: Three strategies for running a graph to completion, all sharing
//            the convention that numIncompletePredecessors == 0 means "ready
//            to execute" and completedSentinel means "already ran".
// ============================================================================

package graph

import (
	"github.com/ChuLiYu/taskrunner/parfor"
	"github.com/ChuLiYu/taskrunner/pool"
	"github.com/ChuLiYu/taskrunner/taskset"
)

func readyNodes(g *Graph) []*Node {
	var ready []*Node
	for _, n := range g.Nodes() {
		if n.numIncompletePredecessors.Load() == 0 {
			ready = append(ready, n)
		}
	}
	return ready
}

// SingleThreadExecutor runs every initially-ready node on the calling
// goroutine, wave by wave: each completion decrements its dependents and
// newly-ready ones are collected into the next wave. Intended for small
// graphs or debugging (spec.md §4.5).
func SingleThreadExecutor(g *Graph) {
	wave := readyNodes(g)
	for len(wave) > 0 {
		var next []*Node
		for _, n := range wave {
			n.run()
			for _, d := range n.dependents {
				if d.onPredecessorCompleted() {
					next = append(next, d)
				}
			}
		}
		wave = next
	}
}

// ParallelForExecutor runs the same wave-by-wave strategy as
// SingleThreadExecutor, but dispatches each wave across p's workers via
// parfor.ParallelFor. Suited to medium graphs with predictable fan-out.
func ParallelForExecutor(g *Graph, p *pool.Pool) {
	wave := readyNodes(g)
	for len(wave) > 0 {
		next := make([][]*Node, len(wave))
		r := parfor.NewRange(0, int64(len(wave)))
		parfor.ParallelFor(p, r, parfor.DefaultOptions(), func(i int64) {
			n := wave[i]
			n.run()
			for _, d := range n.dependents {
				if d.onPredecessorCompleted() {
					next[i] = append(next[i], d)
				}
			}
		})
		var flat []*Node
		for _, ns := range next {
			flat = append(flat, ns...)
		}
		wave = flat
	}
}

// ConcurrentTaskSetExecutor seeds every initially-ready node onto a
// ConcurrentTaskSet; each node's completion closure decrements its
// dependents and schedules any that become ready. Suited to large,
// irregular graphs where a rigid wave structure wastes parallelism.
func ConcurrentTaskSetExecutor(g *Graph, p *pool.Pool) {
	ts := taskset.NewConcurrent(p)

	var runNode func(n *Node)
	runNode = func(n *Node) {
		ts.Schedule(func() {
			n.run()
			for _, d := range n.dependents {
				if d.onPredecessorCompleted() {
					runNode(d)
				}
			}
		})
	}

	for _, n := range readyNodes(g) {
		runNode(n)
	}
	ts.Wait()
}
