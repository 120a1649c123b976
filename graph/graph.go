// ============================================================================
// Dependency graph - nodes, subgraphs, completion bookkeeping
// ============================================================================
//
// Package: graph
// File: graph.go
// Function: A DAG of deferred callables supporting partial re-evaluation:
//            mark some nodes incomplete, propagate incompleteness to
//            everything downstream, then re-run only what's affected.
//
// Design Pattern:
//   Each Node tracks an atomic numIncompletePredecessors counter. Zero means
//   "ready to run"; a distinguished sentinel (completedSentinel, outside the
//   valid range of predecessor counts) means "already executed". Edges are
//   stored as forward pointers on the predecessor (its dependents list) and
//   as a count on the dependent (numPredecessors) — exactly the data model
//   in spec.md §3.
//
// Concurrency Control:
//   - numIncompletePredecessors: atomic int64, release on the transition to
//     completedSentinel so a dependent observing its last predecessor finish
//     via acquire sees that predecessor's effects (spec.md §5).
// ============================================================================

package graph

import "sync/atomic"

// completedSentinel is the distinguished "already executed" value for
// numIncompletePredecessors, chosen outside the valid range of predecessor
// counts (spec.md GLOSSARY: Completion-sentinel).
const completedSentinel = int64(1<<63 - 1)

// Node is a single unit of work in a Graph.
type Node struct {
	fn                       func()
	numIncompletePredecessors atomic.Int64
	numPredecessors           int64
	dependents                []*Node
	group                     *propagationGroup // nil unless joined via BiPropDependsOn or BiPropLink
}

// propagationGroup is the shared equivalence class of spec.md §3/§4.5:
// nodes unioned together via BiPropDependsOn propagate incompleteness to
// every member.
type propagationGroup struct {
	members []*Node
}

func newNode(fn func()) *Node {
	n := &Node{fn: fn}
	n.numIncompletePredecessors.Store(completedSentinel)
	return n
}

// DependsOn records that n must run after each of preds. It appends n to
// each predecessor's dependents list and increments n's predecessor count.
// Must be called before any execution; introducing a cycle is a contract
// violation (undefined behavior, not checked at runtime here — spec.md §7
// category 3 and §9's precondition on the builder).
func (n *Node) DependsOn(preds ...*Node) {
	for _, p := range preds {
		p.dependents = append(p.dependents, n)
		n.numPredecessors++
	}
}

// IsCompleted reports whether this node's counter currently holds the
// completed sentinel.
func (n *Node) IsCompleted() bool {
	return n.numIncompletePredecessors.Load() == completedSentinel
}

// setIncomplete zeros the counter iff it currently holds the completed
// sentinel, per spec.md §4.5's ForwardPropagator description. Returns
// whether it actually transitioned (i.e. was previously completed).
func (n *Node) setIncomplete() bool {
	return n.numIncompletePredecessors.CompareAndSwap(completedSentinel, 0)
}

// run invokes the node's functor then marks it completed with release
// ordering.
func (n *Node) run() {
	n.fn()
	n.numIncompletePredecessors.Store(completedSentinel)
}

// onPredecessorCompleted decrements the incomplete-predecessor count and
// reports whether this node just became ready to run (count reached zero).
func (n *Node) onPredecessorCompleted() bool {
	return n.numIncompletePredecessors.Add(-1) == 0
}

// Subgraph owns a dense sequence of nodes.
type Subgraph struct {
	nodes []*Node
}

// AddNode creates a new node running fn and appends it to the subgraph.
func (sg *Subgraph) AddNode(fn func()) *Node {
	n := newNode(fn)
	sg.nodes = append(sg.nodes, n)
	return n
}

// Graph owns a sequence of subgraphs; the first is created implicitly as
// the root subgraph.
type Graph struct {
	subgraphs []*Subgraph
}

// NewGraph creates a Graph with its implicit root subgraph.
func NewGraph() *Graph {
	return &Graph{subgraphs: []*Subgraph{{}}}
}

// Root returns the graph's implicit root subgraph.
func (g *Graph) Root() *Subgraph {
	return g.subgraphs[0]
}

// AddSubgraph creates and returns a new subgraph owned by g.
func (g *Graph) AddSubgraph() *Subgraph {
	sg := &Subgraph{}
	g.subgraphs = append(g.subgraphs, sg)
	return sg
}

// AddNode is shorthand for g.Root().AddNode(fn).
func (g *Graph) AddNode(fn func()) *Node {
	return g.Root().AddNode(fn)
}

// Nodes returns every node in every subgraph, in subgraph-then-index order.
func (g *Graph) Nodes() []*Node {
	var all []*Node
	for _, sg := range g.subgraphs {
		all = append(all, sg.nodes...)
	}
	return all
}

// SetAllNodesIncomplete resets numIncompletePredecessors to numPredecessors
// for every node in every subgraph of g. Must precede any re-execution
// (spec.md §4.5).
func SetAllNodesIncomplete(g *Graph) {
	for _, n := range g.Nodes() {
		n.numIncompletePredecessors.Store(n.numPredecessors)
	}
}
