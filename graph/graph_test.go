package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/taskrunner/pool"
)

func buildDiamond(r *[4]int) *Graph {
	g := NewGraph()
	a := g.AddNode(func() { r[0] = 1 })
	b := g.AddNode(func() { r[1] = r[0] * 2 })
	c := g.AddNode(func() { r[2] = r[0] + 5 })
	d := g.AddNode(func() { r[3] = r[1] + r[2] })
	b.DependsOn(a)
	c.DependsOn(a)
	d.DependsOn(b, c)
	return g
}

// ----------------------------------------------------------------------------
// Diamond dependency graph (spec.md §8 scenario 3)
// ----------------------------------------------------------------------------

func TestDiamondGraphSingleThreadExecutor(t *testing.T) {
	var r [4]int
	g := buildDiamond(&r)
	SetAllNodesIncomplete(g) // required before any execution, including the first
	SingleThreadExecutor(g)
	assert.Equal(t, 8, r[3])
}

func TestDiamondGraphParallelForExecutor(t *testing.T) {
	p := pool.New(4)
	defer p.Close()

	var r [4]int
	g := buildDiamond(&r)
	SetAllNodesIncomplete(g)
	ParallelForExecutor(g, p)
	assert.Equal(t, 8, r[3])
}

func TestDiamondGraphConcurrentTaskSetExecutor(t *testing.T) {
	p := pool.New(4)
	defer p.Close()

	var r [4]int
	g := buildDiamond(&r)
	SetAllNodesIncomplete(g)
	ConcurrentTaskSetExecutor(g, p)
	assert.Equal(t, 8, r[3])
}

// ----------------------------------------------------------------------------
// Graph counter invariants
// ----------------------------------------------------------------------------

func TestSetAllNodesIncompleteMatchesPredecessorCount(t *testing.T) {
	var r [4]int
	g := buildDiamond(&r)
	SetAllNodesIncomplete(g)

	nodes := g.Nodes()
	expected := []int64{0, 1, 1, 2}
	for i, n := range nodes {
		assert.Equal(t, expected[i], n.numIncompletePredecessors.Load())
	}
}

func TestCompletenessPostExecution(t *testing.T) {
	var r [4]int
	g := buildDiamond(&r)
	SetAllNodesIncomplete(g)
	SingleThreadExecutor(g)

	for _, n := range g.Nodes() {
		assert.True(t, n.IsCompleted())
	}
}

func TestResetThenExecuteIsIdempotent(t *testing.T) {
	var r [4]int
	g := buildDiamond(&r)
	SetAllNodesIncomplete(g)
	SingleThreadExecutor(g)
	first := r

	SetAllNodesIncomplete(g)
	SingleThreadExecutor(g)
	assert.Equal(t, first, r)
}

// ----------------------------------------------------------------------------
// Partial re-evaluation (spec.md §8 scenario 4)
// ----------------------------------------------------------------------------

func TestPartialReEvaluationChain(t *testing.T) {
	var countA, countB, countC int
	g := NewGraph()
	a := g.AddNode(func() { countA++ })
	b := g.AddNode(func() { countB++ })
	c := g.AddNode(func() { countC++ })
	b.DependsOn(a)
	c.DependsOn(b)

	SetAllNodesIncomplete(g)
	SingleThreadExecutor(g)
	require.Equal(t, 1, countA)
	require.Equal(t, 1, countB)
	require.Equal(t, 1, countC)

	b.SetIncomplete()
	ForwardPropagator(g)
	SingleThreadExecutor(g)

	assert.Equal(t, 1, countA, "A is not downstream of B, must not re-run")
	assert.Equal(t, 2, countB)
	assert.Equal(t, 2, countC)
}

func TestForwardPropagationLeavesUnreachableNodesUntouched(t *testing.T) {
	var ranX, ranY int
	g := NewGraph()
	x := g.AddNode(func() { ranX++ })
	y := g.AddNode(func() { ranY++ }) // independent of x, no edge between them

	SetAllNodesIncomplete(g)
	SingleThreadExecutor(g)
	x.SetIncomplete()
	ForwardPropagator(g)
	SingleThreadExecutor(g)

	assert.Equal(t, 2, ranX)
	assert.Equal(t, 1, ranY, "y shares no edge with x and must not re-run")
}

// ----------------------------------------------------------------------------
// Bidirectional propagation (spec.md §8 scenario 5)
// ----------------------------------------------------------------------------

func TestBidirectionalPropagationClosesGroup(t *testing.T) {
	// A small graph where node 2 depends (normally) on node 4 and
	// bi-prop-depends on node 6, and nodes 0,1,2,3,6 form one propagation
	// group.
	g := NewGraph()
	var ran [7]int
	nodes := make([]*Node, 7)
	for i := range nodes {
		i := i
		nodes[i] = g.AddNode(func() { ran[i]++ })
	}
	n0, n1, n2, n3, n4, n5, n6 := nodes[0], nodes[1], nodes[2], nodes[3], nodes[4], nodes[5], nodes[6]
	_ = n5

	n2.BiPropDependsOn(n6)
	n2.DependsOn(n4)
	BiPropLink(n6, n1)
	BiPropLink(n1, n0)
	BiPropLink(n0, n3)

	SetAllNodesIncomplete(g)
	SingleThreadExecutor(g)
	for _, n := range g.Nodes() {
		require.True(t, n.IsCompleted())
	}

	n4.SetIncomplete()
	PropagateIncompleteState(g)

	for _, n := range []*Node{n2, n6, n0, n1, n3} {
		assert.False(t, n.IsCompleted(), "node must become incomplete via forward or group propagation")
	}
	assert.True(t, n5.IsCompleted(), "n5 shares no group or edge with n4, must stay completed")
}

func TestBidirectionalPropagationClosureInvariant(t *testing.T) {
	// spec.md §8 invariant: for any two nodes in the same propagation group,
	// IsCompleted() must agree after PropagateIncompleteState.
	g := NewGraph()
	a := g.AddNode(func() {})
	b := g.AddNode(func() {})
	c := g.AddNode(func() {})
	BiPropLink(a, b)
	BiPropLink(b, c)

	SetAllNodesIncomplete(g)
	SingleThreadExecutor(g)
	a.SetIncomplete()
	PropagateIncompleteState(g)

	assert.Equal(t, a.IsCompleted(), b.IsCompleted())
	assert.Equal(t, b.IsCompleted(), c.IsCompleted())
	assert.False(t, a.IsCompleted())
}

// ----------------------------------------------------------------------------
// Subgraphs
// ----------------------------------------------------------------------------

func TestSubgraphsAreIncludedInNodes(t *testing.T) {
	g := NewGraph()
	g.AddNode(func() {})
	sg := g.AddSubgraph()
	sg.AddNode(func() {})
	sg.AddNode(func() {})

	assert.Len(t, g.Nodes(), 3)
}
