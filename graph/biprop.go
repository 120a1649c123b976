// ============================================================================
// Bidirectional propagation and forward propagation
// ============================================================================
//
// Package: graph
// File: biprop.go
// Function: BiPropDependsOn unions nodes into shared propagation groups;
//            ForwardPropagator cascades incompleteness to descendants;
//            PropagateIncompleteState additionally closes over propagation
//            groups so that invalidating one member invalidates every
//            sibling (spec.md §4.5).
// ============================================================================

package graph

// SetIncomplete manually marks n incomplete, the entry point a caller uses
// before running ForwardPropagator/PropagateIncompleteState to express "this
// input changed, re-run everything downstream of it". No-op if n was
// already incomplete.
func (n *Node) SetIncomplete() {
	n.setIncomplete()
}

// BiPropDependsOn both records a normal dependency (like DependsOn) and
// unions n with each of preds into a shared propagation group: from then on,
// marking any group member incomplete (directly or via propagation)
// eventually marks every member incomplete too.
func (n *Node) BiPropDependsOn(preds ...*Node) {
	n.DependsOn(preds...)
	for _, p := range preds {
		unionGroups(n, p)
	}
}

// BiPropLink unions a and b into the same propagation group without
// introducing an execution dependency between them — for siblings that
// share state but have no direct dependsOn edge.
func BiPropLink(a, b *Node) {
	unionGroups(a, b)
}

func unionGroups(a, b *Node) {
	switch {
	case a.group == nil && b.group == nil:
		g := &propagationGroup{members: []*Node{a, b}}
		a.group, b.group = g, g
	case a.group == nil:
		b.group.members = append(b.group.members, a)
		a.group = b.group
	case b.group == nil:
		a.group.members = append(a.group.members, b)
		b.group = a.group
	case a.group != b.group:
		merged := append(append([]*Node(nil), a.group.members...), b.group.members...)
		newGroup := &propagationGroup{members: merged}
		for _, m := range merged {
			m.group = newGroup
		}
	}
}

// cascade runs the forward-propagation BFS from seeds: every dependent of a
// processed node gets its incomplete-predecessor count bumped (Store(1) if
// it was completed, else Add(1)), and is itself enqueued only the first time
// it transitions away from completed.
func cascade(seeds []*Node) {
	if len(seeds) == 0 {
		return
	}
	visited := make(map[*Node]bool, len(seeds))
	queue := append([]*Node(nil), seeds...)
	for _, s := range seeds {
		visited[s] = true
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, d := range n.dependents {
			wasCompleted := d.IsCompleted()
			if wasCompleted {
				d.numIncompletePredecessors.Store(1)
			} else {
				d.numIncompletePredecessors.Add(1)
			}
			if wasCompleted && !visited[d] {
				visited[d] = true
				queue = append(queue, d)
			}
		}
	}
}

// ForwardPropagator transitively adds an incomplete-predecessor count to
// every node reachable (via dependent edges) from any currently-incomplete
// node in g. This is how "I changed this input, re-run everything
// downstream" is expressed when no propagation groups are involved.
func ForwardPropagator(g *Graph) {
	var seeds []*Node
	for _, n := range g.Nodes() {
		if !n.IsCompleted() {
			seeds = append(seeds, n)
		}
	}
	cascade(seeds)
}

// PropagateIncompleteState runs ForwardPropagator and then closes the result
// over propagation groups: every group touched by an incomplete node has
// every member marked incomplete, and each newly-incomplete member's own
// dependents are cascaded forward in turn, repeating until no further group
// is touched. After this call, for any two nodes A, B in the same
// propagation group, A.IsCompleted() == B.IsCompleted() (spec.md §8's
// bidirectional propagation closure invariant).
func PropagateIncompleteState(g *Graph) {
	ForwardPropagator(g)

	seenGroups := make(map[*propagationGroup]bool)
	for {
		var groupSeeds []*Node
		for _, n := range g.Nodes() {
			if n.IsCompleted() || n.group == nil || seenGroups[n.group] {
				continue
			}
			seenGroups[n.group] = true
			for _, m := range n.group.members {
				if m.setIncomplete() {
					groupSeeds = append(groupSeeds, m)
				}
			}
		}
		if len(groupSeeds) == 0 {
			return
		}
		cascade(groupSeeds)
	}
}
