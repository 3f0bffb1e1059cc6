package dualtree

// problem is the per-algorithm plug-in driving the dual-tree recursion.
// Implementations own all mutable traversal state (per-point accumulators,
// per-node statistics), indexed by the query tree's node ids; the engine
// owns only the control flow.
type problem interface {
	// prunable decides whether the (qnode, rnode) pair's contribution can
	// be bounded without descending further. On success the implementation
	// applies the resulting correction deltas to qnode's postponed state
	// and returns true; the engine then skips the whole subtree pair.
	// probability is the required guarantee: 1 demands a hard bound,
	// anything lower additionally permits Monte Carlo pruning.
	prunable(qnode, rnode int, probability float64) bool

	// baseCase exhaustively evaluates every query/reference point pair of
	// a (leaf, leaf) node pair.
	baseCase(qnode, rnode int)

	// pushDown flushes qnode's postponed corrections to both children.
	pushDown(qnode int)

	// summarize recomputes qnode's summary statistics from its children
	// after both have been fully visited.
	summarize(qnode int)
}

// dualTreeDFS is the depth-first dual-tree traversal engine. It recursively
// compares (query node, reference node) pairs: each pair is first offered
// to the problem's pruning rule, and only on refusal does the engine expand
// the pair into children, reference children ordered nearest-first so that
// bounds tighten before the farther child is attempted.
//
// The traversal is strictly sequential and runs to completion; numerical
// preconditions must be validated before compute is called.
type dualTreeDFS struct {
	qtree, rtree *Tree
	prob         problem
}

func (d *dualTreeDFS) compute(probability float64) {
	d.canonical(d.qtree.Root(), d.rtree.Root(), probability)
}

func (d *dualTreeDFS) canonical(qnode, rnode int, probability float64) {
	if d.prob.prunable(qnode, rnode, probability) {
		return
	}

	q := d.qtree.Node(qnode)
	r := d.rtree.Node(rnode)

	if q.IsLeaf() {
		if r.IsLeaf() {
			d.prob.baseCase(qnode, rnode)
			return
		}
		first, second := d.nearerRefChild(qnode, r.Left, r.Right)
		d.canonical(qnode, first, probability)
		d.canonical(qnode, second, probability)
		return
	}

	// Non-leaf query node: flush postponed corrections before descending
	// so children see every granted prune.
	d.prob.pushDown(qnode)

	if r.IsLeaf() {
		first, second := d.nearerQueryChild(rnode, q.Left, q.Right)
		d.canonical(first, rnode, probability)
		d.canonical(second, rnode, probability)
	} else {
		first, second := d.nearerRefChild(q.Left, r.Left, r.Right)
		d.canonical(q.Left, first, probability)
		d.canonical(q.Left, second, probability)

		first, second = d.nearerRefChild(q.Right, r.Left, r.Right)
		d.canonical(q.Right, first, probability)
		d.canonical(q.Right, second, probability)
	}

	d.prob.summarize(qnode)
}

// nearerRefChild orders the two reference children by their minimum
// squared distance to qnode's bound, nearer first.
func (d *dualTreeDFS) nearerRefChild(qnode, r1, r2 int) (first, second int) {
	qb := d.qtree.Node(qnode).Bound
	if qb.MinDistSq(d.rtree.Node(r1).Bound) <= qb.MinDistSq(d.rtree.Node(r2).Bound) {
		return r1, r2
	}
	return r2, r1
}

// nearerQueryChild orders the two query children by their minimum squared
// distance to rnode's bound, nearer first.
func (d *dualTreeDFS) nearerQueryChild(rnode, q1, q2 int) (first, second int) {
	rb := d.rtree.Node(rnode).Bound
	if d.qtree.Node(q1).Bound.MinDistSq(rb) <= d.qtree.Node(q2).Bound.MinDistSq(rb) {
		return q1, q2
	}
	return q2, q1
}
