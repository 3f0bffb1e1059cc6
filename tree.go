package dualtree

import (
	"fmt"
)

// TreeType selects the space-partitioning tree built for a computation.
type TreeType string

const (
	// TreeAuto picks KD-tree for moderate dimensionality, metric tree
	// otherwise.
	TreeAuto TreeType = "auto"
	// TreeKD is a rectangle-bound tree split on the widest dimension.
	TreeKD TreeType = "kdtree"
	// TreeMetric is a ball-bound tree split by furthest-point pivots.
	TreeMetric TreeType = "metrictree"
)

// Node is one node of a space-partitioning tree. It owns the tree-order
// point range [Begin, End) and a bound covering every point in the range.
// Children are arena indices; leaves have Left == Right == -1.
//
// Nodes are never mutated after the build. All traversal-time state
// (postponed corrections, prune bounds) lives in problem-owned arrays
// indexed by node id.
type Node struct {
	Begin, End  int
	Left, Right int
	Bound       Bound
}

// IsLeaf reports whether the node has no children.
func (nd *Node) IsLeaf() bool { return nd.Left < 0 }

// Count returns the number of points owned by the node.
func (nd *Node) Count() int { return nd.End - nd.Begin }

// Tree is an arena-stored binary space-partitioning tree over a point set.
// The point data is copied and permuted in place during the build; the
// permutation between original and tree order is recorded in
// OldFromNew/NewFromOld. Node 0 is always the root, and a parent's arena
// index is always smaller than its children's, so a reverse iteration over
// the node slice visits children before parents.
type Tree struct {
	points     []float64 // flat row-major, tree order
	n, dims    int
	leafSize   int
	nodes      []Node
	oldFromNew []int // tree-order position -> original index
	newFromOld []int // original index -> tree-order position
}

// NewKDTree builds a rectangle-bound tree: the split dimension is the
// widest extent of the node's bound and the split value its midpoint.
// Points are reordered by an in-place two-pointer partition that permutes
// the point storage and the index map in lockstep.
func NewKDTree(points []float64, n, dims, leafSize int) (*Tree, error) {
	t, err := newTree(points, n, dims, leafSize)
	if err != nil {
		return nil, err
	}
	t.buildKD(0, n)
	t.finishPermutation()
	return t, nil
}

// NewMetricTree builds a ball-bound tree: each node's ball is centered on
// the centroid of its points, and splits assign points to the nearer of two
// furthest-point pivots.
func NewMetricTree(points []float64, n, dims, leafSize int) (*Tree, error) {
	t, err := newTree(points, n, dims, leafSize)
	if err != nil {
		return nil, err
	}
	t.buildMetric(0, n)
	t.finishPermutation()
	return t, nil
}

// NewTree builds a tree of the given type; TreeAuto resolves to KD-tree up
// to 60 dimensions and metric tree beyond, mirroring where rectangle bounds
// stop paying off.
func NewTree(points []float64, n, dims, leafSize int, typ TreeType) (*Tree, error) {
	switch typ {
	case TreeKD:
		return NewKDTree(points, n, dims, leafSize)
	case TreeMetric:
		return NewMetricTree(points, n, dims, leafSize)
	case TreeAuto, "":
		if dims <= 60 {
			return NewKDTree(points, n, dims, leafSize)
		}
		return NewMetricTree(points, n, dims, leafSize)
	default:
		return nil, fmt.Errorf("dualtree: invalid TreeType %q", typ)
	}
}

func newTree(points []float64, n, dims, leafSize int) (*Tree, error) {
	if n <= 0 {
		return nil, fmt.Errorf("dualtree: cannot build a tree over %d points", n)
	}
	if dims <= 0 {
		return nil, fmt.Errorf("dualtree: dimensionality must be >= 1, got %d", dims)
	}
	if leafSize <= 0 {
		return nil, fmt.Errorf("dualtree: leaf size must be >= 1, got %d", leafSize)
	}
	if len(points) != n*dims {
		return nil, fmt.Errorf("dualtree: point slice length %d does not match n*dims = %d", len(points), n*dims)
	}

	data := make([]float64, len(points))
	copy(data, points)
	oldFromNew := make([]int, n)
	for i := range oldFromNew {
		oldFromNew[i] = i
	}
	return &Tree{
		points:     data,
		n:          n,
		dims:       dims,
		leafSize:   leafSize,
		oldFromNew: oldFromNew,
	}, nil
}

func (t *Tree) finishPermutation() {
	t.newFromOld = make([]int, t.n)
	for pos, orig := range t.oldFromNew {
		t.newFromOld[orig] = pos
	}
}

// NumPoints returns the number of points in the tree.
func (t *Tree) NumPoints() int { return t.n }

// NumFeatures returns the dimensionality of each point.
func (t *Tree) NumFeatures() int { return t.dims }

// NumNodes returns the total number of nodes (internal and leaf).
func (t *Tree) NumNodes() int { return len(t.nodes) }

// Root returns the arena index of the root node, always 0.
func (t *Tree) Root() int { return 0 }

// Node returns the node with the given arena index.
func (t *Tree) Node(i int) *Node { return &t.nodes[i] }

// Point returns the point at tree-order position i, aliasing tree storage.
func (t *Tree) Point(i int) []float64 {
	return t.points[i*t.dims : (i+1)*t.dims]
}

// Points returns the flat tree-order point storage.
func (t *Tree) Points() []float64 { return t.points }

// OldFromNew maps tree-order positions to original point indices.
func (t *Tree) OldFromNew() []int { return t.oldFromNew }

// NewFromOld maps original point indices to tree-order positions.
func (t *Tree) NewFromOld() []int { return t.newFromOld }

// buildKD recursively builds nodes over [begin, end) and returns the new
// node's arena index.
func (t *Tree) buildKD(begin, end int) int {
	bound := NewHRectBound(t.dims)
	for i := begin; i < end; i++ {
		bound.Expand(t.Point(i))
	}

	id := len(t.nodes)
	t.nodes = append(t.nodes, Node{Begin: begin, End: end, Left: -1, Right: -1, Bound: bound})

	if end-begin <= t.leafSize {
		return id
	}

	splitDim, maxWidth := 0, -1.0
	for d := 0; d < t.dims; d++ {
		if w := bound.DimRange(d).Width(); w > maxWidth {
			maxWidth = w
			splitDim = d
		}
	}
	if maxWidth == 0 {
		// Every point is identical; splitting cannot terminate. Give up
		// and keep the node as an oversized leaf.
		return id
	}

	splitVal := bound.DimRange(splitDim).Mid()
	mid := t.partition(splitDim, splitVal, begin, end)
	if mid == begin || mid == end {
		// The midpoint can round onto an endpoint when the extent is a
		// few ulps wide, leaving every point on one side. No usable
		// split; keep the node as an oversized leaf.
		return id
	}

	left := t.buildKD(begin, mid)
	right := t.buildKD(mid, end)
	t.nodes[id].Left = left
	t.nodes[id].Right = right
	return id
}

// partition reorders [begin, end) so that points with coordinate < splitVal
// along dim precede points with coordinate >= splitVal, swapping the point
// rows and the oldFromNew entries together. Returns the first index of the
// right half. Either half may come back empty when splitVal rounds onto an
// endpoint of the dimension's extent; callers must treat that as no split.
func (t *Tree) partition(dim int, splitVal float64, begin, end int) int {
	left := begin
	right := end - 1
	for {
		for left <= right && t.points[left*t.dims+dim] < splitVal {
			left++
		}
		for left <= right && t.points[right*t.dims+dim] >= splitVal {
			right--
		}
		if left > right {
			break
		}
		t.swapPoints(left, right)
		right--
	}
	return left
}

func (t *Tree) swapPoints(i, j int) {
	pi := t.Point(i)
	pj := t.Point(j)
	for d := 0; d < t.dims; d++ {
		pi[d], pj[d] = pj[d], pi[d]
	}
	t.oldFromNew[i], t.oldFromNew[j] = t.oldFromNew[j], t.oldFromNew[i]
}

// buildMetric recursively builds ball-bound nodes over [begin, end).
func (t *Tree) buildMetric(begin, end int) int {
	// Center the ball on the centroid, radius = furthest owned point.
	centroid := make([]float64, t.dims)
	for i := begin; i < end; i++ {
		p := t.Point(i)
		for d := 0; d < t.dims; d++ {
			centroid[d] += p[d]
		}
	}
	for d := 0; d < t.dims; d++ {
		centroid[d] /= float64(end - begin)
	}
	bound := newBallBoundAt(centroid)
	for i := begin; i < end; i++ {
		bound.Expand(t.Point(i))
	}

	id := len(t.nodes)
	t.nodes = append(t.nodes, Node{Begin: begin, End: end, Left: -1, Right: -1, Bound: bound})

	if end-begin <= t.leafSize {
		return id
	}
	if bound.Radius() == 0 {
		// All points identical; degenerate leaf.
		return id
	}

	// Furthest-point pivots: the point furthest from the centroid, then
	// the point furthest from that.
	p1 := t.furthestFrom(centroid, begin, end)
	p2 := t.furthestFrom(p1, begin, end)

	mid := t.partitionByPivots(p1, p2, begin, end)
	if mid == begin || mid == end {
		// Every point tied to one pivot; no usable split.
		return id
	}

	left := t.buildMetric(begin, mid)
	right := t.buildMetric(mid, end)
	t.nodes[id].Left = left
	t.nodes[id].Right = right
	return id
}

// furthestFrom returns a copy of the point in [begin, end) furthest from p.
func (t *Tree) furthestFrom(p []float64, begin, end int) []float64 {
	bestIdx := begin
	bestDist := -1.0
	for i := begin; i < end; i++ {
		if d := SquaredDistance(p, t.Point(i)); d > bestDist {
			bestDist = d
			bestIdx = i
		}
	}
	out := make([]float64, t.dims)
	copy(out, t.Point(bestIdx))
	return out
}

// partitionByPivots reorders [begin, end) so points strictly closer to p1
// precede the rest, returning the first index of the p2 side.
func (t *Tree) partitionByPivots(p1, p2 []float64, begin, end int) int {
	left := begin
	right := end - 1
	for {
		for left <= right && SquaredDistance(t.Point(left), p1) < SquaredDistance(t.Point(left), p2) {
			left++
		}
		for left <= right && SquaredDistance(t.Point(right), p1) >= SquaredDistance(t.Point(right), p2) {
			right--
		}
		if left > right {
			break
		}
		t.swapPoints(left, right)
		right--
	}
	return left
}
