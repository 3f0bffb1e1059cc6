package dualtree

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// knnItem is one candidate neighbor: a reference position in tree order and
// its squared distance to the query point.
type knnItem struct {
	index int
	dist  float64
}

// knnHeap keeps the k best candidates for one query point. Ordering is by
// descending distance, so the worst candidate sits at the top and a closer
// hit replaces it in O(log k); the top also doubles as the query's current
// pruning bound.
type knnHeap []knnItem

func (h knnHeap) Len() int            { return len(h) }
func (h knnHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist } // worst candidate first
func (h knnHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *knnHeap) Push(x interface{}) { *h = append(*h, x.(knnItem)) }
func (h *knnHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// NeighborResult holds, per query point in original order, the k nearest
// reference points: original reference indices and true (non-squared)
// distances, both sorted by ascending distance.
type NeighborResult struct {
	Indices   [][]int
	Distances [][]float64
}

// AllKNN finds all k-nearest-neighbors by dual-tree traversal over the same
// trees the density estimator uses. The pruning rule is exact, so results
// match a brute-force scan regardless of the accuracy fields in Config;
// only LeafSize, TreeType, and Logger are consulted.
type AllKNN struct {
	cfg   Config
	rtree *Tree
	dims  int
	log   zerolog.Logger
}

// NewAllKNN copies the reference set (flat row-major, n points of dims
// dimensions) and builds the reference tree.
func NewAllKNN(refs []float64, n, dims int, cfg Config) (*AllKNN, error) {
	applyDefaults(&cfg)
	if cfg.LeafSize < 1 {
		return nil, fmt.Errorf("dualtree: LeafSize must be >= 1, got %d", cfg.LeafSize)
	}
	switch cfg.TreeType {
	case TreeAuto, TreeKD, TreeMetric:
	default:
		return nil, fmt.Errorf("dualtree: invalid TreeType %q", cfg.TreeType)
	}

	start := time.Now()
	rtree, err := NewTree(refs, n, dims, cfg.LeafSize, cfg.TreeType)
	if err != nil {
		return nil, err
	}
	a := &AllKNN{cfg: cfg, rtree: rtree, dims: dims, log: cfg.Logger}
	a.log.Debug().
		Int("points", n).
		Int("dims", dims).
		Int("nodes", rtree.NumNodes()).
		Dur("build", time.Since(start)).
		Msg("reference tree built")
	return a, nil
}

// Compute finds the k nearest references of each of qn query points (flat
// row-major, original order). k is clamped to the reference count.
func (a *AllKNN) Compute(queries []float64, qn, k int) (*NeighborResult, error) {
	if k < 1 {
		return nil, fmt.Errorf("dualtree: k must be >= 1, got %d", k)
	}
	if k > a.rtree.NumPoints() {
		k = a.rtree.NumPoints()
	}
	qtree, err := NewTree(queries, qn, a.dims, a.cfg.LeafSize, a.cfg.TreeType)
	if err != nil {
		return nil, err
	}
	return a.run(qtree, k, false)
}

// ComputeMono finds the k nearest neighbors of every reference point within
// the reference set itself, excluding each point's self pair. k is clamped
// to one less than the reference count.
func (a *AllKNN) ComputeMono(k int) (*NeighborResult, error) {
	if k < 1 {
		return nil, fmt.Errorf("dualtree: k must be >= 1, got %d", k)
	}
	n := a.rtree.NumPoints()
	if n < 2 {
		return nil, errors.New("dualtree: nearest neighbors are undefined for a single point")
	}
	if k > n-1 {
		k = n - 1
	}
	return a.run(a.rtree, k, true)
}

func (a *AllKNN) run(qtree *Tree, k int, mono bool) (*NeighborResult, error) {
	start := time.Now()

	p := newKNNProblem(qtree, a.rtree, k, mono)
	dfs := &dualTreeDFS{qtree: qtree, rtree: a.rtree, prob: p}
	dfs.compute(1)

	res := p.assemble()
	a.log.Debug().
		Int("k", k).
		Int("prunes", p.prunes).
		Int("base_cases", p.baseCases).
		Dur("compute", time.Since(start)).
		Msg("dual-tree all-kNN complete")
	return res, nil
}

// knnProblem drives the dual-tree recursion for all-kNN. Each query point
// owns a bounded max-heap of its k best squared distances; each query node
// caches the worst k-th distance over its points, the bound against which
// reference subtrees are pruned. The rule is exact, so the probability
// argument of the engine is ignored and no corrections are ever postponed.
type knnProblem struct {
	qtree, rtree *Tree
	k            int
	mono         bool

	heaps  []knnHeap // per query point, tree order
	bounds []float64 // per query node: worst k-th squared distance, +Inf until known

	prunes    int
	baseCases int
}

func newKNNProblem(qtree, rtree *Tree, k int, mono bool) *knnProblem {
	p := &knnProblem{
		qtree:  qtree,
		rtree:  rtree,
		k:      k,
		mono:   mono,
		heaps:  make([]knnHeap, qtree.NumPoints()),
		bounds: make([]float64, qtree.NumNodes()),
	}
	for i := range p.heaps {
		p.heaps[i] = make(knnHeap, 0, k)
	}
	for i := range p.bounds {
		p.bounds[i] = math.Inf(1)
	}
	return p
}

func (p *knnProblem) prunable(qnode, rnode int, _ float64) bool {
	minSq := p.qtree.Node(qnode).Bound.MinDistSq(p.rtree.Node(rnode).Bound)
	if minSq > p.bounds[qnode] {
		p.prunes++
		return true
	}
	return false
}

func (p *knnProblem) baseCase(qnode, rnode int) {
	q := p.qtree.Node(qnode)
	r := p.rtree.Node(rnode)

	for qi := q.Begin; qi < q.End; qi++ {
		qp := p.qtree.Point(qi)
		h := &p.heaps[qi]
		for ri := r.Begin; ri < r.End; ri++ {
			if p.mono && ri == qi {
				continue
			}
			d := SquaredDistance(qp, p.rtree.Point(ri))
			if h.Len() < p.k {
				heap.Push(h, knnItem{index: ri, dist: d})
			} else if d < (*h)[0].dist {
				(*h)[0] = knnItem{index: ri, dist: d}
				heap.Fix(h, 0)
			}
		}
	}

	// Re-derive the leaf bound from the refreshed heaps.
	var bound float64
	for qi := q.Begin; qi < q.End; qi++ {
		h := p.heaps[qi]
		pointBound := math.Inf(1)
		if h.Len() == p.k {
			pointBound = h[0].dist
		}
		if pointBound > bound {
			bound = pointBound
		}
	}
	p.bounds[qnode] = bound
	p.baseCases++
}

// pushDown is a no-op: the exact rule never postpones corrections.
func (p *knnProblem) pushDown(int) {}

func (p *knnProblem) summarize(qnode int) {
	q := p.qtree.Node(qnode)
	p.bounds[qnode] = math.Max(p.bounds[q.Left], p.bounds[q.Right])
}

// assemble drains the heaps into ascending-distance neighbor lists in
// original point order, translating tree positions back to original indices.
func (p *knnProblem) assemble() *NeighborResult {
	qn := p.qtree.NumPoints()
	res := &NeighborResult{
		Indices:   make([][]int, qn),
		Distances: make([][]float64, qn),
	}
	refOld := p.rtree.OldFromNew()
	for pos, orig := range p.qtree.OldFromNew() {
		h := p.heaps[pos]
		idx := make([]int, h.Len())
		dist := make([]float64, h.Len())
		for i, item := range h {
			idx[i] = refOld[item.index]
			dist[i] = math.Sqrt(item.dist)
		}
		sort.Sort(&neighborSorter{idx: idx, dist: dist})
		res.Indices[orig] = idx
		res.Distances[orig] = dist
	}
	return res
}

type neighborSorter struct {
	idx  []int
	dist []float64
}

func (s *neighborSorter) Len() int           { return len(s.dist) }
func (s *neighborSorter) Less(i, j int) bool { return s.dist[i] < s.dist[j] }
func (s *neighborSorter) Swap(i, j int) {
	s.idx[i], s.idx[j] = s.idx[j], s.idx[i]
	s.dist[i], s.dist[j] = s.dist[j], s.dist[i]
}
