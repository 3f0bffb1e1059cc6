package dualtree

import (
	"bytes"
	"container/heap"
	"encoding/gob"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// subtableCacheSize bounds the number of encoded subtables an exchange
// keeps around between requests.
const subtableCacheSize = 64

// tasksPerWorker controls how finely the query tree is carved into work
// units. More tasks smooth out load imbalance at the cost of repeated
// query-tree construction.
const tasksPerWorker = 4

// Subtable is a self-contained, serializable slice of a reference tree: the
// points and weights owned by one node, in that tree's storage order. It is
// the unit of data movement between a computation worker and whichever
// process owns the reference set.
type Subtable struct {
	Node       int
	Begin, End int
	Dims       int
	Points     []float64
	Weights    []float64
}

func (s *Subtable) encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil, fmt.Errorf("dualtree: encoding subtable for node %d: %w", s.Node, err)
	}
	return buf.Bytes(), nil
}

func decodeSubtable(blob []byte) (*Subtable, error) {
	var s Subtable
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&s); err != nil {
		return nil, fmt.Errorf("dualtree: decoding subtable: %w", err)
	}
	return &s, nil
}

// Partial is one worker's finished share of a distributed computation:
// normalized density estimates and bounds for the query points listed in
// Orig (original indices into the full query set).
type Partial struct {
	Orig         []int
	Densities    []float64
	Lower, Upper []float64
	Stats        PruneStats
}

// Exchange is the message-passing surface of a distributed computation.
// Workers request reference subtables by node id and report finished
// partial results; the coordinator collects the partials when every worker
// is done. Implementations must be safe for concurrent use.
type Exchange interface {
	RequestSubtable(node int) (*Subtable, error)
	ReportPartial(p Partial)
	Partials() []Partial
}

// localExchange serves subtables straight out of an in-memory reference
// tree. Every request still round-trips through the wire encoding, with
// encoded blobs held in an LRU cache, so the data path matches what a
// networked implementation would see.
type localExchange struct {
	tree    *Tree
	weights []float64 // tree order
	cache   *lru.Cache[int, []byte]
	log     zerolog.Logger

	mu       sync.Mutex
	partials []Partial
}

func newLocalExchange(tree *Tree, weights []float64, log zerolog.Logger) (*localExchange, error) {
	cache, err := lru.New[int, []byte](subtableCacheSize)
	if err != nil {
		return nil, fmt.Errorf("dualtree: creating subtable cache: %w", err)
	}
	return &localExchange{tree: tree, weights: weights, cache: cache, log: log}, nil
}

func (e *localExchange) RequestSubtable(node int) (*Subtable, error) {
	if node < 0 || node >= e.tree.NumNodes() {
		return nil, fmt.Errorf("dualtree: subtable request for unknown node %d", node)
	}

	if blob, ok := e.cache.Get(node); ok {
		return decodeSubtable(blob)
	}

	nd := e.tree.Node(node)
	dims := e.tree.NumFeatures()
	s := &Subtable{
		Node:    node,
		Begin:   nd.Begin,
		End:     nd.End,
		Dims:    dims,
		Points:  make([]float64, nd.Count()*dims),
		Weights: make([]float64, nd.Count()),
	}
	copy(s.Points, e.tree.Points()[nd.Begin*dims:nd.End*dims])
	copy(s.Weights, e.weights[nd.Begin:nd.End])

	blob, err := s.encode()
	if err != nil {
		return nil, err
	}
	e.cache.Add(node, blob)
	e.log.Debug().
		Int("node", node).
		Int("points", nd.Count()).
		Int("bytes", len(blob)).
		Msg("subtable encoded")
	return decodeSubtable(blob)
}

func (e *localExchange) ReportPartial(p Partial) {
	e.mu.Lock()
	e.partials = append(e.partials, p)
	e.mu.Unlock()
}

func (e *localExchange) Partials() []Partial {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.partials
}

// DistributedKDE evaluates the same error-bounded density estimate as KDE,
// but split across Config.Workers goroutines that communicate only through
// an Exchange: the query tree is carved into a frontier of subtrees, served
// largest-first from a priority queue, and each worker runs the
// single-process engine on its share against a reference set it obtained as
// a serialized subtable. Per-point error guarantees are unaffected by the
// split.
type DistributedKDE struct {
	cfg  Config
	k    *KDE
	refs []float64 // original order, kept for monochromatic runs
	ex   Exchange
	log  zerolog.Logger
}

// NewDistributedKDE mirrors NewKDE and additionally wires up an in-process
// Exchange. Config.LeaveOneOut is not supported here.
func NewDistributedKDE(refs []float64, n, dims int, weights []float64, cfg Config) (*DistributedKDE, error) {
	if cfg.LeaveOneOut {
		return nil, errors.New("dualtree: LeaveOneOut is not supported by the distributed wrapper")
	}
	k, err := NewKDE(refs, n, dims, weights, cfg)
	if err != nil {
		return nil, err
	}
	ex, err := newLocalExchange(k.rtree, k.weights, k.log)
	if err != nil {
		return nil, err
	}
	refsCopy := make([]float64, n*dims)
	copy(refsCopy, refs)
	return &DistributedKDE{cfg: k.cfg, k: k, refs: refsCopy, ex: ex, log: k.log}, nil
}

// Compute evaluates the density at qn query points (flat row-major,
// original order) using Config.Workers concurrent workers.
func (d *DistributedKDE) Compute(queries []float64, qn int) (*Result, error) {
	qtree, err := NewTree(queries, qn, d.k.dims, d.cfg.LeafSize, d.cfg.TreeType)
	if err != nil {
		return nil, err
	}
	return d.run(qtree)
}

// ComputeMono evaluates the density of every reference point against the
// full reference set.
func (d *DistributedKDE) ComputeMono() (*Result, error) {
	return d.Compute(d.refs, d.k.rtree.NumPoints())
}

func (d *DistributedKDE) run(qtree *Tree) (*Result, error) {
	start := time.Now()
	tasks := carveFrontier(qtree, d.cfg.Workers*tasksPerWorker)

	taskCh := make(chan int, len(tasks))
	for _, t := range tasks {
		taskCh <- t
	}
	close(taskCh)

	var wg sync.WaitGroup
	errCh := make(chan error, d.cfg.Workers)
	for w := 0; w < d.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.worker(qtree, taskCh); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	if err := <-errCh; err != nil {
		return nil, err
	}

	res := mergePartials(d.ex.Partials(), qtree.NumPoints())
	d.log.Debug().
		Int("workers", d.cfg.Workers).
		Int("tasks", len(tasks)).
		Int("finite_difference_prunes", res.Stats.FiniteDifferencePrunes).
		Int("monte_carlo_prunes", res.Stats.MonteCarloPrunes).
		Int("base_cases", res.Stats.BaseCases).
		Dur("compute", time.Since(start)).
		Msg("distributed KDE complete")
	return res, nil
}

// worker obtains the reference set once through the exchange, builds its
// own engine over it, and drains the task channel.
func (d *DistributedKDE) worker(qtree *Tree, tasks <-chan int) error {
	sub, err := d.ex.RequestSubtable(d.k.rtree.Root())
	if err != nil {
		return err
	}
	local, err := NewKDE(sub.Points, sub.End-sub.Begin, sub.Dims, sub.Weights, d.cfg)
	if err != nil {
		return err
	}

	dims := d.k.dims
	for qnode := range tasks {
		nd := qtree.Node(qnode)
		slice := qtree.Points()[nd.Begin*dims : nd.End*dims]
		res, err := local.Compute(slice, nd.Count())
		if err != nil {
			return err
		}

		p := Partial{
			Orig:      make([]int, nd.Count()),
			Densities: res.Densities,
			Lower:     res.Lower,
			Upper:     res.Upper,
			Stats:     res.Stats,
		}
		for j := range p.Orig {
			p.Orig[j] = qtree.OldFromNew()[nd.Begin+j]
		}
		d.ex.ReportPartial(p)
	}
	return nil
}

// frontierHeap orders query nodes by descending point count, so the
// largest pending subtree is always split or scheduled next.
type frontierHeap struct {
	nodes  []int
	counts []int
	tree   *Tree
}

func (h *frontierHeap) Len() int           { return len(h.nodes) }
func (h *frontierHeap) Less(i, j int) bool { return h.counts[i] > h.counts[j] }
func (h *frontierHeap) Push(x interface{}) {
	n := x.(int)
	h.nodes = append(h.nodes, n)
	h.counts = append(h.counts, h.tree.Node(n).Count())
}
func (h *frontierHeap) Pop() interface{} {
	n := len(h.nodes)
	node := h.nodes[n-1]
	h.nodes = h.nodes[:n-1]
	h.counts = h.counts[:n-1]
	return node
}
func (h *frontierHeap) Swap(i, j int) {
	h.nodes[i], h.nodes[j] = h.nodes[j], h.nodes[i]
	h.counts[i], h.counts[j] = h.counts[j], h.counts[i]
}

// carveFrontier splits the query tree into at least target disjoint
// subtrees covering every point, always splitting the largest remaining
// subtree first. Leaves stop splitting, so fewer than target tasks can
// come back on small or lopsided trees.
func carveFrontier(qtree *Tree, target int) []int {
	h := &frontierHeap{tree: qtree}
	heap.Push(h, qtree.Root())

	var tasks []int
	for h.Len() > 0 {
		node := heap.Pop(h).(int)
		nd := qtree.Node(node)
		if nd.IsLeaf() || h.Len()+len(tasks)+1 >= target {
			tasks = append(tasks, node)
			continue
		}
		heap.Push(h, nd.Left)
		heap.Push(h, nd.Right)
	}
	return tasks
}

// mergePartials stitches worker results back into one Result. Frontier
// subtrees are disjoint, so rows never collide and the merge is a plain
// scatter plus a stats sum.
func mergePartials(partials []Partial, qn int) *Result {
	res := &Result{
		Densities: make([]float64, qn),
		Lower:     make([]float64, qn),
		Upper:     make([]float64, qn),
	}
	for _, p := range partials {
		for j, orig := range p.Orig {
			res.Densities[orig] = p.Densities[j]
			res.Lower[orig] = p.Lower[j]
			res.Upper[orig] = p.Upper[j]
		}
		res.Stats.add(p.Stats)
	}
	return res
}
