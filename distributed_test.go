package dualtree

import (
	"math/rand"
	"testing"
)

func TestDistributedKDE_MatchesSingleProcess(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	n, dims := 600, 3
	refs := gaussianCloud(rng, n, dims)

	cfg := DefaultConfig()
	cfg.Bandwidth = 0.5
	cfg.LeafSize = 20
	cfg.RelativeError = 0
	cfg.Workers = 4

	single, err := NewKDE(refs, n, dims, nil, cfg)
	if err != nil {
		t.Fatalf("NewKDE: %v", err)
	}
	want, err := single.ComputeMono()
	if err != nil {
		t.Fatalf("ComputeMono: %v", err)
	}

	dist, err := NewDistributedKDE(refs, n, dims, nil, cfg)
	if err != nil {
		t.Fatalf("NewDistributedKDE: %v", err)
	}
	got, err := dist.ComputeMono()
	if err != nil {
		t.Fatalf("distributed ComputeMono: %v", err)
	}

	// Exact mode leaves no room for approximation, so the split changes
	// nothing beyond float ordering.
	if diff := maxAbsDiff(got.Densities, want.Densities); diff > 1e-10 {
		t.Errorf("max |distributed - single| = %v, want ~0", diff)
	}
}

func TestDistributedKDE_Bichromatic(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	n, qn, dims := 400, 130, 2
	refs := gaussianCloud(rng, n, dims)
	queries := gaussianCloud(rng, qn, dims)

	cfg := DefaultConfig()
	cfg.Bandwidth = 0.6
	cfg.RelativeError = 0
	cfg.Workers = 3

	single, err := NewKDE(refs, n, dims, nil, cfg)
	if err != nil {
		t.Fatalf("NewKDE: %v", err)
	}
	want, err := single.Compute(queries, qn)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	dist, err := NewDistributedKDE(refs, n, dims, nil, cfg)
	if err != nil {
		t.Fatalf("NewDistributedKDE: %v", err)
	}
	got, err := dist.Compute(queries, qn)
	if err != nil {
		t.Fatalf("distributed Compute: %v", err)
	}
	if diff := maxAbsDiff(got.Densities, want.Densities); diff > 1e-10 {
		t.Errorf("max |distributed - single| = %v, want ~0", diff)
	}
}

func TestDistributedKDE_RejectsLeaveOneOut(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bandwidth = 1
	cfg.LeaveOneOut = true
	if _, err := NewDistributedKDE([]float64{0, 0, 1, 1}, 2, 2, nil, cfg); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestSubtable_RoundTrip(t *testing.T) {
	s := &Subtable{
		Node:    3,
		Begin:   10,
		End:     12,
		Dims:    2,
		Points:  []float64{1, 2, 3, 4},
		Weights: []float64{0.5, 1.5},
	}
	blob, err := s.encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decodeSubtable(blob)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Node != s.Node || got.Begin != s.Begin || got.End != s.End || got.Dims != s.Dims {
		t.Errorf("decoded header = %+v, want %+v", got, s)
	}
	for i := range s.Points {
		if got.Points[i] != s.Points[i] {
			t.Errorf("Points[%d] = %v, want %v", i, got.Points[i], s.Points[i])
		}
	}
	for i := range s.Weights {
		if got.Weights[i] != s.Weights[i] {
			t.Errorf("Weights[%d] = %v, want %v", i, got.Weights[i], s.Weights[i])
		}
	}
}

func TestLocalExchange_ServesSubtables(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	n, dims := 100, 2
	pts := randomPoints(rng, n, dims)
	tree, err := NewKDTree(pts, n, dims, 10)
	if err != nil {
		t.Fatalf("NewKDTree: %v", err)
	}
	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 1
	}

	ex, err := newLocalExchange(tree, weights, DefaultConfig().Logger)
	if err != nil {
		t.Fatalf("newLocalExchange: %v", err)
	}

	for _, node := range []int{tree.Root(), tree.NumNodes() - 1} {
		nd := tree.Node(node)
		// Twice, to cover the cache hit path.
		for pass := 0; pass < 2; pass++ {
			sub, err := ex.RequestSubtable(node)
			if err != nil {
				t.Fatalf("RequestSubtable(%d) pass %d: %v", node, pass, err)
			}
			if sub.Begin != nd.Begin || sub.End != nd.End {
				t.Errorf("subtable range [%d, %d), want [%d, %d)", sub.Begin, sub.End, nd.Begin, nd.End)
			}
			if len(sub.Points) != nd.Count()*dims || len(sub.Weights) != nd.Count() {
				t.Fatalf("subtable sizes: %d points, %d weights for %d-point node", len(sub.Points)/dims, len(sub.Weights), nd.Count())
			}
			for i := 0; i < nd.Count()*dims; i++ {
				if sub.Points[i] != tree.Points()[nd.Begin*dims+i] {
					t.Fatalf("subtable point data mismatch at offset %d", i)
				}
			}
		}
	}

	if _, err := ex.RequestSubtable(tree.NumNodes()); err == nil {
		t.Error("out-of-range node: expected error, got nil")
	}
}

func TestCarveFrontier_CoversAllPoints(t *testing.T) {
	rng := rand.New(rand.NewSource(15))
	n, dims := 500, 3
	pts := randomPoints(rng, n, dims)
	tree, err := NewKDTree(pts, n, dims, 10)
	if err != nil {
		t.Fatalf("NewKDTree: %v", err)
	}

	for _, target := range []int{1, 4, 16, 1000} {
		tasks := carveFrontier(tree, target)
		covered := make([]bool, n)
		for _, id := range tasks {
			nd := tree.Node(id)
			for i := nd.Begin; i < nd.End; i++ {
				if covered[i] {
					t.Fatalf("target %d: point %d covered twice", target, i)
				}
				covered[i] = true
			}
		}
		for i, c := range covered {
			if !c {
				t.Fatalf("target %d: point %d not covered", target, i)
			}
		}
		if target > 1 && len(tasks) < 2 && !tree.Node(tree.Root()).IsLeaf() {
			t.Errorf("target %d produced %d tasks, want a real split", target, len(tasks))
		}
	}
}
