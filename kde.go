package dualtree

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
)

// Config controls a kernel density computation.
// Start with [DefaultConfig] and override the fields you need.
type Config struct {
	// Bandwidth is the kernel bandwidth h. Ignored when Kernel is set
	// explicitly. Must be > 0.
	Bandwidth float64

	// Kernel overrides the default Gaussian kernel built from Bandwidth.
	Kernel Kernel

	// RelativeError is the guaranteed relative error bound of each density
	// estimate. 0 demands an exact (to floating point) answer; pruning then
	// only fires where the kernel value range is exactly flat.
	// Must be >= 0. Default: 0.1.
	RelativeError float64

	// Threshold is a density value below which the relative error guarantee
	// is replaced by an absolute one: estimates whose true density falls
	// under Threshold are only guaranteed to within Threshold. 0 disables
	// the escape hatch. Must be >= 0. Default: 0.
	Threshold float64

	// Probability is the confidence of the error guarantee. 1 demands hard
	// deterministic bounds; values below 1 additionally allow Monte Carlo
	// sampling prunes that hold with this probability.
	// Must be in (0, 1]. Default: 1.
	Probability float64

	// LeafSize is the maximum number of points in a tree leaf.
	// Must be >= 1. Default: 40.
	LeafSize int

	// TreeType selects the space-partitioning tree. Default: TreeAuto.
	TreeType TreeType

	// LeaveOneOut excludes each point's own contribution from its density.
	// Only valid for monochromatic computations (ComputeMono).
	// Default: false.
	LeaveOneOut bool

	// Workers is the number of goroutines used by the naive baseline
	// (ComputeNaive). The dual-tree traversal itself is sequential.
	// 0 means 1. Default: 0.
	Workers int

	// Seed seeds the sampler used by Monte Carlo pruning. Only consulted
	// when Probability < 1. 0 means 1. Default: 0.
	Seed int64

	// Logger receives per-computation diagnostics (timings, prune counts).
	// Default: a no-op logger.
	Logger zerolog.Logger
}

// DefaultConfig returns a Config with the defaults described on each field.
func DefaultConfig() Config {
	return Config{
		RelativeError: 0.1,
		Probability:   1.0,
		LeafSize:      40,
		TreeType:      TreeAuto,
		Logger:        zerolog.Nop(),
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Probability == 0 {
		cfg.Probability = 1.0
	}
	if cfg.LeafSize == 0 {
		cfg.LeafSize = 40
	}
	if cfg.TreeType == "" {
		cfg.TreeType = TreeAuto
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Kernel == nil && cfg.Bandwidth <= 0 {
		return fmt.Errorf("dualtree: Bandwidth must be > 0 when no Kernel is set, got %v", cfg.Bandwidth)
	}
	if cfg.RelativeError < 0 {
		return fmt.Errorf("dualtree: RelativeError must be >= 0, got %v", cfg.RelativeError)
	}
	if cfg.Threshold < 0 {
		return fmt.Errorf("dualtree: Threshold must be >= 0, got %v", cfg.Threshold)
	}
	if cfg.Probability <= 0 || cfg.Probability > 1 {
		return fmt.Errorf("dualtree: Probability must be in (0, 1], got %v", cfg.Probability)
	}
	if cfg.LeafSize < 1 {
		return fmt.Errorf("dualtree: LeafSize must be >= 1, got %d", cfg.LeafSize)
	}
	switch cfg.TreeType {
	case TreeAuto, TreeKD, TreeMetric:
	default:
		return fmt.Errorf("dualtree: invalid TreeType %q", cfg.TreeType)
	}
	return nil
}

// PruneStats counts, per computation, how each subtree pair was disposed of.
type PruneStats struct {
	// FiniteDifferencePrunes counts pairs approximated by the
	// kernel-value-range finite difference rule.
	FiniteDifferencePrunes int

	// MonteCarloPrunes counts pairs approximated by sampling
	// (Probability < 1 only).
	MonteCarloPrunes int

	// ZeroWeightPrunes counts reference subtrees skipped because their
	// weight mass is zero.
	ZeroWeightPrunes int

	// BaseCases counts exhaustively evaluated leaf pairs.
	BaseCases int
}

func (s *PruneStats) add(o PruneStats) {
	s.FiniteDifferencePrunes += o.FiniteDifferencePrunes
	s.MonteCarloPrunes += o.MonteCarloPrunes
	s.ZeroWeightPrunes += o.ZeroWeightPrunes
	s.BaseCases += o.BaseCases
}

// Result holds per-query-point density estimates in original point order.
type Result struct {
	// Densities are the normalized density estimates.
	Densities []float64

	// Lower and Upper are guaranteed (to Probability) normalized bounds
	// bracketing each true density.
	Lower, Upper []float64

	// Stats describes how much of the computation was pruned.
	Stats PruneStats
}

// KDE is a weighted kernel density estimator over a fixed reference set,
// evaluated by dual-tree traversal with error-bounded pruning. Build one
// with NewKDE, then call Compute (separate query set) or ComputeMono
// (queries equal references) any number of times.
type KDE struct {
	cfg        Config
	kernel     Kernel
	rtree      *Tree
	weights    []float64 // tree order
	refStats   []refStat
	rootWeight float64
	dims       int
	log        zerolog.Logger
}

// NewKDE copies the reference set (flat row-major, n points of dims
// dimensions), builds the reference tree, and precomputes the per-node
// weight aggregates. weights is in original point order; nil means uniform
// unit weights. Weights must be non-negative and sum to a positive value.
func NewKDE(refs []float64, n, dims int, weights []float64, cfg Config) (*KDE, error) {
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	kernel := cfg.Kernel
	if kernel == nil {
		var err error
		kernel, err = NewGaussianKernel(cfg.Bandwidth)
		if err != nil {
			return nil, err
		}
	}

	if weights != nil && len(weights) != n {
		return nil, fmt.Errorf("dualtree: weight vector length %d does not match n = %d", len(weights), n)
	}

	start := time.Now()
	rtree, err := NewTree(refs, n, dims, cfg.LeafSize, cfg.TreeType)
	if err != nil {
		return nil, err
	}

	// Shuffle weights into tree order and validate them.
	wTree := make([]float64, n)
	var rootWeight float64
	for pos, orig := range rtree.OldFromNew() {
		w := 1.0
		if weights != nil {
			w = weights[orig]
		}
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("dualtree: reference weight %v at index %d is not a finite non-negative value", w, orig)
		}
		wTree[pos] = w
		rootWeight += w
	}
	if rootWeight <= 0 {
		return nil, errors.New("dualtree: reference weights sum to zero")
	}

	k := &KDE{
		cfg:        cfg,
		kernel:     kernel,
		rtree:      rtree,
		weights:    wTree,
		refStats:   buildRefStats(rtree, wTree),
		rootWeight: rootWeight,
		dims:       dims,
		log:        cfg.Logger,
	}
	k.log.Debug().
		Int("points", n).
		Int("dims", dims).
		Int("nodes", rtree.NumNodes()).
		Dur("build", time.Since(start)).
		Msg("reference tree built")
	return k, nil
}

// NumReferences returns the number of reference points.
func (k *KDE) NumReferences() int { return k.rtree.NumPoints() }

// Tree returns the reference tree.
func (k *KDE) Tree() *Tree { return k.rtree }

// Compute evaluates the density at qn query points (flat row-major,
// original order). The query set is independent of the references
// (bichromatic); use ComputeMono when they coincide.
func (k *KDE) Compute(queries []float64, qn int) (*Result, error) {
	if k.cfg.LeaveOneOut {
		return nil, errors.New("dualtree: LeaveOneOut requires a monochromatic computation, use ComputeMono")
	}
	qtree, err := NewTree(queries, qn, k.dims, k.cfg.LeafSize, k.cfg.TreeType)
	if err != nil {
		return nil, err
	}
	return k.run(qtree, false)
}

// ComputeMono evaluates the density of every reference point against the
// full reference set (monochromatic, query tree == reference tree). Each
// point's own contribution is included unless Config.LeaveOneOut is set,
// in which case it is subtracted exactly after the traversal.
func (k *KDE) ComputeMono() (*Result, error) {
	if k.cfg.LeaveOneOut {
		if k.rtree.NumPoints() < 2 {
			return nil, errors.New("dualtree: leave-one-out density is undefined for a single point")
		}
		for i, w := range k.weights {
			if k.rootWeight-w <= 0 {
				return nil, fmt.Errorf("dualtree: leave-one-out density is undefined for point %d, which carries the entire weight mass", k.rtree.OldFromNew()[i])
			}
		}
	}
	return k.run(k.rtree, true)
}

// run performs the dual-tree traversal over qtree and assembles the
// normalized, un-permuted result.
func (k *KDE) run(qtree *Tree, mono bool) (*Result, error) {
	start := time.Now()

	p := newKDEProblem(qtree, k.rtree, k.kernel, k.weights, k.refStats, k.rootWeight, k.cfg)
	dfs := &dualTreeDFS{qtree: qtree, rtree: k.rtree, prob: p}
	dfs.compute(k.cfg.Probability)
	p.finalize(qtree.Root())

	res := k.assemble(qtree, mono, p)
	k.log.Debug().
		Int("finite_difference_prunes", p.stats.FiniteDifferencePrunes).
		Int("monte_carlo_prunes", p.stats.MonteCarloPrunes).
		Int("zero_weight_prunes", p.stats.ZeroWeightPrunes).
		Int("base_cases", p.stats.BaseCases).
		Dur("compute", time.Since(start)).
		Msg("dual-tree KDE complete")
	return res, nil
}

// assemble normalizes the raw tree-order kernel sums and un-permutes them
// into original point order.
func (k *KDE) assemble(qtree *Tree, mono bool, p *kdeProblem) *Result {
	qn := qtree.NumPoints()
	res := &Result{
		Densities: make([]float64, qn),
		Lower:     make([]float64, qn),
		Upper:     make([]float64, qn),
		Stats:     p.stats,
	}
	norm := k.kernel.NormConstant(k.dims)
	loo := mono && k.cfg.LeaveOneOut

	for pos, orig := range qtree.OldFromNew() {
		lo, est, up := p.lower[pos], p.est[pos], p.upper[pos]
		denom := norm * k.rootWeight
		if loo {
			// The self pair sits at distance zero, so its contribution is
			// exactly weight * EvalUnnormOnSq(0) = weight.
			w := k.weights[pos]
			lo -= w
			est -= w
			up -= w
			denom = norm * (k.rootWeight - w)
		}
		res.Densities[orig] = est / denom
		res.Lower[orig] = lo / denom
		res.Upper[orig] = up / denom
	}
	return res
}
