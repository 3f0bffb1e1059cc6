package dualtree

import (
	"math"
	"time"
)

// LSCVScore computes the least-squares cross-validation score of a Gaussian
// bandwidth over a point set, the quantity minimized during bandwidth
// selection. The score is assembled from two monochromatic dual-tree sums:
// one under the convolution kernel (bandwidth √2·h, the self-convolution of
// a Gaussian) and one under the plain kernel (bandwidth h), combined as
//
//	score = S₁ − 2·S₂ + 2·K(0)/(normConst·n̄)
//
// per the usual expansion of ∫f̂² − 2·E[f̂], with both sums normalized by
// their own kernel's constant. weights is in original point order; nil
// means uniform. cfg supplies the accuracy parameters (RelativeError,
// Threshold, Probability), tree parameters, and logger; cfg.Bandwidth and
// cfg.Kernel are ignored in favor of the bandwidth argument.
func LSCVScore(points []float64, n, dims int, weights []float64, bandwidth float64, cfg Config) (float64, error) {
	cfg.Bandwidth = bandwidth
	cfg.Kernel = nil
	cfg.LeaveOneOut = false

	k, err := NewKDE(points, n, dims, weights, cfg)
	if err != nil {
		return 0, err
	}

	convolution, err := NewGaussianKernel(math.Sqrt2 * bandwidth)
	if err != nil {
		return 0, err
	}
	plain := k.kernel

	start := time.Now()
	s1, stats1 := k.crossValidationSum(convolution)
	s2, stats2 := k.crossValidationSum(plain)

	normPlain := plain.NormConstant(dims)
	score := (s1 - 2*s2 + 2/normPlain) / float64(n)

	stats1.add(stats2)
	k.log.Debug().
		Float64("bandwidth", bandwidth).
		Float64("score", score).
		Int("finite_difference_prunes", stats1.FiniteDifferencePrunes).
		Int("monte_carlo_prunes", stats1.MonteCarloPrunes).
		Dur("compute", time.Since(start)).
		Msg("LSCV score computed")
	return score, nil
}

// crossValidationSum runs one monochromatic traversal under the given
// kernel and returns the total pairwise kernel sum, normalized by the
// kernel constant and the reference weight mass.
func (k *KDE) crossValidationSum(kernel Kernel) (float64, PruneStats) {
	cfg := k.cfg
	p := newKDEProblem(k.rtree, k.rtree, kernel, k.weights, k.refStats, k.rootWeight, cfg)
	dfs := &dualTreeDFS{qtree: k.rtree, rtree: k.rtree, prob: p}
	dfs.compute(cfg.Probability)
	p.finalize(k.rtree.Root())

	var sum float64
	for _, e := range p.est {
		sum += e
	}
	return sum / (kernel.NormConstant(k.dims) * k.rootWeight), p.stats
}
