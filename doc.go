// Package dualtree implements error-bounded kernel density estimation by
// dual-tree traversal, plus the generalized N-body machinery behind it:
// space-partitioning trees (KD and metric/ball), hyper-rectangle and ball
// bounds, and a depth-first engine that other pairwise problems can plug
// into (all-k-nearest-neighbor ships as a second instantiation).
//
// The estimator returns, for every query point, a density estimate together
// with hard lower and upper bounds, guaranteed to within a configurable
// relative error. Subtree pairs whose kernel-value range already fits the
// error budget are pruned in bulk instead of being evaluated point by
// point; with Probability below 1, Monte Carlo sampling prunes are allowed
// as well and the bounds hold with that probability.
//
// Basic usage:
//
//	cfg := dualtree.DefaultConfig()
//	cfg.Bandwidth = 0.5
//	kde, err := dualtree.NewKDE(refs, n, dims, nil, cfg)
//	result, err := kde.Compute(queries, qn)
//	// result.Densities[i] is the estimate at query point i
//	// result.Lower[i] <= true density <= result.Upper[i]
//
// Queries equal to the references (ComputeMono), per-reference weights,
// leave-one-out estimates, and non-Gaussian kernels are all supported; see
// Config. LSCVScore scores a candidate bandwidth for selection, and
// DistributedKDE runs the same computation across worker goroutines
// communicating through serialized reference subtables.
package dualtree
