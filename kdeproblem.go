package dualtree

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"
)

// mcInitialSamples is the number of point pairs sampled per node pair when
// attempting a Monte Carlo prune.
const mcInitialSamples = 25

// kdeProblem accumulates weighted kernel sums for every query point.
//
// Per query point (tree order) it maintains a lower bound, an estimate, and
// an upper bound on the unnormalized sum Σ_r w_r·K(q, r). The lower bound
// and estimate start at zero; the upper bound starts at the total reference
// weight, the most any monotone kernel with K(0) = 1 can contribute. Every
// exact evaluation and every prune moves all three toward the truth, the
// latter through postponed per-node corrections flushed lazily on descent.
type kdeProblem struct {
	qtree, rtree *Tree
	kernel       Kernel
	weights      []float64 // reference, tree order
	refStats     []refStat
	rootWeight   float64

	relError     float64
	absThreshold float64 // unnormalized absolute-sum escape hatch

	// Per query node, indexed by qtree node id.
	qstats []kdeQueryStat

	// Per query point, tree order.
	lower, est, upper []float64
	usedError, pruned []float64

	rng    *rand.Rand
	zScore float64

	stats PruneStats
}

func newKDEProblem(qtree, rtree *Tree, kernel Kernel, weights []float64, refStats []refStat, rootWeight float64, cfg Config) *kdeProblem {
	qn := qtree.NumPoints()
	p := &kdeProblem{
		qtree:      qtree,
		rtree:      rtree,
		kernel:     kernel,
		weights:    weights,
		refStats:   refStats,
		rootWeight: rootWeight,
		relError:   cfg.RelativeError,
		// Threshold is expressed in normalized density units; the traversal
		// works on unnormalized sums.
		absThreshold: cfg.Threshold * kernel.NormConstant(qtree.NumFeatures()) * rootWeight,
		qstats:       make([]kdeQueryStat, qtree.NumNodes()),
		lower:        make([]float64, qn),
		est:          make([]float64, qn),
		upper:        make([]float64, qn),
		usedError:    make([]float64, qn),
		pruned:       make([]float64, qn),
	}
	for i := range p.upper {
		p.upper[i] = rootWeight
	}
	for i := range p.qstats {
		p.qstats[i].reset()
	}
	if cfg.Probability < 1 {
		p.rng = rand.New(rand.NewSource(cfg.Seed))
		p.zScore = distuv.UnitNormal.Quantile((1 + cfg.Probability) / 2)
	}
	return p
}

// prunable implements the finite-difference rule: the squared-distance
// range between the two bounds maps through the monotone kernel to a
// kernel-value range, and the pair may be approximated by the range
// midpoint when half the range width, scaled by the reference weight mass,
// fits inside the error budget allocated to this pair's share of the total
// weight. Failing that, and when the caller tolerates probabilistic
// guarantees, a sampling prune is attempted.
func (p *kdeProblem) prunable(qnode, rnode int, probability float64) bool {
	rw := p.refStats[rnode].weightSum
	if rw == 0 {
		// Nothing to contribute; skipping is exact. Guarding here also
		// keeps the budget allocation below free of 0/0.
		p.stats.ZeroWeightPrunes++
		return true
	}

	dsqd := p.qtree.Node(qnode).Bound.RangeDistSq(p.rtree.Node(rnode).Bound)
	kLo := p.kernel.EvalUnnormOnSq(dsqd.Hi)
	kHi := p.kernel.EvalUnnormOnSq(dsqd.Lo)

	dl := rw * kLo
	de := 0.5 * rw * (kLo + kHi)
	du := rw * (kHi - 1)
	usedError := 0.5 * rw * (kHi - kLo)

	qs := &p.qstats[qnode]

	// The most refined lower bound available for this subtree, counting
	// corrections not yet pushed down and the one this prune would grant.
	newLower := qs.summaryLower + qs.postponedLower + dl

	allowed := p.relError * rw * newLower / p.rootWeight
	if abs := p.absThreshold * rw / p.rootWeight; abs > allowed {
		allowed = abs
	}

	if usedError <= allowed {
		p.applyDeltas(qs, dl, de, du, usedError, rw)
		p.stats.FiniteDifferencePrunes++
		return true
	}

	if probability < 1 && p.monteCarloPrunable(qnode, rnode, qs, rw, kLo, kHi, allowed) {
		p.stats.MonteCarloPrunes++
		return true
	}
	return false
}

func (p *kdeProblem) applyDeltas(qs *kdeQueryStat, dl, de, du, usedError, prunedMass float64) {
	qs.postponedLower += dl
	qs.postponedEst += de
	qs.postponedUpper += du
	qs.postponedUsedError += usedError
	qs.postponedPruned += prunedMass
}

// monteCarloPrunable samples random query/reference point pairs and prunes
// when the normal-approximation confidence half-width of the mean kernel
// value fits the budget. The resulting bounds hold only with the requested
// probability.
func (p *kdeProblem) monteCarloPrunable(qnode, rnode int, qs *kdeQueryStat, rw, kLo, kHi, allowed float64) bool {
	q := p.qtree.Node(qnode)
	r := p.rtree.Node(rnode)

	// Sampling costs mcInitialSamples kernel evaluations; skip when the
	// exhaustive base case is comparably cheap.
	if q.Count()*r.Count() <= 4*mcInitialSamples {
		return false
	}

	var sum, sumSq float64
	for i := 0; i < mcInitialSamples; i++ {
		qi := q.Begin + p.rng.Intn(q.Count())
		ri := r.Begin + p.rng.Intn(r.Count())
		kv := p.kernel.EvalUnnormOnSq(SquaredDistance(p.qtree.Point(qi), p.rtree.Point(ri)))
		sum += kv
		sumSq += kv * kv
	}
	m := float64(mcInitialSamples)
	mean := sum / m
	variance := (sumSq - sum*sum/m) / (m - 1)
	if variance < 0 {
		variance = 0
	}
	se := math.Sqrt(variance / m)

	usedError := p.zScore * se * rw
	if usedError > allowed {
		return false
	}

	// Clamp the sampled interval to the hard kernel-value range so a lucky
	// sample can never produce bounds worse than the deterministic ones.
	lo := mean - p.zScore*se
	if lo < kLo {
		lo = kLo
	}
	hi := mean + p.zScore*se
	if hi > kHi {
		hi = kHi
	}
	p.applyDeltas(qs, rw*lo, rw*mean, rw*(hi-1), usedError, rw)
	return true
}

// baseCase exhaustively evaluates a (leaf, leaf) pair, folding qnode's
// postponed corrections into the touched points and re-deriving the node
// summary from the refined per-point values.
func (p *kdeProblem) baseCase(qnode, rnode int) {
	q := p.qtree.Node(qnode)
	r := p.rtree.Node(rnode)
	qs := &p.qstats[qnode]
	rw := p.refStats[rnode].weightSum

	qs.resetSummaryForRefinement()

	for qi := q.Begin; qi < q.End; qi++ {
		p.lower[qi] += qs.postponedLower
		p.est[qi] += qs.postponedEst
		p.upper[qi] += qs.postponedUpper
		p.usedError[qi] += qs.postponedUsedError
		p.pruned[qi] += qs.postponedPruned

		qp := p.qtree.Point(qi)
		for ri := r.Begin; ri < r.End; ri++ {
			kv := p.kernel.EvalUnnormOnSq(SquaredDistance(qp, p.rtree.Point(ri)))
			w := p.weights[ri]
			p.lower[qi] += kv * w
			p.est[qi] += kv * w
			// The upper bound assumed kernel value 1 for this mass.
			p.upper[qi] += (kv - 1) * w
		}
		p.pruned[qi] += rw

		if p.lower[qi] < qs.summaryLower {
			qs.summaryLower = p.lower[qi]
		}
		if p.usedError[qi] > qs.summaryUsedError {
			qs.summaryUsedError = p.usedError[qi]
		}
		if p.pruned[qi] < qs.summaryPruned {
			qs.summaryPruned = p.pruned[qi]
		}
	}

	qs.postponedLower = 0
	qs.postponedEst = 0
	qs.postponedUpper = 0
	qs.postponedUsedError = 0
	qs.postponedPruned = 0

	p.stats.BaseCases++
}

// pushDown flushes qnode's postponed corrections to both children.
func (p *kdeProblem) pushDown(qnode int) {
	q := p.qtree.Node(qnode)
	qs := &p.qstats[qnode]
	for _, child := range [2]int{q.Left, q.Right} {
		cs := &p.qstats[child]
		cs.postponedLower += qs.postponedLower
		cs.postponedEst += qs.postponedEst
		cs.postponedUpper += qs.postponedUpper
		cs.postponedUsedError += qs.postponedUsedError
		cs.postponedPruned += qs.postponedPruned
	}
	qs.postponedLower = 0
	qs.postponedEst = 0
	qs.postponedUpper = 0
	qs.postponedUsedError = 0
	qs.postponedPruned = 0
}

// summarize recomputes qnode's summary as the worst case over its children,
// each child's cached summary offset by corrections still parked on it.
func (p *kdeProblem) summarize(qnode int) {
	q := p.qtree.Node(qnode)
	ls := &p.qstats[q.Left]
	rs := &p.qstats[q.Right]
	qs := &p.qstats[qnode]

	qs.summaryLower = math.Min(ls.summaryLower+ls.postponedLower, rs.summaryLower+rs.postponedLower)
	qs.summaryUsedError = math.Max(ls.summaryUsedError+ls.postponedUsedError, rs.summaryUsedError+rs.postponedUsedError)
	qs.summaryPruned = math.Min(ls.summaryPruned+ls.postponedPruned, rs.summaryPruned+rs.postponedPruned)
}

// finalize walks the query tree once more, pushing every still-postponed
// correction down to the leaves and into the per-point accumulators.
func (p *kdeProblem) finalize(qnode int) {
	q := p.qtree.Node(qnode)
	qs := &p.qstats[qnode]

	if q.IsLeaf() {
		for qi := q.Begin; qi < q.End; qi++ {
			p.lower[qi] += qs.postponedLower
			p.est[qi] += qs.postponedEst
			p.upper[qi] += qs.postponedUpper
			p.usedError[qi] += qs.postponedUsedError
			p.pruned[qi] += qs.postponedPruned
		}
	} else {
		p.pushDown(qnode)
		p.finalize(q.Left)
		p.finalize(q.Right)
	}
	qs.postponedLower = 0
	qs.postponedEst = 0
	qs.postponedUpper = 0
	qs.postponedUsedError = 0
	qs.postponedPruned = 0
}
