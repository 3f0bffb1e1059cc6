package dualtree

import "math"

// refStat is the per-node reference aggregate, computed bottom-up once at
// build time and never mutated afterwards.
type refStat struct {
	// weightSum is the sum of reference weights owned by the node.
	weightSum float64
}

// combineRefStats merges two child aggregates into a parent aggregate.
// The combination is associative and commutative, so build order is
// irrelevant.
func combineRefStats(left, right refStat) refStat {
	return refStat{weightSum: left.weightSum + right.weightSum}
}

// buildRefStats computes reference aggregates for every node of t.
// weights must already be in tree order. Parents have smaller arena indices
// than children, so a reverse sweep sees both children before the parent.
func buildRefStats(t *Tree, weights []float64) []refStat {
	stats := make([]refStat, t.NumNodes())
	for i := t.NumNodes() - 1; i >= 0; i-- {
		nd := t.Node(i)
		if nd.IsLeaf() {
			var sum float64
			for j := nd.Begin; j < nd.End; j++ {
				sum += weights[j]
			}
			stats[i] = refStat{weightSum: sum}
		} else {
			stats[i] = combineRefStats(stats[nd.Left], stats[nd.Right])
		}
	}
	return stats
}

// kdeQueryStat carries the query-side mutable traversal state for one node
// of the query tree.
//
// The postponed fields are correction deltas granted by prunes against this
// node but not yet pushed to its points; the true running value for any
// query point equals its per-point accumulator plus the sum of postponed
// corrections along its root path. The summary fields cache, across the
// node's points, the worst case of the corresponding per-point quantity
// (minimum lower bound, maximum used error, minimum pruned mass) and are
// refined after every descent so that pruning decisions higher up see
// tightened bounds.
type kdeQueryStat struct {
	postponedLower     float64
	postponedEst       float64
	postponedUpper     float64
	postponedUsedError float64
	postponedPruned    float64

	summaryLower     float64
	summaryUsedError float64
	summaryPruned    float64
}

// reset clears the traversal state to its pre-computation neutral values.
func (s *kdeQueryStat) reset() {
	s.postponedLower = 0
	s.postponedEst = 0
	s.postponedUpper = 0
	s.postponedUsedError = 0
	s.postponedPruned = 0
	s.summaryLower = 0
	s.summaryUsedError = 0
	s.summaryPruned = 0
}

// resetSummaryForRefinement opens the summary fields so that a base case
// can recompute them as min/max over the node's points.
func (s *kdeQueryStat) resetSummaryForRefinement() {
	s.summaryLower = math.Inf(1)
	s.summaryUsedError = 0
	s.summaryPruned = math.Inf(1)
}
