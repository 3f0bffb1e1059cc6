package dualtree

// Bound is a geometric region guaranteed to contain every point owned by a
// tree node. Two implementations are provided: HRectBound (axis-aligned
// hyper-rectangle, used by KD-trees) and BallBound (center plus radius,
// used by metric trees).
//
// All distance methods work in squared Euclidean space: no square roots are
// taken, and no floating-point tolerance is applied. Callers that need an
// error guarantee must budget for rounding themselves (the pruning rules do).
//
// The two-bound methods require both operands to be the same concrete type;
// mixing rectangle and ball bounds is a programmer error and panics. Trees
// built by the same builder always carry matching bound types.
type Bound interface {
	// Dim returns the dimensionality of the bounded space.
	Dim() int

	// Contains reports whether point lies inside the region.
	Contains(point []float64) bool

	// MinDistSq returns the minimum possible squared distance between any
	// point in this region and any point in other.
	MinDistSq(other Bound) float64

	// MaxDistSq returns the maximum possible squared distance between any
	// point in this region and any point in other.
	MaxDistSq(other Bound) float64

	// RangeDistSq returns [MinDistSq, MaxDistSq] in one pass.
	RangeDistSq(other Bound) Range

	// MinDistSqPoint returns the minimum squared distance from the region
	// to point; zero if the point is inside.
	MinDistSqPoint(point []float64) float64

	// MaxDistSqPoint returns the maximum squared distance from any point
	// in the region to point.
	MaxDistSqPoint(point []float64) float64

	// Expand grows the region to include point. Monotonic: the region
	// never shrinks under repeated expansion.
	Expand(point []float64)

	// ExpandBound grows the region to include all of other.
	ExpandBound(other Bound)
}
