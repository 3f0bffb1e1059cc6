package dualtree

// BallBound is a center plus radius. Distances between two balls reduce to
// the center distance minus the radii, clamped at zero, then squared.
//
// A zero-value-like empty ball (nil center) behaves as the empty set:
// expanding it with a point centers the ball there with radius zero. Tree
// builders instead fix the centroid up front and only ever grow the radius.
type BallBound struct {
	center []float64
	radius float64
	dim    int
}

// NewBallBound returns an empty-set ball bound over dim dimensions.
func NewBallBound(dim int) *BallBound {
	return &BallBound{dim: dim}
}

// newBallBoundAt returns a ball centered at center with radius zero.
// The center slice is copied.
func newBallBoundAt(center []float64) *BallBound {
	c := make([]float64, len(center))
	copy(c, center)
	return &BallBound{center: c, radius: 0, dim: len(center)}
}

func (b *BallBound) Dim() int { return b.dim }

// Center returns the ball center; nil for an empty bound.
func (b *BallBound) Center() []float64 { return b.center }

// Radius returns the ball radius.
func (b *BallBound) Radius() float64 { return b.radius }

func (b *BallBound) Contains(point []float64) bool {
	if b.center == nil {
		return false
	}
	return SquaredDistance(b.center, point) <= b.radius*b.radius
}

func (b *BallBound) MinDistSq(other Bound) float64 {
	o := other.(*BallBound)
	d := Distance(b.center, o.center) - b.radius - o.radius
	if d < 0 {
		return 0
	}
	return d * d
}

func (b *BallBound) MaxDistSq(other Bound) float64 {
	o := other.(*BallBound)
	d := Distance(b.center, o.center) + b.radius + o.radius
	return d * d
}

func (b *BallBound) RangeDistSq(other Bound) Range {
	o := other.(*BallBound)
	cd := Distance(b.center, o.center)
	lo := cd - b.radius - o.radius
	if lo < 0 {
		lo = 0
	}
	hi := cd + b.radius + o.radius
	return Range{Lo: lo * lo, Hi: hi * hi}
}

func (b *BallBound) MinDistSqPoint(point []float64) float64 {
	d := Distance(b.center, point) - b.radius
	if d < 0 {
		return 0
	}
	return d * d
}

func (b *BallBound) MaxDistSqPoint(point []float64) float64 {
	d := Distance(b.center, point) + b.radius
	return d * d
}

func (b *BallBound) Expand(point []float64) {
	if b.center == nil {
		b.center = make([]float64, len(point))
		copy(b.center, point)
		b.radius = 0
		b.dim = len(point)
		return
	}
	if d := Distance(b.center, point); d > b.radius {
		b.radius = d
	}
}

func (b *BallBound) ExpandBound(other Bound) {
	o := other.(*BallBound)
	if o.center == nil {
		return
	}
	if b.center == nil {
		b.center = make([]float64, len(o.center))
		copy(b.center, o.center)
		b.radius = o.radius
		b.dim = o.dim
		return
	}
	if d := Distance(b.center, o.center) + o.radius; d > b.radius {
		b.radius = d
	}
}
