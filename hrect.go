package dualtree

import "math"

// HRectBound is an axis-aligned hyper-rectangle: one Range per dimension.
// A freshly created bound is the empty set (every range [+Inf, -Inf]);
// expanding it with a single point p collapses every range to [p_d, p_d].
type HRectBound struct {
	ranges []Range
}

// NewHRectBound returns an empty-set rectangle bound over dim dimensions.
func NewHRectBound(dim int) *HRectBound {
	ranges := make([]Range, dim)
	for d := range ranges {
		ranges[d] = emptyRange()
	}
	return &HRectBound{ranges: ranges}
}

func (b *HRectBound) Dim() int { return len(b.ranges) }

// DimRange returns the extent of the bound along dimension d.
func (b *HRectBound) DimRange(d int) Range { return b.ranges[d] }

func (b *HRectBound) Contains(point []float64) bool {
	for d, r := range b.ranges {
		if point[d] < r.Lo || point[d] > r.Hi {
			return false
		}
	}
	return true
}

// MinDistSq computes the minimum squared distance between two rectangles
// using the clamped-difference identity: for v1 = other.lo - this.hi and
// v2 = this.lo - other.hi, (v + |v|) selects 2*max(v, 0), so the
// per-dimension gap squared is ((v1+|v1|) + (v2+|v2|))^2 / 4. At most one
// of v1, v2 is positive, so the sum picks out the actual gap.
func (b *HRectBound) MinDistSq(other Bound) float64 {
	o := other.(*HRectBound)
	var sum float64
	for d, r := range b.ranges {
		v1 := o.ranges[d].Lo - r.Hi
		v2 := r.Lo - o.ranges[d].Hi
		v := (v1 + math.Abs(v1)) + (v2 + math.Abs(v2))
		sum += v * v
	}
	return sum / 4
}

// MaxDistSq computes the maximum squared distance between two rectangles:
// per dimension the farthest corner pair.
func (b *HRectBound) MaxDistSq(other Bound) float64 {
	o := other.(*HRectBound)
	var sum float64
	for d, r := range b.ranges {
		v := math.Max(o.ranges[d].Hi-r.Lo, r.Hi-o.ranges[d].Lo)
		sum += v * v
	}
	return sum
}

func (b *HRectBound) RangeDistSq(other Bound) Range {
	o := other.(*HRectBound)
	var lo, hi float64
	for d, r := range b.ranges {
		v1 := o.ranges[d].Lo - r.Hi
		v2 := r.Lo - o.ranges[d].Hi
		v := (v1 + math.Abs(v1)) + (v2 + math.Abs(v2))
		lo += v * v
		w := math.Max(o.ranges[d].Hi-r.Lo, r.Hi-o.ranges[d].Lo)
		hi += w * w
	}
	return Range{Lo: lo / 4, Hi: hi}
}

func (b *HRectBound) MinDistSqPoint(point []float64) float64 {
	var sum float64
	for d, r := range b.ranges {
		v1 := r.Lo - point[d]
		v2 := point[d] - r.Hi
		v := (v1 + math.Abs(v1)) + (v2 + math.Abs(v2))
		sum += v * v
	}
	return sum / 4
}

func (b *HRectBound) MaxDistSqPoint(point []float64) float64 {
	var sum float64
	for d, r := range b.ranges {
		v := math.Max(point[d]-r.Lo, r.Hi-point[d])
		sum += v * v
	}
	return sum
}

func (b *HRectBound) Expand(point []float64) {
	for d := range b.ranges {
		b.ranges[d].Include(point[d])
	}
}

func (b *HRectBound) ExpandBound(other Bound) {
	o := other.(*HRectBound)
	for d := range b.ranges {
		b.ranges[d].IncludeRange(o.ranges[d])
	}
}
