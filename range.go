package dualtree

import "math"

// Range is a closed real interval [Lo, Hi]. It is used both for
// per-dimension extents of rectangular bounds and for squared-distance
// ranges between pairs of bounds.
//
// An empty range has Lo = +Inf and Hi = -Inf, so that including any
// value produces the degenerate interval [v, v].
type Range struct {
	Lo, Hi float64
}

// emptyRange returns the identity element for Include/IncludeRange.
func emptyRange() Range {
	return Range{Lo: math.Inf(1), Hi: math.Inf(-1)}
}

// Width returns Hi - Lo. Negative for an empty range.
func (r Range) Width() float64 { return r.Hi - r.Lo }

// Mid returns the midpoint (Lo + Hi) / 2.
func (r Range) Mid() float64 { return (r.Lo + r.Hi) / 2 }

// Contains reports whether v lies in [Lo, Hi].
func (r Range) Contains(v float64) bool { return v >= r.Lo && v <= r.Hi }

// Include grows the range to cover v. Monotonic: the range never shrinks.
func (r *Range) Include(v float64) {
	if v < r.Lo {
		r.Lo = v
	}
	if v > r.Hi {
		r.Hi = v
	}
}

// IncludeRange grows the range to cover all of o.
func (r *Range) IncludeRange(o Range) {
	if o.Lo < r.Lo {
		r.Lo = o.Lo
	}
	if o.Hi > r.Hi {
		r.Hi = o.Hi
	}
}
