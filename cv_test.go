package dualtree

import (
	"math"
	"math/rand"
	"testing"
)

// naiveLSCV recomputes the cross-validation score by exhaustive pairwise
// sums, mirroring the dual-tree assembly exactly.
func naiveLSCV(points []float64, n, dims int, h float64) float64 {
	conv, _ := NewGaussianKernel(math.Sqrt2 * h)
	plain, _ := NewGaussianKernel(h)

	pairSum := func(k Kernel) float64 {
		var sum float64
		for q := 0; q < n; q++ {
			qp := points[q*dims : (q+1)*dims]
			for r := 0; r < n; r++ {
				rp := points[r*dims : (r+1)*dims]
				sum += k.EvalUnnormOnSq(SquaredDistance(qp, rp))
			}
		}
		return sum / (k.NormConstant(dims) * float64(n))
	}

	s1 := pairSum(conv)
	s2 := pairSum(plain)
	return (s1 - 2*s2 + 2/plain.NormConstant(dims)) / float64(n)
}

func TestLSCVScore_MatchesNaive(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	n, dims := 400, 2
	pts := gaussianCloud(rng, n, dims)

	cfg := DefaultConfig()
	cfg.LeafSize = 20
	cfg.RelativeError = 0

	for _, h := range []float64{0.2, 0.5, 1.0} {
		got, err := LSCVScore(pts, n, dims, nil, h, cfg)
		if err != nil {
			t.Fatalf("LSCVScore(h=%v): %v", h, err)
		}
		want := naiveLSCV(pts, n, dims, h)
		if math.Abs(got-want) > 1e-8 {
			t.Errorf("LSCVScore(h=%v) = %v, want %v", h, got, want)
		}
	}
}

func TestLSCVScore_PrefersReasonableBandwidth(t *testing.T) {
	// For a standard Gaussian sample, a moderate bandwidth must score
	// better (lower) than both a spike and an oversmoothed blur.
	rng := rand.New(rand.NewSource(17))
	n, dims := 500, 1
	pts := make([]float64, n)
	for i := range pts {
		pts[i] = rng.NormFloat64()
	}

	cfg := DefaultConfig()
	cfg.RelativeError = 0

	score := func(h float64) float64 {
		s, err := LSCVScore(pts, n, dims, nil, h, cfg)
		if err != nil {
			t.Fatalf("LSCVScore(h=%v): %v", h, err)
		}
		return s
	}

	tiny := score(0.005)
	mid := score(0.3)
	huge := score(20)
	if mid >= tiny {
		t.Errorf("score(0.3) = %v, want below score(0.005) = %v", mid, tiny)
	}
	if mid >= huge {
		t.Errorf("score(0.3) = %v, want below score(20) = %v", mid, huge)
	}
}

func TestLSCVScore_InvalidBandwidth(t *testing.T) {
	cfg := DefaultConfig()
	if _, err := LSCVScore([]float64{0, 1, 2, 3}, 4, 1, nil, 0, cfg); err == nil {
		t.Error("zero bandwidth: expected error, got nil")
	}
}
