package dualtree

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestGaussianKernel_Values(t *testing.T) {
	k, err := NewGaussianKernel(2)
	if err != nil {
		t.Fatalf("NewGaussianKernel: %v", err)
	}
	if got := k.EvalUnnormOnSq(0); got != 1 {
		t.Errorf("EvalUnnormOnSq(0) = %v, want 1", got)
	}
	// exp(-4 / (2*4)) = exp(-1/2)
	if got, want := k.EvalUnnormOnSq(4), math.Exp(-0.5); math.Abs(got-want) > 1e-15 {
		t.Errorf("EvalUnnormOnSq(4) = %v, want %v", got, want)
	}
}

func TestGaussianKernel_Monotone(t *testing.T) {
	k, _ := NewGaussianKernel(0.7)
	prev := math.Inf(1)
	for dsq := 0.0; dsq < 10; dsq += 0.25 {
		v := k.EvalUnnormOnSq(dsq)
		if v > prev {
			t.Fatalf("kernel value rose from %v to %v at squared distance %v", prev, v, dsq)
		}
		prev = v
	}
}

func TestGaussianKernel_NormConstant(t *testing.T) {
	h := 1.5
	k, _ := NewGaussianKernel(h)
	// One dimension: sqrt(2*pi) * h.
	if got, want := k.NormConstant(1), math.Sqrt(2*math.Pi)*h; math.Abs(got-want) > 1e-12 {
		t.Errorf("NormConstant(1) = %v, want %v", got, want)
	}
	// d dimensions: (2*pi*h^2)^(d/2).
	if got, want := k.NormConstant(3), math.Pow(2*math.Pi*h*h, 1.5); math.Abs(got-want) > 1e-12 {
		t.Errorf("NormConstant(3) = %v, want %v", got, want)
	}
}

func TestGaussianKernel_InvalidBandwidth(t *testing.T) {
	for _, h := range []float64{0, -1, math.Inf(1), math.NaN()} {
		if _, err := NewGaussianKernel(h); err == nil {
			t.Errorf("NewGaussianKernel(%v): expected error, got nil", h)
		}
	}
}

func TestEpanechnikovKernel_Values(t *testing.T) {
	k, err := NewEpanechnikovKernel(2)
	if err != nil {
		t.Fatalf("NewEpanechnikovKernel: %v", err)
	}
	if got := k.EvalUnnormOnSq(0); got != 1 {
		t.Errorf("EvalUnnormOnSq(0) = %v, want 1", got)
	}
	if got := k.EvalUnnormOnSq(2); math.Abs(got-0.5) > 1e-15 {
		t.Errorf("EvalUnnormOnSq(2) = %v, want 0.5", got)
	}
	// Compact support: zero at and beyond the bandwidth.
	if got := k.EvalUnnormOnSq(4); got != 0 {
		t.Errorf("EvalUnnormOnSq(4) = %v, want 0", got)
	}
	if got := k.EvalUnnormOnSq(100); got != 0 {
		t.Errorf("EvalUnnormOnSq(100) = %v, want 0", got)
	}
}

func TestEpanechnikovKernel_NormConstant(t *testing.T) {
	h := 2.0
	k, _ := NewEpanechnikovKernel(h)
	// One dimension the integral of (1 - x^2/h^2) over [-h, h] is 4h/3.
	if got, want := k.NormConstant(1), 4*h/3; math.Abs(got-want) > 1e-12 {
		t.Errorf("NormConstant(1) = %v, want %v", got, want)
	}
	// Two dimensions: 2 * pi*h^2 / 4 = pi*h^2/2.
	if got, want := k.NormConstant(2), math.Pi*h*h/2; math.Abs(got-want) > 1e-12 {
		t.Errorf("NormConstant(2) = %v, want %v", got, want)
	}
}

func TestWhitener_IdentityCovariance(t *testing.T) {
	// With the identity bandwidth matrix, whitening is a no-op and the
	// normalization matches the unit-bandwidth Gaussian.
	cov := mat.NewSymDense(2, []float64{1, 0, 0, 1})
	w, err := NewWhitener(cov)
	if err != nil {
		t.Fatalf("NewWhitener: %v", err)
	}

	pts := []float64{1, 2, -3, 0.5}
	out, err := w.Transform(pts, 2)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	for i := range pts {
		if math.Abs(out[i]-pts[i]) > 1e-12 {
			t.Errorf("Transform[%d] = %v, want %v", i, out[i], pts[i])
		}
	}

	unit, _ := NewGaussianKernel(1)
	if got, want := w.NormConstant(), unit.NormConstant(2); math.Abs(got-want) > 1e-12 {
		t.Errorf("NormConstant() = %v, want %v", got, want)
	}
}

func TestWhitener_DiagonalCovariance(t *testing.T) {
	// Diagonal Sigma = diag(4, 9): whitening divides each coordinate by
	// its bandwidth, and the Mahalanobis form becomes a plain squared norm.
	cov := mat.NewSymDense(2, []float64{4, 0, 0, 9})
	w, err := NewWhitener(cov)
	if err != nil {
		t.Fatalf("NewWhitener: %v", err)
	}
	out, err := w.Transform([]float64{2, 3}, 1)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if math.Abs(out[0]-1) > 1e-12 || math.Abs(out[1]-1) > 1e-12 {
		t.Errorf("Transform = %v, want [1 1]", out)
	}

	// NormConstant includes sqrt(det Sigma) = 6.
	if got, want := w.NormConstant(), math.Pow(2*math.Pi, 1)*6; math.Abs(got-want) > 1e-9 {
		t.Errorf("NormConstant() = %v, want %v", got, want)
	}
}

func TestWhitener_RejectsSingularCovariance(t *testing.T) {
	cov := mat.NewSymDense(2, []float64{1, 1, 1, 1})
	if _, err := NewWhitener(cov); err == nil {
		t.Error("NewWhitener with singular covariance: expected error, got nil")
	}
}

func TestSilvermanBandwidth(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	n, dims := 200, 2
	pts := randomPoints(rng, n, dims)

	h, err := SilvermanBandwidth(pts, n, dims)
	if err != nil {
		t.Fatalf("SilvermanBandwidth: %v", err)
	}
	if h <= 0 || h > 1 {
		t.Errorf("SilvermanBandwidth = %v, want a small positive value for unit-cube data", h)
	}

	// More data means a narrower bandwidth.
	more := randomPoints(rng, 4*n, dims)
	h2, err := SilvermanBandwidth(more, 4*n, dims)
	if err != nil {
		t.Fatalf("SilvermanBandwidth: %v", err)
	}
	if h2 >= h {
		t.Errorf("bandwidth did not shrink with more data: %v -> %v", h, h2)
	}
}

func TestSilvermanBandwidth_Degenerate(t *testing.T) {
	if _, err := SilvermanBandwidth([]float64{1, 2}, 1, 2); err == nil {
		t.Error("single point: expected error, got nil")
	}
	if _, err := SilvermanBandwidth([]float64{1, 1, 1, 1}, 2, 2); err == nil {
		t.Error("identical points: expected error, got nil")
	}
	if _, err := SilvermanBandwidth([]float64{1, 2, 3}, 2, 2); err == nil {
		t.Error("length mismatch: expected error, got nil")
	}
}
