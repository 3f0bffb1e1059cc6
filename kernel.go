package dualtree

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Kernel is the smoothing function injected into density computations.
//
// EvalUnnormOnSq must be monotonically non-increasing in its argument with
// EvalUnnormOnSq(0) == 1; the pruning rules rely on both properties to map
// a squared-distance range onto a kernel-value range by evaluating only the
// two endpoints.
type Kernel interface {
	// EvalUnnormOnSq returns the unnormalized kernel value at squared
	// distance dsq.
	EvalUnnormOnSq(dsq float64) float64

	// NormConstant returns the integral of the unnormalized kernel over
	// dims-dimensional space, used to normalize density estimates.
	NormConstant(dims int) float64
}

// GaussianKernel is exp(-d²/(2h²)) with bandwidth h.
type GaussianKernel struct {
	bandwidth   float64
	invTwoBwSq  float64
	bandwidthSq float64
}

// NewGaussianKernel returns a Gaussian kernel with the given bandwidth.
// The bandwidth must be positive and finite.
func NewGaussianKernel(bandwidth float64) (*GaussianKernel, error) {
	if bandwidth <= 0 || math.IsInf(bandwidth, 0) || math.IsNaN(bandwidth) {
		return nil, fmt.Errorf("dualtree: Gaussian bandwidth must be positive and finite, got %v", bandwidth)
	}
	return &GaussianKernel{
		bandwidth:   bandwidth,
		invTwoBwSq:  1 / (2 * bandwidth * bandwidth),
		bandwidthSq: bandwidth * bandwidth,
	}, nil
}

// Bandwidth returns the kernel bandwidth h.
func (k *GaussianKernel) Bandwidth() float64 { return k.bandwidth }

func (k *GaussianKernel) EvalUnnormOnSq(dsq float64) float64 {
	return math.Exp(-dsq * k.invTwoBwSq)
}

// NormConstant returns (2π)^(d/2) · h^d.
func (k *GaussianKernel) NormConstant(dims int) float64 {
	return math.Pow(2*math.Pi*k.bandwidthSq, float64(dims)/2)
}

// EpanechnikovKernel is max(0, 1 - d²/h²) with bandwidth h.
type EpanechnikovKernel struct {
	bandwidth   float64
	invBwSq     float64
	bandwidthSq float64
}

// NewEpanechnikovKernel returns an Epanechnikov kernel with the given
// bandwidth. The bandwidth must be positive and finite.
func NewEpanechnikovKernel(bandwidth float64) (*EpanechnikovKernel, error) {
	if bandwidth <= 0 || math.IsInf(bandwidth, 0) || math.IsNaN(bandwidth) {
		return nil, fmt.Errorf("dualtree: Epanechnikov bandwidth must be positive and finite, got %v", bandwidth)
	}
	return &EpanechnikovKernel{
		bandwidth:   bandwidth,
		invBwSq:     1 / (bandwidth * bandwidth),
		bandwidthSq: bandwidth * bandwidth,
	}, nil
}

// Bandwidth returns the kernel bandwidth h.
func (k *EpanechnikovKernel) Bandwidth() float64 { return k.bandwidth }

func (k *EpanechnikovKernel) EvalUnnormOnSq(dsq float64) float64 {
	v := 1 - dsq*k.invBwSq
	if v < 0 {
		return 0
	}
	return v
}

// NormConstant returns 2·V_d(h) / (d+2), where V_d(h) is the volume of the
// d-dimensional ball of radius h.
func (k *EpanechnikovKernel) NormConstant(dims int) float64 {
	d := float64(dims)
	ballVolume := math.Pow(math.Pi, d/2) * math.Pow(k.bandwidth, d) /
		math.Gamma(d/2+1)
	return 2 * ballVolume / (d + 2)
}

// Whitener maps points into a space where a full-covariance Gaussian
// bandwidth matrix Σ becomes the unit isotropic bandwidth: with Σ = LLᵀ,
// the transform y = L⁻¹x turns the Mahalanobis form xᵀΣ⁻¹x into |y|².
// Run any isotropic kernel with bandwidth 1 over whitened points to obtain
// a full-covariance estimate; NormConstant supplies the matching
// normalization (2π)^(d/2)·√det Σ.
type Whitener struct {
	chol mat.Cholesky
	dims int
}

// NewWhitener factorizes the covariance bandwidth matrix. A covariance that
// is not symmetric positive definite (singular or indefinite) is rejected
// with an error; it would otherwise surface as NaN densities mid-traversal.
func NewWhitener(cov *mat.SymDense) (*Whitener, error) {
	w := &Whitener{dims: cov.SymmetricDim()}
	if ok := w.chol.Factorize(cov); !ok {
		return nil, fmt.Errorf("dualtree: covariance bandwidth matrix is not positive definite")
	}
	return w, nil
}

// Dim returns the dimensionality of the whitened space.
func (w *Whitener) Dim() int { return w.dims }

// Transform whitens n flat row-major points, returning a new flat slice.
func (w *Whitener) Transform(points []float64, n int) ([]float64, error) {
	if len(points) != n*w.dims {
		return nil, fmt.Errorf("dualtree: point slice length %d does not match n*dims = %d", len(points), n*w.dims)
	}
	var l mat.TriDense
	w.chol.LTo(&l)

	// Solve L·Yᵀ = Xᵀ, one column per point.
	x := mat.NewDense(w.dims, n, nil)
	for i := 0; i < n; i++ {
		for d := 0; d < w.dims; d++ {
			x.Set(d, i, points[i*w.dims+d])
		}
	}
	var y mat.Dense
	if err := y.Solve(&l, x); err != nil {
		return nil, fmt.Errorf("dualtree: whitening solve failed: %w", err)
	}
	out := make([]float64, n*w.dims)
	for i := 0; i < n; i++ {
		for d := 0; d < w.dims; d++ {
			out[i*w.dims+d] = y.At(d, i)
		}
	}
	return out, nil
}

// NormConstant returns (2π)^(d/2) · √det Σ, the Gaussian normalization in
// the original (unwhitened) space.
func (w *Whitener) NormConstant() float64 {
	d := float64(w.dims)
	return math.Pow(2*math.Pi, d/2) * math.Exp(0.5*w.chol.LogDet())
}

// SilvermanBandwidth returns the rule-of-thumb bandwidth
// σ̂ · (4 / ((d+2)·n))^(1/(d+4)) for n flat row-major points, where σ̂ is
// the per-dimension sample standard deviation averaged across dimensions.
// Returns an error when the data is degenerate (fewer than two points, or
// zero spread in every dimension).
func SilvermanBandwidth(points []float64, n, dims int) (float64, error) {
	if n < 2 {
		return 0, fmt.Errorf("dualtree: Silverman bandwidth needs at least 2 points, got %d", n)
	}
	if len(points) != n*dims {
		return 0, fmt.Errorf("dualtree: point slice length %d does not match n*dims = %d", len(points), n*dims)
	}
	col := make([]float64, n)
	var sigma float64
	for d := 0; d < dims; d++ {
		for i := 0; i < n; i++ {
			col[i] = points[i*dims+d]
		}
		sigma += stat.StdDev(col, nil)
	}
	sigma /= float64(dims)
	if sigma == 0 {
		return 0, fmt.Errorf("dualtree: all points identical, Silverman bandwidth undefined")
	}
	d := float64(dims)
	return sigma * math.Pow(4/((d+2)*float64(n)), 1/(d+4)), nil
}
