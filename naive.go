package dualtree

import (
	"errors"
	"fmt"
	"sync"
)

func errorQueryLength(got, qn, dims int) error {
	return fmt.Errorf("dualtree: query slice length %d does not match qn*dims = %d", got, qn*dims)
}

// ComputeNaive evaluates the density at qn query points (flat row-major,
// original order) by the exhaustive O(qn·n) sum, without trees or pruning.
// It is the correctness baseline for the dual-tree traversal and the faster
// choice for very small inputs. Config.Workers rows are processed per
// goroutine batch; results are identical regardless of worker count.
func (k *KDE) ComputeNaive(queries []float64, qn int) (*Result, error) {
	if k.cfg.LeaveOneOut {
		return nil, errors.New("dualtree: LeaveOneOut requires a monochromatic computation, use ComputeNaiveMono")
	}
	if len(queries) != qn*k.dims {
		return nil, errorQueryLength(len(queries), qn, k.dims)
	}
	sums := k.naiveSums(func(q int) []float64 {
		return queries[q*k.dims : (q+1)*k.dims]
	}, qn)

	res := &Result{
		Densities: make([]float64, qn),
		Lower:     make([]float64, qn),
		Upper:     make([]float64, qn),
	}
	denom := k.kernel.NormConstant(k.dims) * k.rootWeight
	for q := 0; q < qn; q++ {
		d := sums[q] / denom
		res.Densities[q] = d
		res.Lower[q] = d
		res.Upper[q] = d
	}
	return res, nil
}

// ComputeNaiveMono is the exhaustive counterpart of ComputeMono, honoring
// Config.LeaveOneOut the same way.
func (k *KDE) ComputeNaiveMono() (*Result, error) {
	n := k.rtree.NumPoints()
	if k.cfg.LeaveOneOut && n < 2 {
		return nil, errors.New("dualtree: leave-one-out density is undefined for a single point")
	}

	// Query points in original order come out of the permuted tree storage.
	newFromOld := k.rtree.NewFromOld()
	sums := k.naiveSums(func(q int) []float64 {
		return k.rtree.Point(newFromOld[q])
	}, n)

	res := &Result{
		Densities: make([]float64, n),
		Lower:     make([]float64, n),
		Upper:     make([]float64, n),
	}
	norm := k.kernel.NormConstant(k.dims)
	for q := 0; q < n; q++ {
		sum := sums[q]
		denom := norm * k.rootWeight
		if k.cfg.LeaveOneOut {
			w := k.weights[newFromOld[q]]
			sum -= w
			denom = norm * (k.rootWeight - w)
		}
		d := sum / denom
		res.Densities[q] = d
		res.Lower[q] = d
		res.Upper[q] = d
	}
	return res, nil
}

// naiveSums computes the unnormalized weighted kernel sum for each of qn
// query points, fanning rows out across Config.Workers goroutines. Each
// worker owns a contiguous row range, so writes never overlap.
func (k *KDE) naiveSums(queryPoint func(q int) []float64, qn int) []float64 {
	sums := make([]float64, qn)
	n := k.rtree.NumPoints()

	evalRange := func(start, end int) {
		for q := start; q < end; q++ {
			qp := queryPoint(q)
			var sum float64
			for r := 0; r < n; r++ {
				kv := k.kernel.EvalUnnormOnSq(SquaredDistance(qp, k.rtree.Point(r)))
				sum += kv * k.weights[r]
			}
			sums[q] = sum
		}
	}

	workers := k.cfg.Workers
	if workers <= 1 || qn <= 1 {
		evalRange(0, qn)
		return sums
	}

	var wg sync.WaitGroup
	rowsPerWorker := (qn + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * rowsPerWorker
		if start >= qn {
			break
		}
		end := start + rowsPerWorker
		if end > qn {
			end = qn
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			evalRange(start, end)
		}(start, end)
	}
	wg.Wait()
	return sums
}
