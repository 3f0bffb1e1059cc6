package dualtree

import "math"

// SquaredDistance returns the squared Euclidean distance between a and b.
// All bound math and kernel evaluation in this package works on squared
// distances; the square root is taken only where a caller asks for true
// distances (e.g. neighbor results).
func SquaredDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// Distance returns the Euclidean distance between a and b.
func Distance(a, b []float64) float64 {
	return math.Sqrt(SquaredDistance(a, b))
}
