package segmentation

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// silhouette returns the mean silhouette coefficient over all points.
// Points in singleton clusters score 0. The number of distinct labels must
// be between 2 and n-1 inclusive.
func silhouette(x *mat.Dense, labels []int, k int) (float64, error) {
	n, _ := x.Dims()

	sizes := make([]int, k)
	for _, l := range labels {
		sizes[l]++
	}
	distinct := 0
	for _, s := range sizes {
		if s > 0 {
			distinct++
		}
	}
	if distinct < 2 || distinct > n-1 {
		return 0, fmt.Errorf("silhouette needs 2..%d labels, got %d", n-1, distinct)
	}

	sums := make([]float64, k)
	var total float64
	for i := 0; i < n; i++ {
		for c := range sums {
			sums[c] = 0
		}
		pi := x.RawRowView(i)
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			sums[labels[j]] += floats.Distance(pi, x.RawRowView(j), 2)
		}

		own := labels[i]
		if sizes[own] == 1 {
			continue
		}
		a := sums[own] / float64(sizes[own]-1)
		b := -1.0
		for c, s := range sums {
			if c == own || sizes[c] == 0 {
				continue
			}
			if m := s / float64(sizes[c]); b < 0 || m < b {
				b = m
			}
		}
		if den := max(a, b); den > 0 {
			total += (b - a) / den
		}
	}
	return total / float64(n), nil
}
