package segmentation

import (
	"errors"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var errNonFinite = errors.New("non-finite value in feature matrix")

// fit is one k-means solution.
type fit struct {
	labels    []int
	centroids [][]float64
	inertia   float64
	iters     int
}

// kmeans runs nInit seeded restarts of Lloyd's algorithm and keeps the
// lowest-inertia solution. All randomness comes from rng.
func kmeans(x *mat.Dense, k, nInit, maxIter int, tol float64, rng *rand.Rand) (*fit, error) {
	n, d := x.Dims()
	points := make([][]float64, n)
	for i := range points {
		points[i] = x.RawRowView(i)
		for _, v := range points[i] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errNonFinite
			}
		}
	}

	// Convergence threshold is relative to the data's mean column variance.
	col := make([]float64, n)
	var meanVar float64
	for j := 0; j < d; j++ {
		mat.Col(col, j, x)
		_, v := stat.PopMeanVariance(col, nil)
		meanVar += v
	}
	tol *= meanVar / float64(d)

	var best *fit
	for run := 0; run < nInit; run++ {
		f := lloyd(points, initPlusPlus(points, k, rng), maxIter, tol)
		if best == nil || f.inertia < best.inertia {
			best = f
		}
	}
	return best, nil
}

// initPlusPlus seeds centroids with greedy k-means++: each new centroid is
// the best of 2+log(k) candidates sampled proportionally to squared distance.
func initPlusPlus(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(points)
	trials := 2 + int(math.Log(float64(k)))

	centroids := make([][]float64, 0, k)
	centroids = append(centroids, clone(points[rng.Intn(n)]))

	closest := make([]float64, n)
	for i, p := range points {
		closest[i] = sqDist(p, centroids[0])
	}
	potential := floats.Sum(closest)

	for len(centroids) < k {
		bestIdx := -1
		bestPot := math.Inf(1)
		var bestClosest []float64

		for t := 0; t < trials; t++ {
			idx := sample(closest, potential, rng)
			cand := make([]float64, n)
			for i, p := range points {
				cand[i] = math.Min(closest[i], sqDist(p, points[idx]))
			}
			if pot := floats.Sum(cand); pot < bestPot {
				bestIdx, bestPot, bestClosest = idx, pot, cand
			}
		}

		centroids = append(centroids, clone(points[bestIdx]))
		closest, potential = bestClosest, bestPot
	}
	return centroids
}

// sample draws an index with probability weights[i]/total, uniformly when
// every weight is zero.
func sample(weights []float64, total float64, rng *rand.Rand) int {
	if total <= 0 {
		return rng.Intn(len(weights))
	}
	r := rng.Float64() * total
	var acc float64
	for i, w := range weights {
		acc += w
		if r < acc {
			return i
		}
	}
	return len(weights) - 1
}

func lloyd(points [][]float64, centroids [][]float64, maxIter int, tol float64) *fit {
	n, k := len(points), len(centroids)
	d := len(points[0])
	labels := make([]int, n)

	iters := 0
	for iters < maxIter {
		iters++
		assign(points, centroids, labels)

		next := make([][]float64, k)
		counts := make([]int, k)
		for c := range next {
			next[c] = make([]float64, d)
		}
		for i, p := range points {
			floats.Add(next[labels[i]], p)
			counts[labels[i]]++
		}
		for c := range next {
			if counts[c] == 0 {
				// Empty cluster: move it onto the point worst served by its centroid.
				far := farthest(points, centroids, labels)
				copy(next[c], points[far])
				labels[far] = c
				continue
			}
			floats.Scale(1/float64(counts[c]), next[c])
		}

		var shift float64
		for c := range centroids {
			shift += sqDist(centroids[c], next[c])
		}
		centroids = next
		if shift <= tol {
			break
		}
	}

	inertia := assign(points, centroids, labels)
	return &fit{labels: labels, centroids: centroids, inertia: inertia, iters: iters}
}

// assign labels every point with its nearest centroid and returns the
// summed squared distance.
func assign(points [][]float64, centroids [][]float64, labels []int) float64 {
	var inertia float64
	for i, p := range points {
		best, bestD := 0, math.Inf(1)
		for c, ctr := range centroids {
			if dd := sqDist(p, ctr); dd < bestD {
				best, bestD = c, dd
			}
		}
		labels[i] = best
		inertia += bestD
	}
	return inertia
}

func farthest(points [][]float64, centroids [][]float64, labels []int) int {
	idx, maxD := 0, -1.0
	for i, p := range points {
		if dd := sqDist(p, centroids[labels[i]]); dd > maxD {
			idx, maxD = i, dd
		}
	}
	return idx
}

func sqDist(a, b []float64) float64 {
	dd := floats.Distance(a, b, 2)
	return dd * dd
}

func clone(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
