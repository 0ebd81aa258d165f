// Package features turns transaction snapshots into model inputs: a
// standardized feature matrix for clustering and a dense weekly revenue
// series for forecasting.
package features

import (
	"fmt"
	"math"
	"time"

	"github.com/boddenberg/retail-insights-go/internal/domain"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// MinWeeklyPoints is the shortest weekly history a forecast accepts.
const MinWeeklyPoints = 10

// Scaler holds per-column standardization parameters fitted on one call.
// It is never reused across requests.
type Scaler struct {
	Mean  []float64
	Scale []float64
}

// Matrix projects rows onto the clustering features in FeatureNames order.
func Matrix(rows []domain.Transaction) *mat.Dense {
	data := make([]float64, 0, len(rows)*len(domain.FeatureNames))
	for _, r := range rows {
		data = append(data, r.Total, r.Rating, float64(r.Quantity))
	}
	return mat.NewDense(len(rows), len(domain.FeatureNames), data)
}

// FitScaler computes population mean and standard deviation per column.
// A constant column gets scale 1 so it is centered but not divided by zero.
func FitScaler(x mat.Matrix) *Scaler {
	r, c := x.Dims()
	s := &Scaler{Mean: make([]float64, c), Scale: make([]float64, c)}
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, x)
		mean, variance := stat.PopMeanVariance(col, nil)
		std := math.Sqrt(variance)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		s.Mean[j] = mean
		s.Scale[j] = std
	}
	return s
}

// Transform returns a standardized copy of x.
func (s *Scaler) Transform(x mat.Matrix) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, j int, v float64) float64 {
		return (v - s.Mean[j]) / s.Scale[j]
	}, x)
	return out
}

// PrepareClusterFeatures returns the standardized (Total, Rating, Quantity)
// matrix for rows. The schema declares which columns the source populated.
func PrepareClusterFeatures(rows []domain.Transaction, schema domain.FeatureSchema, k int) (*mat.Dense, error) {
	const op = "features.PrepareClusterFeatures"

	if missing := schema.Missing(); len(missing) > 0 {
		return nil, domain.NewAnalysisError(domain.KindFeatureSchemaMismatch, op,
			fmt.Errorf("missing features %v", missing))
	}
	if len(rows) == 0 || len(rows) < k {
		return nil, domain.NewAnalysisError(domain.KindInsufficientData, op,
			fmt.Errorf("%d rows for %d clusters", len(rows), k))
	}

	x := Matrix(rows)
	return FitScaler(x).Transform(x), nil
}

// WeekEnding maps t to the Sunday that closes its Monday..Sunday week,
// at midnight UTC. Sundays map to themselves.
func WeekEnding(t time.Time) time.Time {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (7 - int(d.Weekday())) % 7
	return d.AddDate(0, 0, offset)
}

// AggregateWeekly sums totals into Sunday-ending weeks. The result covers
// every week between the first and last transaction; weeks without sales
// are present with a zero total so the series has a regular 7-day index.
func AggregateWeekly(rows []domain.Transaction) []domain.WeeklyPoint {
	if len(rows) == 0 {
		return nil
	}

	sums := make(map[time.Time]float64)
	first, last := WeekEnding(rows[0].Date), WeekEnding(rows[0].Date)
	for _, r := range rows {
		w := WeekEnding(r.Date)
		sums[w] += r.Total
		if w.Before(first) {
			first = w
		}
		if w.After(last) {
			last = w
		}
	}

	n := int(last.Sub(first).Hours()/24/7) + 1
	out := make([]domain.WeeklyPoint, 0, n)
	for w := first; !w.After(last); w = w.AddDate(0, 0, 7) {
		out = append(out, domain.WeeklyPoint{Week: w, Total: sums[w]})
	}
	return out
}

// FutureWeeks returns horizon week-ending dates after last, 7 days apart.
func FutureWeeks(last time.Time, horizon int) []time.Time {
	if horizon <= 0 {
		return nil
	}
	out := make([]time.Time, horizon)
	w := WeekEnding(last)
	for i := range out {
		w = w.AddDate(0, 0, 7)
		out[i] = w
	}
	return out
}
