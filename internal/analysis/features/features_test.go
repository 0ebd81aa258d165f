package features_test

import (
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/retail-insights-go/internal/analysis/features"
	"github.com/boddenberg/retail-insights-go/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestPrepareClusterFeatures_Standardizes(t *testing.T) {
	rows := []domain.Transaction{
		{Total: 100, Rating: 4, Quantity: 1},
		{Total: 250, Rating: 9, Quantity: 5},
		{Total: 40, Rating: 6.5, Quantity: 2},
		{Total: 700, Rating: 2, Quantity: 9},
		{Total: 180, Rating: 7, Quantity: 3},
	}

	x, err := features.PrepareClusterFeatures(rows, domain.FullSchema(), 3)
	require.NoError(t, err)

	r, c := x.Dims()
	require.Equal(t, 5, r)
	require.Equal(t, 3, c)

	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, x)
		mean, variance := stat.PopMeanVariance(col, nil)
		assert.InDelta(t, 0, mean, 1e-12, "column %d mean", j)
		assert.InDelta(t, 1, variance, 1e-12, "column %d variance", j)
	}
}

func TestPrepareClusterFeatures_ConstantColumn(t *testing.T) {
	rows := []domain.Transaction{
		{Total: 10, Rating: 5, Quantity: 2},
		{Total: 20, Rating: 5, Quantity: 4},
	}

	x, err := features.PrepareClusterFeatures(rows, nil, 2)
	require.NoError(t, err)
	assert.Equal(t, 0.0, x.At(0, 1))
	assert.Equal(t, 0.0, x.At(1, 1))
}

func TestPrepareClusterFeatures_InsufficientData(t *testing.T) {
	rows := []domain.Transaction{{Total: 1, Rating: 1, Quantity: 1}}

	_, err := features.PrepareClusterFeatures(rows, domain.FullSchema(), 4)
	assert.True(t, errors.Is(err, domain.ErrInsufficientData))

	_, err = features.PrepareClusterFeatures(nil, domain.FullSchema(), 2)
	assert.True(t, errors.Is(err, domain.ErrInsufficientData))
}

func TestPrepareClusterFeatures_SchemaMismatch(t *testing.T) {
	rows := []domain.Transaction{{Total: 1}, {Total: 2}}
	schema := domain.FeatureSchema{domain.FeatureTotal: true, domain.FeatureQuantity: true}

	_, err := features.PrepareClusterFeatures(rows, schema, 2)
	assert.True(t, errors.Is(err, domain.ErrFeatureSchemaMismatch))
}

func TestWeekEnding(t *testing.T) {
	// 2026-01-04 is a Sunday.
	assert.Equal(t, date(2026, 1, 4), features.WeekEnding(date(2026, 1, 4)))
	assert.Equal(t, date(2026, 1, 4), features.WeekEnding(date(2026, 1, 1)))
	assert.Equal(t, date(2026, 1, 11), features.WeekEnding(date(2026, 1, 5)))
	assert.Equal(t, date(2026, 1, 11), features.WeekEnding(time.Date(2026, 1, 10, 23, 59, 0, 0, time.UTC)))
}

func TestAggregateWeekly_ZeroFillsGaps(t *testing.T) {
	rows := []domain.Transaction{
		{Date: date(2026, 1, 1), Total: 10},
		{Date: date(2026, 1, 3), Total: 5},
		{Date: date(2026, 1, 20), Total: 7},
	}

	got := features.AggregateWeekly(rows)
	require.Len(t, got, 4)
	assert.Equal(t, domain.WeeklyPoint{Week: date(2026, 1, 4), Total: 15}, got[0])
	assert.Equal(t, domain.WeeklyPoint{Week: date(2026, 1, 11), Total: 0}, got[1])
	assert.Equal(t, domain.WeeklyPoint{Week: date(2026, 1, 18), Total: 0}, got[2])
	assert.Equal(t, domain.WeeklyPoint{Week: date(2026, 1, 25), Total: 7}, got[3])
}

func TestAggregateWeekly_Empty(t *testing.T) {
	assert.Nil(t, features.AggregateWeekly(nil))
}

func TestFutureWeeks(t *testing.T) {
	got := features.FutureWeeks(date(2026, 1, 4), 3)
	assert.Equal(t, []time.Time{date(2026, 1, 11), date(2026, 1, 18), date(2026, 1, 25)}, got)
}
