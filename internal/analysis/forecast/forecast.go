// Package forecast projects weekly revenue with an additive regression of
// piecewise-linear trend, yearly seasonality and national holidays, and
// reports in-sample accuracy, prediction intervals and a weekly trend.
package forecast

import (
	"fmt"
	"math"
	"time"

	"github.com/boddenberg/retail-insights-go/internal/analysis/features"
	"github.com/boddenberg/retail-insights-go/internal/domain"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	DefaultHorizonWeeks = 52
	MaxHorizonWeeks     = 520

	defaultChangepoints          = 25
	defaultChangepointRange      = 0.8
	defaultChangepointPriorScale = 0.05
	defaultSeasonalityPriorScale = 10.0
	defaultHolidayPriorScale     = 10.0
	defaultFourierOrder          = 10
	defaultIntervalWidth         = 0.80
)

// Engine fits the weekly revenue model. Weekly seasonality is never
// modelled: the input is already aggregated to one point per week.
type Engine struct {
	NChangepoints         int
	ChangepointRange      float64
	ChangepointPriorScale float64
	SeasonalityPriorScale float64
	HolidayPriorScale     float64
	FourierOrder          int
	IntervalWidth         float64
	Holidays              HolidayCalendar

	logger *zap.Logger
}

// NewEngine returns an Engine with Brazilian holidays and an 80% interval.
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{
		NChangepoints:         defaultChangepoints,
		ChangepointRange:      defaultChangepointRange,
		ChangepointPriorScale: defaultChangepointPriorScale,
		SeasonalityPriorScale: defaultSeasonalityPriorScale,
		HolidayPriorScale:     defaultHolidayPriorScale,
		FourierOrder:          defaultFourierOrder,
		IntervalWidth:         defaultIntervalWidth,
		Holidays:              BrazilHolidays,
		logger:                logger,
	}
}

// ValidateHorizon reports a *domain.ErrValidation unless
// 1 <= horizonWeeks <= MaxHorizonWeeks.
func ValidateHorizon(horizonWeeks int) error {
	if horizonWeeks < 1 || horizonWeeks > MaxHorizonWeeks {
		return &domain.ErrValidation{
			Field:   "horizon_weeks",
			Message: fmt.Sprintf("must be between 1 and %d, got %d", MaxHorizonWeeks, horizonWeeks),
		}
	}
	return nil
}

// Forecast aggregates rows to weeks, fits the model and projects
// horizonWeeks weeks past the last historical week. It returns nil and an
// *domain.AnalysisError when history is too short or the fit fails.
func (e *Engine) Forecast(rows []domain.Transaction, horizonWeeks int) (result *domain.Forecast, err error) {
	const op = "forecast.Forecast"

	if err := ValidateHorizon(horizonWeeks); err != nil {
		return nil, err
	}

	history := features.AggregateWeekly(rows)
	if len(history) < features.MinWeeklyPoints {
		e.logger.Info("forecast skipped: not enough weekly history",
			zap.Int("weeks", len(history)),
			zap.Int("required", features.MinWeeklyPoints),
		)
		return nil, domain.NewAnalysisError(domain.KindInsufficientHistory, op,
			fmt.Errorf("%d weekly points, need %d", len(history), features.MinWeeklyPoints))
	}

	defer func() {
		if r := recover(); r != nil {
			err = domain.NewAnalysisError(domain.KindForecastFailure, op, fmt.Errorf("panic: %v", r))
			e.logger.Error("error in forecast", zap.Error(err))
			result = nil
		}
	}()

	weeks := make([]time.Time, len(history))
	actual := make([]float64, len(history))
	for i, p := range history {
		weeks[i] = p.Week
		actual[i] = p.Total
	}

	m, err := e.fitModel(weeks, actual)
	if err != nil {
		err = domain.NewAnalysisError(domain.KindForecastFailure, op, err)
		e.logger.Error("error in forecast", zap.Error(err))
		return nil, err
	}

	fitted := make([]float64, len(weeks))
	for i, w := range weeks {
		fitted[i], _ = m.predict(w)
	}

	z := distuv.UnitNormal.Quantile(0.5 + e.IntervalWidth/2)

	records := make([]domain.ForecastRecord, 0, len(history)+horizonWeeks)
	for _, p := range history {
		records = append(records, domain.ForecastRecord{Date: p.Week, Value: p.Total, Type: domain.Realized})
	}
	for _, w := range features.FutureWeeks(weeks[len(weeks)-1], horizonWeeks) {
		yhat, se := m.predict(w)
		lower, upper := yhat-z*se, yhat+z*se
		if math.IsNaN(yhat) || math.IsInf(yhat, 0) {
			err = domain.NewAnalysisError(domain.KindForecastFailure, op, errNonFinite)
			e.logger.Error("error in forecast", zap.Error(err))
			return nil, err
		}
		records = append(records, domain.ForecastRecord{
			Date:  w,
			Value: yhat,
			Lower: &lower,
			Upper: &upper,
			Type:  domain.Prediction,
		})
	}

	lastActual := actual[len(actual)-1]
	lastPred := records[len(records)-1].Value

	result = &domain.Forecast{
		Records:      records,
		History:      history,
		Trend:        Trend(lastPred, lastActual, horizonWeeks),
		Metrics:      Accuracy(actual, fitted),
		HorizonWeeks: horizonWeeks,
	}

	e.logger.Debug("forecast fitted",
		zap.Int("weeks", len(history)),
		zap.Int("horizon_weeks", horizonWeeks),
		zap.Float64("trend", result.Trend),
		zap.Float64("r2", result.Metrics.R2),
		zap.Float64("sigma", m.sigma*m.yScale),
	)
	return result, nil
}

// Trend is the average weekly change from the last actual to the forecast
// endpoint, normalized by the horizon actually forecast. It is an endpoint
// ratio, not a regression slope.
func Trend(endpoint, lastActual float64, horizonWeeks int) float64 {
	if horizonWeeks <= 0 {
		return 0
	}
	return (endpoint - lastActual) / float64(horizonWeeks)
}

// Accuracy computes R², MAE and RMSE of predicted against actual.
// With constant actuals R² is 1 for a perfect fit and 0 otherwise.
func Accuracy(actual, predicted []float64) domain.ForecastMetrics {
	n := len(actual)
	if n == 0 || n != len(predicted) {
		return domain.ForecastMetrics{}
	}

	var mean float64
	for _, v := range actual {
		mean += v
	}
	mean /= float64(n)

	var ssRes, ssTot, absErr float64
	for i, v := range actual {
		d := v - predicted[i]
		ssRes += d * d
		absErr += math.Abs(d)
		ssTot += (v - mean) * (v - mean)
	}

	r2 := 0.0
	switch {
	case ssTot > 0:
		r2 = 1 - ssRes/ssTot
	case ssRes == 0:
		r2 = 1
	}

	return domain.ForecastMetrics{
		R2:         r2,
		MAEWeekly:  absErr / float64(n),
		RMSEWeekly: math.Sqrt(ssRes / float64(n)),
	}
}
