package domain

import "time"

// ============================================================
// Revenue Forecast
// ============================================================

// RecordType tags a forecast row as history or model output.
type RecordType string

const (
	Realized   RecordType = "Realized"
	Prediction RecordType = "Prediction"
)

// WeeklyPoint is one week of summed revenue, keyed by the week-ending date.
type WeeklyPoint struct {
	Week  time.Time `json:"week"`
	Total float64   `json:"total"`
}

// ForecastRecord is one row of the merged history + forecast table.
// Realized rows carry the true weekly aggregate and no bounds.
type ForecastRecord struct {
	Date  time.Time  `json:"date"`
	Value float64    `json:"value"`
	Lower *float64   `json:"lower,omitempty"`
	Upper *float64   `json:"upper,omitempty"`
	Type  RecordType `json:"type"`
}

// ForecastMetrics are in-sample accuracy scores on the weekly scale.
type ForecastMetrics struct {
	R2         float64 `json:"r2_score"`
	MAEWeekly  float64 `json:"mae_weekly"`
	RMSEWeekly float64 `json:"rmse_weekly"`
}

// Forecast is the full output of one forecasting run.
type Forecast struct {
	Records      []ForecastRecord `json:"records"`
	History      []WeeklyPoint    `json:"history"`
	Trend        float64          `json:"trend"`
	Metrics      ForecastMetrics  `json:"metrics"`
	HorizonWeeks int              `json:"horizon_weeks"`
}

// Predictions returns only the Prediction rows, in date order.
func (f *Forecast) Predictions() []ForecastRecord {
	if f == nil {
		return nil
	}
	out := make([]ForecastRecord, 0, f.HorizonWeeks)
	for _, r := range f.Records {
		if r.Type == Prediction {
			out = append(out, r)
		}
	}
	return out
}

// LastValue returns the value of the final row, or 0 for an empty forecast.
func (f *Forecast) LastValue() float64 {
	if f == nil || len(f.Records) == 0 {
		return 0
	}
	return f.Records[len(f.Records)-1].Value
}
