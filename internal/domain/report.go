package domain

import "time"

// ============================================================
// Reports
// ============================================================

// KPI is one labeled, pre-formatted indicator on the report.
type KPI struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// ReportInput is everything the assembler lays out.
// Images are optional PNG bytes.
type ReportInput struct {
	ForecastNarrative     string
	SegmentationNarrative string
	KPIs                  []KPI
	ForecastImage         []byte
	ClusterImage          []byte
	HorizonWeeks          int
	GeneratedAt           time.Time
}

// ComponentStatus records a pipeline stage that degraded.
type ComponentStatus struct {
	Component string    `json:"component"`
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
}

// AnalysisRequest is the input of one end-to-end pipeline run.
type AnalysisRequest struct {
	K              int               `json:"k"`
	HorizonWeeks   int               `json:"horizon_weeks"`
	Filter         TransactionFilter `json:"filter"`
	ForecastImage  []byte            `json:"forecast_image,omitempty"`
	ClusterImage   []byte            `json:"cluster_image,omitempty"`
	SkipNarratives bool              `json:"skip_narratives,omitempty"`
}

// Report is the result of a full pipeline run.
type Report struct {
	ID                    string               `json:"id"`
	GeneratedAt           time.Time            `json:"generated_at"`
	Rows                  int                  `json:"rows"`
	KPIs                  []KPI                `json:"kpis"`
	Segmentation          *Segmentation        `json:"-"`
	Forecast              *Forecast            `json:"forecast,omitempty"`
	SegmentationMetrics   *SegmentationMetrics `json:"segmentation_metrics,omitempty"`
	ClusterProfiles       []ClusterProfile     `json:"cluster_profiles,omitempty"`
	ForecastNarrative     Narrative            `json:"forecast_narrative"`
	SegmentationNarrative Narrative            `json:"segmentation_narrative"`
	Degraded              []ComponentStatus    `json:"degraded,omitempty"`
	Document              []byte               `json:"-"`
}
