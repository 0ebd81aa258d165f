package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
	Detail      string `json:"detail,omitempty"`
}

// NarrativeSnapshot is returned by GET /v1/metrics/narrative.
type NarrativeSnapshot struct {
	TotalRequests int64   `json:"totalRequests"`
	FallbackCount int64   `json:"fallbackCount"`
	FallbackRate  float64 `json:"fallbackRate"`
	AvgTTFTMs     float64 `json:"avgTtftMs"`
	AvgLatencyMs  float64 `json:"avgLatencyMs"`
	DegradedTotal int64   `json:"degradedTotal"`
	ReportsTotal  int64   `json:"reportsTotal"`
	CacheHitRate  float64 `json:"cacheHitRate"`
	Period        string  `json:"period"`
}
