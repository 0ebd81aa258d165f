package domain

// ============================================================
// Customer Segmentation
// ============================================================

// Sentinel cluster labels for degraded runs.
const (
	ClusterUnavailable = "N/A"
	ClusterError       = "Error"
)

// SegmentedTransaction is a transaction with its run-local cluster label.
// Label values group rows within one run and carry no meaning across runs.
type SegmentedTransaction struct {
	Transaction
	Cluster string `json:"cluster"`
}

// SegmentationMetrics describes the quality of a clustering fit.
type SegmentationMetrics struct {
	Inertia    float64 `json:"inertia"`
	Silhouette float64 `json:"silhouette_score"`
}

// ClusterProfile holds per-cluster feature means.
type ClusterProfile struct {
	Cluster      string  `json:"cluster"`
	Count        int     `json:"count"`
	MeanTotal    float64 `json:"mean_total"`
	MeanRating   float64 `json:"mean_rating"`
	MeanQuantity float64 `json:"mean_quantity"`
}

// Segmentation is the result of one clustering run.
// Metrics and Profiles are nil when the run was degraded.
type Segmentation struct {
	K        int                    `json:"k"`
	Rows     []SegmentedTransaction `json:"rows"`
	Metrics  *SegmentationMetrics   `json:"metrics,omitempty"`
	Profiles []ClusterProfile       `json:"profiles,omitempty"`
}
