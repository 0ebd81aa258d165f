package domain

import (
	"encoding/json"
	"time"
)

// ============================================================
// AI Narratives
// ============================================================

// NarrativeKind selects which analysis a narrative describes.
type NarrativeKind string

const (
	ForecastNarrative     NarrativeKind = "forecast"
	SegmentationNarrative NarrativeKind = "segmentation"
)

// FallbackNarrative replaces the text when the generation service fails.
const FallbackNarrative = "Analysis unavailable."

// NarrativeMetrics holds time-to-first-chunk and total stream latency.
type NarrativeMetrics struct {
	TTFT    time.Duration
	Latency time.Duration
}

// MarshalJSON reports both durations in seconds.
func (m NarrativeMetrics) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		TTFT    float64 `json:"ttft_seconds"`
		Latency float64 `json:"latency_seconds"`
	}{m.TTFT.Seconds(), m.Latency.Seconds()})
}

// UnmarshalJSON reads the form written by MarshalJSON.
func (m *NarrativeMetrics) UnmarshalJSON(b []byte) error {
	var raw struct {
		TTFT    float64 `json:"ttft_seconds"`
		Latency float64 `json:"latency_seconds"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	m.TTFT = time.Duration(raw.TTFT * float64(time.Second))
	m.Latency = time.Duration(raw.Latency * float64(time.Second))
	return nil
}

// Narrative is the generated text for one analysis.
type Narrative struct {
	Kind    NarrativeKind    `json:"kind"`
	Text    string           `json:"text"`
	Metrics NarrativeMetrics `json:"metrics"`
}

// CompletionRequest is sent to the text-generation service.
type CompletionRequest struct {
	System string
	User   string
	Model  string
	Stream bool
}

// StreamChunk is one fragment from a streaming completion. A chunk with a
// non-nil Err is terminal.
type StreamChunk struct {
	Text string
	Err  error
}
