package observability

import (
	"time"

	"github.com/boddenberg/retail-insights-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the insights service.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration  *prometheus.HistogramVec
	externalErrors   *prometheus.CounterVec
	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
	narrativeTTFT    *prometheus.HistogramVec
	narrativeLatency *prometheus.HistogramVec
	narratives       *prometheus.CounterVec
	degraded         *prometheus.CounterVec
	reportsTotal     *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	narrativeBuckets := []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60}

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "insights_stage_duration_seconds",
				Help:    "Duration of pipeline stages by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insights_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insights_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insights_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		narrativeTTFT: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "insights_narrative_ttft_seconds",
				Help:    "Time to first streamed narrative fragment.",
				Buckets: narrativeBuckets,
			},
			[]string{"kind"},
		),
		narrativeLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "insights_narrative_latency_seconds",
				Help:    "Total narrative stream duration.",
				Buckets: narrativeBuckets,
			},
			[]string{"kind"},
		),
		narratives: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insights_narratives_total",
				Help: "Narrative attempts by outcome.",
			},
			[]string{"outcome"},
		),
		degraded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insights_degraded_components_total",
				Help: "Pipeline components that produced no result.",
			},
			[]string{"component", "kind"},
		),
		reportsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insights_reports_total",
				Help: "Total report pipeline runs.",
			},
			[]string{"status"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// RecordNarrative observes one narrative attempt. Fallbacks carry no timings.
func (m *Metrics) RecordNarrative(kind string, ttft, latency time.Duration, fallback bool) {
	if fallback {
		m.narratives.WithLabelValues("fallback").Inc()
		return
	}
	m.narratives.WithLabelValues("success").Inc()
	m.narrativeTTFT.WithLabelValues(kind).Observe(ttft.Seconds())
	m.narrativeLatency.WithLabelValues(kind).Observe(latency.Seconds())
}

// IncrDegraded counts a component that degraded during a pipeline run.
func (m *Metrics) IncrDegraded(component string, kind domain.ErrorKind) {
	m.degraded.WithLabelValues(component, string(kind)).Inc()
}

// IncrReport increments the report counter with a status label.
func (m *Metrics) IncrReport(status string) {
	m.reportsTotal.WithLabelValues(status).Inc()
}

// GetNarrativeSnapshot returns a snapshot of narrative-related metrics suitable
// for the GET /v1/metrics/narrative endpoint.
func (m *Metrics) GetNarrativeSnapshot() *domain.NarrativeSnapshot {
	success := getCounterValue(m.narratives, "success")
	fallback := getCounterValue(m.narratives, "fallback")
	total := success + fallback
	cacheHits := getCounterValue(m.cacheHits, "report")
	cacheMisses := getCounterValue(m.cacheMisses, "report")

	fallbackRate := float64(0)
	cacheHitRate := float64(0)
	if total > 0 {
		fallbackRate = fallback / total
	}
	if cacheHits+cacheMisses > 0 {
		cacheHitRate = cacheHits / (cacheHits + cacheMisses)
	}

	var degraded float64
	for _, v := range collectCounters(m.degraded) {
		degraded += v
	}
	var reports float64
	for _, v := range collectCounters(m.reportsTotal) {
		reports += v
	}

	return &domain.NarrativeSnapshot{
		TotalRequests: int64(total),
		FallbackCount: int64(fallback),
		FallbackRate:  fallbackRate,
		AvgTTFTMs:     histogramMeanMs(m.narrativeTTFT),
		AvgLatencyMs:  histogramMeanMs(m.narrativeLatency),
		DegradedTotal: int64(degraded),
		ReportsTotal:  int64(reports),
		CacheHitRate:  cacheHitRate,
		Period:        "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

// collectCounters returns the value of every child of a CounterVec.
func collectCounters(cv *prometheus.CounterVec) []float64 {
	ch := make(chan prometheus.Metric, 64)
	go func() {
		cv.Collect(ch)
		close(ch)
	}()

	var out []float64
	for metric := range ch {
		m := &dto.Metric{}
		if err := metric.Write(m); err == nil && m.Counter != nil {
			out = append(out, m.Counter.GetValue())
		}
	}
	return out
}

// histogramMeanMs averages every observation across a HistogramVec, in ms.
func histogramMeanMs(hv *prometheus.HistogramVec) float64 {
	ch := make(chan prometheus.Metric, 16)
	go func() {
		hv.Collect(ch)
		close(ch)
	}()

	var sum float64
	var count uint64
	for metric := range ch {
		m := &dto.Metric{}
		if err := metric.Write(m); err == nil && m.Histogram != nil {
			sum += m.Histogram.GetSampleSum()
			count += m.Histogram.GetSampleCount()
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count) * 1000
}
