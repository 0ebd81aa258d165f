// Package narrative turns aggregate analysis results into short AI-written
// commentary, measuring time-to-first-token and total latency of the stream.
package narrative

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/retail-insights-go/internal/domain"
	"github.com/boddenberg/retail-insights-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("analysis/narrative")

// DefaultTimeout bounds a whole narrative stream.
const DefaultTimeout = 60 * time.Second

var errEmptyStream = errors.New("stream produced no text")

// Recorder receives one observation per narrative attempt.
type Recorder interface {
	RecordNarrative(kind string, ttft, latency time.Duration, fallback bool)
}

// Synthesizer generates narratives through a TextStreamer.
type Synthesizer struct {
	streamer port.TextStreamer
	model    string
	timeout  time.Duration
	recorder Recorder
	logger   *zap.Logger
}

// NewSynthesizer creates a Synthesizer. A non-positive timeout selects
// DefaultTimeout; recorder may be nil.
func NewSynthesizer(streamer port.TextStreamer, model string, timeout time.Duration, recorder Recorder, logger *zap.Logger) *Synthesizer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Synthesizer{
		streamer: streamer,
		model:    model,
		timeout:  timeout,
		recorder: recorder,
		logger:   logger,
	}
}

// NarrateForecast describes a forecast.
func (s *Synthesizer) NarrateForecast(ctx context.Context, c ForecastContext) (domain.Narrative, error) {
	return s.Narrate(ctx, domain.ForecastNarrative, c)
}

// NarrateSegmentation describes a segmentation.
func (s *Synthesizer) NarrateSegmentation(ctx context.Context, c SegmentationContext) (domain.Narrative, error) {
	return s.Narrate(ctx, domain.SegmentationNarrative, c)
}

// Narrate streams a narrative for data, which must be a ForecastContext or a
// SegmentationContext matching kind. On any failure it returns the fallback
// text with zero metrics together with an error of kind NarrativeUnavailable.
func (s *Synthesizer) Narrate(ctx context.Context, kind domain.NarrativeKind, data any) (domain.Narrative, error) {
	const op = "narrative.Narrate"

	ctx, span := tracer.Start(ctx, "Synthesizer.Narrate")
	defer span.End()
	span.SetAttributes(attribute.String("narrative.kind", string(kind)))

	var req domain.CompletionRequest
	switch c := data.(type) {
	case ForecastContext:
		if kind != domain.ForecastNarrative {
			return s.fallback(kind, op, fmt.Errorf("forecast context for %q narrative", kind))
		}
		req = forecastPrompt(c)
	case SegmentationContext:
		if kind != domain.SegmentationNarrative {
			return s.fallback(kind, op, fmt.Errorf("segmentation context for %q narrative", kind))
		}
		req = segmentationPrompt(c)
	default:
		return s.fallback(kind, op, fmt.Errorf("unsupported narrative context %T", data))
	}
	req.Model = s.model

	text, metrics, err := s.stream(ctx, req)
	if err != nil {
		span.RecordError(err)
		return s.fallback(kind, op, err)
	}

	if s.recorder != nil {
		s.recorder.RecordNarrative(string(kind), metrics.TTFT, metrics.Latency, false)
	}
	s.logger.Debug("narrative generated",
		zap.String("kind", string(kind)),
		zap.Duration("ttft", metrics.TTFT),
		zap.Duration("latency", metrics.Latency),
		zap.Int("chars", len(text)),
	)

	return domain.Narrative{Kind: kind, Text: text, Metrics: metrics}, nil
}

func (s *Synthesizer) stream(ctx context.Context, req domain.CompletionRequest) (string, domain.NarrativeMetrics, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	chunks, err := s.streamer.Stream(ctx, req)
	if err != nil {
		return "", domain.NarrativeMetrics{}, fmt.Errorf("open stream: %w", err)
	}

	var (
		b    strings.Builder
		ttft time.Duration
	)
	for done := false; !done; {
		select {
		case <-ctx.Done():
			return "", domain.NarrativeMetrics{}, streamCtxErr(ctx)
		case chunk, ok := <-chunks:
			switch {
			case !ok:
				done = true
			case chunk.Err != nil:
				return "", domain.NarrativeMetrics{}, fmt.Errorf("stream: %w", chunk.Err)
			default:
				if chunk.Text != "" && b.Len() == 0 {
					ttft = time.Since(start)
				}
				b.WriteString(chunk.Text)
			}
		}
	}

	// A stream closed because of cancellation is not a complete answer.
	if ctx.Err() != nil {
		return "", domain.NarrativeMetrics{}, streamCtxErr(ctx)
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", domain.NarrativeMetrics{}, errEmptyStream
	}
	return text, domain.NarrativeMetrics{TTFT: ttft, Latency: time.Since(start)}, nil
}

func streamCtxErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &domain.ErrTimeout{Operation: "narrative stream"}
	}
	return ctx.Err()
}

func (s *Synthesizer) fallback(kind domain.NarrativeKind, op string, cause error) (domain.Narrative, error) {
	s.logger.Warn("narrative unavailable, using fallback",
		zap.String("kind", string(kind)),
		zap.Error(cause),
	)
	if s.recorder != nil {
		s.recorder.RecordNarrative(string(kind), 0, 0, true)
	}
	return domain.Narrative{Kind: kind, Text: domain.FallbackNarrative},
		domain.NewAnalysisError(domain.KindNarrativeUnavailable, op, cause)
}
