package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/retail-insights-go/internal/analysis/forecast"
	"github.com/boddenberg/retail-insights-go/internal/analysis/narrative"
	"github.com/boddenberg/retail-insights-go/internal/analysis/segmentation"
	"github.com/boddenberg/retail-insights-go/internal/domain"
	"github.com/boddenberg/retail-insights-go/internal/infra/observability"
	"github.com/boddenberg/retail-insights-go/internal/infra/resilience"
	"github.com/boddenberg/retail-insights-go/internal/port"
	"github.com/boddenberg/retail-insights-go/internal/report"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("service/pipeline")

// Component names used in degraded statuses and metrics.
const (
	ComponentSegmentation          = "segmentation"
	ComponentForecast              = "forecast"
	ComponentForecastNarrative     = "forecast_narrative"
	ComponentSegmentationNarrative = "segmentation_narrative"
)

// PipelineConfig holds request defaults and resource limits.
type PipelineConfig struct {
	ClusterK             int
	HorizonWeeks         int
	NarrativeConcurrency int
	CacheTTL             time.Duration
}

// Pipeline runs the analysis end to end: load, filter, segment and forecast
// concurrently, narrate, then lay out the report.
type Pipeline struct {
	source     port.TransactionSource
	segmenter  *segmentation.Engine
	forecaster *forecast.Engine
	narrator   *narrative.Synthesizer
	assembler  *report.Assembler
	cache      port.ReportCache
	metrics    *observability.Metrics
	narratives *resilience.Bulkhead
	cfg        PipelineConfig
	logger     *zap.Logger
}

// NewPipeline creates the pipeline with all dependencies injected.
func NewPipeline(
	source port.TransactionSource,
	segmenter *segmentation.Engine,
	forecaster *forecast.Engine,
	narrator *narrative.Synthesizer,
	assembler *report.Assembler,
	cache port.ReportCache,
	metrics *observability.Metrics,
	cfg PipelineConfig,
	logger *zap.Logger,
) *Pipeline {
	if cfg.ClusterK == 0 {
		cfg.ClusterK = 4
	}
	if cfg.HorizonWeeks == 0 {
		cfg.HorizonWeeks = forecast.DefaultHorizonWeeks
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 30 * time.Minute
	}
	return &Pipeline{
		source:     source,
		segmenter:  segmenter,
		forecaster: forecaster,
		narrator:   narrator,
		assembler:  assembler,
		cache:      cache,
		metrics:    metrics,
		narratives: resilience.NewBulkhead(cfg.NarrativeConcurrency),
		cfg:        cfg,
		logger:     logger,
	}
}

// Run produces a report for req. Analysis components that cannot produce a
// result are listed in Report.Degraded; only source failures and layout
// failures fail the request.
func (p *Pipeline) Run(ctx context.Context, req domain.AnalysisRequest) (*domain.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "Pipeline.Run")
	defer span.End()

	start := time.Now()
	defer func() {
		p.metrics.RecordRequestDuration("pipeline", time.Since(start))
	}()

	req = p.withDefaults(req)
	if err := validate(req); err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("analysis.k", req.K),
		attribute.Int("analysis.horizon_weeks", req.HorizonWeeks),
	)

	rows, schema, err := p.load(ctx, req.Filter)
	if err != nil {
		p.metrics.IncrReport("failure")
		return nil, err
	}
	span.SetAttributes(attribute.Int("analysis.rows", len(rows)))

	fingerprint := Fingerprint(req, rows)
	if cached := p.cached(ctx, fingerprint); cached != nil {
		return cached, nil
	}

	// --- Step 1: segmentation ∥ forecast. Branch errors never cancel each other. ---
	var (
		seg      domain.Segmentation
		segErr   error
		fc       *domain.Forecast
		fcErr    error
		degraded []domain.ComponentStatus
	)

	var g errgroup.Group
	g.Go(func() error {
		seg, segErr = p.segment(ctx, rows, schema, req.K)
		return nil
	})
	g.Go(func() error {
		fc, fcErr = p.forecast(ctx, rows, req.HorizonWeeks)
		return nil
	})
	_ = g.Wait()

	if segErr != nil {
		degraded = append(degraded, p.degrade(ComponentSegmentation, segErr))
	}
	if fcErr != nil {
		degraded = append(degraded, p.degrade(ComponentForecast, fcErr))
	}

	// --- Step 2: narratives, bounded by the narrative bulkhead ---
	fcText, segText, narrativeDegraded := p.narrate(ctx, req, rows, fc, seg)
	degraded = append(degraded, narrativeDegraded...)

	// --- Step 3: layout ---
	kpis := KPIs(rows)
	generated := time.Now()
	doc, err := p.assembler.Assemble(domain.ReportInput{
		ForecastNarrative:     fcText.Text,
		SegmentationNarrative: segText.Text,
		KPIs:                  kpis,
		ForecastImage:         req.ForecastImage,
		ClusterImage:          req.ClusterImage,
		HorizonWeeks:          req.HorizonWeeks,
		GeneratedAt:           generated,
	})
	if err != nil {
		p.logger.Error("report assembly failed", zap.Error(err))
		span.RecordError(err)
		p.metrics.IncrReport("failure")
		return nil, err
	}

	rep := &domain.Report{
		ID:                    uuid.New().String(),
		GeneratedAt:           generated,
		Rows:                  len(rows),
		KPIs:                  kpis,
		Forecast:              fc,
		SegmentationMetrics:   seg.Metrics,
		ClusterProfiles:       seg.Profiles,
		ForecastNarrative:     fcText,
		SegmentationNarrative: segText,
		Degraded:              degraded,
		Document:              doc,
	}
	if seg.Metrics != nil {
		rep.Segmentation = &seg
	}

	p.store(ctx, rep.ID, rep)
	if len(narrativeDegraded) == 0 {
		p.store(ctx, fingerprintKey(fingerprint), rep)
	}

	p.metrics.IncrReport("success")
	p.logger.Info("report generated",
		zap.String("report_id", rep.ID),
		zap.Int("rows", rep.Rows),
		zap.Int("degraded", len(degraded)),
		zap.Int("bytes", len(doc)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return rep, nil
}

// Segment clusters the filtered snapshot. A degraded run returns the
// labeled rows together with an *domain.AnalysisError.
func (p *Pipeline) Segment(ctx context.Context, k int, filter domain.TransactionFilter) (domain.Segmentation, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Segment")
	defer span.End()

	if k == 0 {
		k = p.cfg.ClusterK
	}
	if k < segmentation.MinK {
		return domain.Segmentation{}, &domain.ErrValidation{Field: "k", Message: fmt.Sprintf("must be >= %d, got %d", segmentation.MinK, k)}
	}

	rows, schema, err := p.load(ctx, filter)
	if err != nil {
		return domain.Segmentation{}, err
	}
	seg, err := p.segment(ctx, rows, schema, k)
	if err != nil {
		p.degrade(ComponentSegmentation, err)
	}
	return seg, err
}

// Forecast projects the filtered snapshot's weekly revenue.
func (p *Pipeline) Forecast(ctx context.Context, horizonWeeks int, filter domain.TransactionFilter) (*domain.Forecast, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Forecast")
	defer span.End()

	if horizonWeeks == 0 {
		horizonWeeks = p.cfg.HorizonWeeks
	}
	if err := forecast.ValidateHorizon(horizonWeeks); err != nil {
		return nil, err
	}

	rows, _, err := p.load(ctx, filter)
	if err != nil {
		return nil, err
	}
	fc, err := p.forecast(ctx, rows, horizonWeeks)
	if err != nil {
		p.degrade(ComponentForecast, err)
	}
	return fc, err
}

// GetReport returns a previously generated report.
func (p *Pipeline) GetReport(ctx context.Context, id string) (*domain.Report, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.GetReport")
	defer span.End()
	span.SetAttributes(attribute.String("report.id", id))

	rep, ok, err := p.cache.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		p.metrics.IncrCacheMiss("report")
		return nil, &domain.ErrNotFound{Resource: "report", ID: id}
	}
	p.metrics.IncrCacheHit("report")
	return rep, nil
}

func (p *Pipeline) withDefaults(req domain.AnalysisRequest) domain.AnalysisRequest {
	if req.K == 0 {
		req.K = p.cfg.ClusterK
	}
	if req.HorizonWeeks == 0 {
		req.HorizonWeeks = p.cfg.HorizonWeeks
	}
	return req
}

func validate(req domain.AnalysisRequest) error {
	if req.K < segmentation.MinK {
		return &domain.ErrValidation{Field: "k", Message: fmt.Sprintf("must be >= %d, got %d", segmentation.MinK, req.K)}
	}
	if err := forecast.ValidateHorizon(req.HorizonWeeks); err != nil {
		return err
	}
	return nil
}

func (p *Pipeline) load(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, domain.FeatureSchema, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.load")
	defer span.End()

	start := time.Now()
	rows, schema, err := p.source.Snapshot(ctx)
	p.metrics.RecordRequestDuration("source", time.Since(start))
	if err != nil {
		p.logger.Error("failed to load transactions", zap.Error(err))
		p.metrics.IncrExternalError("source")
		span.RecordError(err)
		return nil, nil, fmt.Errorf("load transactions: %w", err)
	}

	if !filter.IsZero() {
		rows = filter.Apply(rows)
	}
	return rows, schema, nil
}

func (p *Pipeline) segment(ctx context.Context, rows []domain.Transaction, schema domain.FeatureSchema, k int) (domain.Segmentation, error) {
	_, span := tracer.Start(ctx, "Pipeline.segment")
	defer span.End()

	start := time.Now()
	seg, err := p.segmenter.Segment(rows, schema, k)
	p.metrics.RecordRequestDuration(ComponentSegmentation, time.Since(start))
	if err != nil {
		span.RecordError(err)
	}
	return seg, err
}

func (p *Pipeline) forecast(ctx context.Context, rows []domain.Transaction, horizon int) (*domain.Forecast, error) {
	_, span := tracer.Start(ctx, "Pipeline.forecast")
	defer span.End()

	start := time.Now()
	fc, err := p.forecaster.Forecast(rows, horizon)
	p.metrics.RecordRequestDuration(ComponentForecast, time.Since(start))
	if err != nil {
		span.RecordError(err)
	}
	return fc, err
}

// narrate generates both narratives. A narrative whose analysis degraded, or
// that was skipped by the caller, carries the fallback text without calling
// the model.
func (p *Pipeline) narrate(
	ctx context.Context,
	req domain.AnalysisRequest,
	rows []domain.Transaction,
	fc *domain.Forecast,
	seg domain.Segmentation,
) (fcText, segText domain.Narrative, degraded []domain.ComponentStatus) {
	fcText = domain.Narrative{Kind: domain.ForecastNarrative, Text: domain.FallbackNarrative}
	segText = domain.Narrative{Kind: domain.SegmentationNarrative, Text: domain.FallbackNarrative}
	if req.SkipNarratives || p.narrator == nil {
		return fcText, segText, nil
	}

	var fcErr, segErr error
	var g errgroup.Group
	if fc != nil {
		fctx := narrative.ForecastContext{
			TotalRevenue: TotalRevenue(rows),
			Trend:        fc.Trend,
			ForecastEnd:  fc.LastValue(),
			HorizonWeeks: fc.HorizonWeeks,
		}
		g.Go(func() error {
			fcErr = p.narratives.Do(ctx, func(ctx context.Context) error {
				n, err := p.narrator.NarrateForecast(ctx, fctx)
				fcText = n
				return err
			})
			return nil
		})
	}
	if len(seg.Profiles) > 0 {
		sctx := narrative.SegmentationContext{Profiles: seg.Profiles}
		g.Go(func() error {
			segErr = p.narratives.Do(ctx, func(ctx context.Context) error {
				n, err := p.narrator.NarrateSegmentation(ctx, sctx)
				segText = n
				return err
			})
			return nil
		})
	}
	_ = g.Wait()

	if fcErr != nil {
		fcText = domain.Narrative{Kind: domain.ForecastNarrative, Text: domain.FallbackNarrative}
		degraded = append(degraded, p.degrade(ComponentForecastNarrative, fcErr))
	}
	if segErr != nil {
		segText = domain.Narrative{Kind: domain.SegmentationNarrative, Text: domain.FallbackNarrative}
		degraded = append(degraded, p.degrade(ComponentSegmentationNarrative, segErr))
	}
	return fcText, segText, degraded
}

// degrade logs and counts a component failure and describes it.
func (p *Pipeline) degrade(component string, err error) domain.ComponentStatus {
	kind := domain.KindOf(err)
	if kind == "" {
		switch component {
		case ComponentForecastNarrative, ComponentSegmentationNarrative:
			kind = domain.KindNarrativeUnavailable
		case ComponentForecast:
			kind = domain.KindForecastFailure
		default:
			kind = domain.KindModelFitFailure
		}
	}

	p.logger.Warn("component degraded",
		zap.String("component", component),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)
	p.metrics.IncrDegraded(component, kind)

	return domain.ComponentStatus{Component: component, Kind: kind, Message: err.Error()}
}

func (p *Pipeline) cached(ctx context.Context, fingerprint string) *domain.Report {
	rep, ok, err := p.cache.Get(ctx, fingerprintKey(fingerprint))
	if err != nil {
		p.logger.Warn("report cache unavailable", zap.Error(err))
		p.metrics.IncrExternalError("cache")
		return nil
	}
	if !ok {
		p.metrics.IncrCacheMiss("report")
		return nil
	}
	p.metrics.IncrCacheHit("report")
	p.logger.Debug("serving cached report", zap.String("report_id", rep.ID))
	return rep
}

func (p *Pipeline) store(ctx context.Context, key string, rep *domain.Report) {
	if err := p.cache.Set(ctx, key, rep, p.cfg.CacheTTL); err != nil {
		var ext *domain.ErrExternalService
		if !errors.As(err, &ext) {
			err = &domain.ErrExternalService{Service: "cache", Err: err}
		}
		p.logger.Warn("failed to cache report", zap.String("key", key), zap.Error(err))
		p.metrics.IncrExternalError("cache")
	}
}
