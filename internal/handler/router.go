package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/boddenberg/retail-insights-go/internal/domain"
	"github.com/boddenberg/retail-insights-go/internal/infra/observability"
	"github.com/boddenberg/retail-insights-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// NewRouter creates the HTTP router with all routes and middleware.
// A nil auth leaves /v1 open.
func NewRouter(pipeline *service.Pipeline, auth *service.Authenticator, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(pipeline))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		if auth != nil {
			r.Use(BearerAuthMiddleware(auth, logger))
		}

		// POST /v1/analysis/segments
		r.Post("/analysis/segments", segmentsHandler(pipeline, logger))

		// POST /v1/analysis/forecast
		r.Post("/analysis/forecast", forecastHandler(pipeline, logger))

		// POST /v1/reports
		r.Post("/reports", createReportHandler(pipeline, logger))

		// GET /v1/reports/{reportId}
		r.Get("/reports/{reportId}", getReportHandler(pipeline, logger))

		// GET /v1/metrics/narrative
		r.Get("/metrics/narrative", narrativeMetricsHandler(metrics))
	})

	return r
}

// ============================================================
// Analysis
// ============================================================

type segmentsRequest struct {
	K      int                      `json:"k"`
	Filter domain.TransactionFilter `json:"filter"`
}

type segmentsResponse struct {
	K        int                           `json:"k"`
	Rows     []domain.SegmentedTransaction `json:"rows"`
	Metrics  *domain.SegmentationMetrics   `json:"metrics,omitempty"`
	Profiles []domain.ClusterProfile       `json:"profiles,omitempty"`
	Degraded *domain.ComponentStatus       `json:"degraded,omitempty"`
}

func segmentsHandler(pipeline *service.Pipeline, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/analysis/segments")
		defer span.End()

		var req segmentsRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		span.SetAttributes(attribute.Int("analysis.k", req.K))

		seg, err := pipeline.Segment(ctx, req.K, req.Filter)
		resp := segmentsResponse{K: seg.K, Rows: seg.Rows, Metrics: seg.Metrics, Profiles: seg.Profiles}
		if err != nil {
			kind := domain.KindOf(err)
			if kind == "" {
				handleServiceError(w, err, logger)
				return
			}
			resp.Degraded = &domain.ComponentStatus{Component: service.ComponentSegmentation, Kind: kind, Message: err.Error()}
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

type forecastRequest struct {
	HorizonWeeks int                      `json:"horizon_weeks"`
	Filter       domain.TransactionFilter `json:"filter"`
}

type forecastResponse struct {
	Forecast *domain.Forecast       `json:"forecast"`
	Degraded *domain.ComponentStatus `json:"degraded,omitempty"`
}

func forecastHandler(pipeline *service.Pipeline, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/analysis/forecast")
		defer span.End()

		var req forecastRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		span.SetAttributes(attribute.Int("analysis.horizon_weeks", req.HorizonWeeks))

		fc, err := pipeline.Forecast(ctx, req.HorizonWeeks, req.Filter)
		resp := forecastResponse{Forecast: fc}
		if err != nil {
			kind := domain.KindOf(err)
			if kind == "" {
				handleServiceError(w, err, logger)
				return
			}
			resp.Degraded = &domain.ComponentStatus{Component: service.ComponentForecast, Kind: kind, Message: err.Error()}
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// ============================================================
// Reports
// ============================================================

type reportResponse struct {
	*domain.Report
	DocumentURL string `json:"document_url"`
	LatencyMs   int64  `json:"latency_ms"`
}

func createReportHandler(pipeline *service.Pipeline, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/reports")
		defer span.End()

		// Images arrive base64 encoded and decode straight into []byte.
		var req domain.AnalysisRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		start := time.Now()
		rep, err := pipeline.Run(ctx, req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(
			attribute.String("report.id", rep.ID),
			attribute.Int("report.degraded", len(rep.Degraded)),
		)
		logger.Info("report created",
			zap.String("report_id", rep.ID),
			zap.String("requested_by", SubjectFromContext(ctx)),
			zap.Int("degraded", len(rep.Degraded)),
		)

		w.Header().Set("Location", "/v1/reports/"+rep.ID)
		writeJSON(w, http.StatusCreated, reportResponse{
			Report:      rep,
			DocumentURL: "/v1/reports/" + rep.ID,
			LatencyMs:   time.Since(start).Milliseconds(),
		})
	}
}

func getReportHandler(pipeline *service.Pipeline, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/reports/{reportId}")
		defer span.End()

		id := chi.URLParam(r, "reportId")
		span.SetAttributes(attribute.String("report.id", id))

		rep, err := pipeline.GetReport(ctx, id)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if len(rep.Document) == 0 {
			handleServiceError(w, &domain.ErrNotFound{Resource: "report document", ID: id}, logger)
			return
		}

		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", "report-"+id+".pdf"))
		w.Header().Set("Content-Length", strconv.Itoa(len(rep.Document)))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(rep.Document); err != nil {
			logger.Warn("failed to write report document", zap.String("report_id", id), zap.Error(err))
		}
	}
}

// ============================================================
// Metrics & Health
// ============================================================

func narrativeMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetNarrativeSnapshot())
	}
}

func healthzHandler(pipeline *service.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pipeline == nil {
			writeJSON(w, http.StatusOK, domain.HealthStatus{
				Status: "healthy",
				Services: []domain.ServiceHealth{
					{Name: "insights-api", Status: "healthy", LastChecked: time.Now().Format(time.RFC3339)},
				},
			})
			return
		}
		writeJSON(w, http.StatusOK, pipeline.Health(r.Context()))
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
