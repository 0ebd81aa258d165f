package handler_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/retail-insights-go/internal/analysis/forecast"
	"github.com/boddenberg/retail-insights-go/internal/analysis/narrative"
	"github.com/boddenberg/retail-insights-go/internal/analysis/segmentation"
	"github.com/boddenberg/retail-insights-go/internal/domain"
	"github.com/boddenberg/retail-insights-go/internal/handler"
	"github.com/boddenberg/retail-insights-go/internal/infra/cache"
	"github.com/boddenberg/retail-insights-go/internal/infra/observability"
	"github.com/boddenberg/retail-insights-go/internal/report"
	"github.com/boddenberg/retail-insights-go/internal/service"

	"go.uber.org/zap"
)

// --- Mocks ---

type mockSource struct {
	rows []domain.Transaction
	err  error
}

func (m *mockSource) Snapshot(_ context.Context) ([]domain.Transaction, domain.FeatureSchema, error) {
	return m.rows, domain.FullSchema(), m.err
}

type mockStreamer struct{}

func (mockStreamer) Stream(_ context.Context, _ domain.CompletionRequest) (<-chan domain.StreamChunk, error) {
	ch := make(chan domain.StreamChunk, 1)
	ch <- domain.StreamChunk{Text: "Sales are stable."}
	close(ch)
	return ch, nil
}

// --- Helpers ---

func salesWeeks(weeks int) []domain.Transaction {
	start := time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)
	var rows []domain.Transaction
	for w := 0; w < weeks; w++ {
		for j := 0; j < 3; j++ {
			rows = append(rows, domain.Transaction{
				Date:        start.AddDate(0, 0, 7*w+j),
				Branch:      []string{"Yangon", "Mandalay", "Naypyitaw"}[j],
				Quantity:    1 + 3*j + w%2,
				Total:       100 + 50*float64(j) + float64(w),
				GrossIncome: 5,
				Rating:      5 + float64(j) + float64(w%3)*0.5,
			})
		}
	}
	return rows
}

func newRouter(src *mockSource, auth *service.Authenticator) http.Handler {
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	pipeline := service.NewPipeline(
		src,
		segmentation.NewEngine(logger),
		forecast.NewEngine(logger),
		narrative.NewSynthesizer(mockStreamer{}, "test-model", time.Second, metrics, logger),
		report.NewAssembler(logger),
		cache.NewReports(time.Minute),
		metrics,
		service.PipelineConfig{ClusterK: 3, HorizonWeeks: 8, NarrativeConcurrency: 1},
		logger,
	)
	return handler.NewRouter(pipeline, auth, metrics, logger)
}

func do(router http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// --- Probes ---

func TestHealthz(t *testing.T) {
	router := handler.NewRouter(nil, nil, observability.NewMetrics(), zap.NewNop())

	rec := do(router, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHealthz_WithPipeline(t *testing.T) {
	router := newRouter(&mockSource{}, nil)

	rec := do(router, http.MethodGet, "/healthz", "")
	var status domain.HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Status != "healthy" || len(status.Services) != 2 {
		t.Errorf("unexpected health: %+v", status)
	}
}

func TestReadyz(t *testing.T) {
	router := handler.NewRouter(nil, nil, observability.NewMetrics(), zap.NewNop())

	rec := do(router, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	router := handler.NewRouter(nil, nil, observability.NewMetrics(), zap.NewNop())

	rec := do(router, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

// --- Reports ---

func TestCreateAndFetchReport(t *testing.T) {
	router := newRouter(&mockSource{rows: salesWeeks(16)}, nil)

	rec := do(router, http.MethodPost, "/v1/reports", `{"k": 3, "horizon_weeks": 8}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		ID                string           `json:"id"`
		DocumentURL       string           `json:"document_url"`
		KPIs              []domain.KPI     `json:"kpis"`
		ForecastNarrative domain.Narrative `json:"forecast_narrative"`
		Degraded          []domain.ComponentStatus
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID == "" || resp.DocumentURL != "/v1/reports/"+resp.ID {
		t.Fatalf("unexpected id/url: %q %q", resp.ID, resp.DocumentURL)
	}
	if resp.ForecastNarrative.Text != "Sales are stable." {
		t.Errorf("unexpected narrative %q", resp.ForecastNarrative.Text)
	}
	if len(resp.KPIs) != 4 || len(resp.Degraded) != 0 {
		t.Errorf("unexpected kpis/degraded: %+v %+v", resp.KPIs, resp.Degraded)
	}

	rec = do(router, http.MethodGet, resp.DocumentURL, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("expected application/pdf, got %s", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")) {
		t.Error("expected PDF body")
	}
}

func TestCreateReport_InvalidImageEncoding(t *testing.T) {
	router := newRouter(&mockSource{rows: salesWeeks(16)}, nil)

	rec := do(router, http.MethodPost, "/v1/reports", `{"forecast_image": "%%%not-base64"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestCreateReport_TruncatedImage(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 32, 16))); err != nil {
		t.Fatal(err)
	}
	truncated := base64.StdEncoding.EncodeToString(buf.Bytes()[:40])

	router := newRouter(&mockSource{rows: salesWeeks(16)}, nil)
	rec := do(router, http.MethodPost, "/v1/reports", `{"forecast_image": "`+truncated+`", "skip_narratives": true}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateReport_SourceFailure(t *testing.T) {
	src := &mockSource{err: &domain.ErrExternalService{Service: "supabase", Err: errors.New("down")}}
	router := newRouter(src, nil)

	rec := do(router, http.MethodPost, "/v1/reports", `{}`)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rec.Code)
	}
}

func TestGetReport_NotFound(t *testing.T) {
	router := newRouter(&mockSource{}, nil)

	rec := do(router, http.MethodGet, "/v1/reports/does-not-exist", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

// --- Analysis ---

func TestSegments(t *testing.T) {
	router := newRouter(&mockSource{rows: salesWeeks(16)}, nil)

	rec := do(router, http.MethodPost, "/v1/analysis/segments", `{"k": 3}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Rows     []domain.SegmentedTransaction `json:"rows"`
		Profiles []domain.ClusterProfile       `json:"profiles"`
		Degraded *domain.ComponentStatus       `json:"degraded"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Rows) != 48 || len(resp.Profiles) != 3 || resp.Degraded != nil {
		t.Errorf("unexpected segmentation: %d rows, %d profiles, degraded %+v", len(resp.Rows), len(resp.Profiles), resp.Degraded)
	}
}

func TestSegments_InvalidK(t *testing.T) {
	router := newRouter(&mockSource{rows: salesWeeks(16)}, nil)

	rec := do(router, http.MethodPost, "/v1/analysis/segments", `{"k": 1}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestSegments_NotEnoughRows(t *testing.T) {
	router := newRouter(&mockSource{rows: salesWeeks(1)}, nil)

	rec := do(router, http.MethodPost, "/v1/analysis/segments", `{"k": 5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Rows     []domain.SegmentedTransaction `json:"rows"`
		Degraded *domain.ComponentStatus       `json:"degraded"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Degraded == nil || resp.Degraded.Kind != domain.KindInsufficientData {
		t.Fatalf("expected insufficient data, got %+v", resp.Degraded)
	}
	for _, r := range resp.Rows {
		if r.Cluster != domain.ClusterUnavailable {
			t.Errorf("expected %q label, got %q", domain.ClusterUnavailable, r.Cluster)
		}
	}
}

func TestForecast_Degraded(t *testing.T) {
	router := newRouter(&mockSource{rows: salesWeeks(5)}, nil)

	rec := do(router, http.MethodPost, "/v1/analysis/forecast", `{"horizon_weeks": 4}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Forecast *domain.Forecast       `json:"forecast"`
		Degraded *domain.ComponentStatus `json:"degraded"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Forecast != nil || resp.Degraded == nil || resp.Degraded.Kind != domain.KindInsufficientHistory {
		t.Errorf("expected insufficient history, got %+v", resp.Degraded)
	}
}

func TestForecast_HorizonTooLarge(t *testing.T) {
	router := newRouter(&mockSource{rows: salesWeeks(12)}, nil)

	rec := do(router, http.MethodPost, "/v1/analysis/forecast", `{"horizon_weeks": 2000000000}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestForecast_UnknownField(t *testing.T) {
	router := newRouter(&mockSource{rows: salesWeeks(12)}, nil)

	rec := do(router, http.MethodPost, "/v1/analysis/forecast", `{"horizon": 4}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

// --- Auth ---

func TestBearerAuth(t *testing.T) {
	auth := service.NewAuthenticator("secret", time.Hour)
	router := newRouter(&mockSource{}, auth)

	if rec := do(router, http.MethodGet, "/v1/metrics/narrative", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}
	if rec := do(router, http.MethodGet, "/v1/metrics/narrative", "", "Authorization", "Basic abc"); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for non-bearer scheme, got %d", rec.Code)
	}

	token, err := auth.Issue("dashboard")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if rec := do(router, http.MethodGet, "/v1/metrics/narrative", "", "Authorization", "Bearer "+token); rec.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", rec.Code)
	}
	if rec := do(router, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("expected probes to stay open, got %d", rec.Code)
	}
}

func TestBearerAuthMiddleware_Subject(t *testing.T) {
	auth := service.NewAuthenticator("secret", time.Hour)
	var subject string
	h := handler.BearerAuthMiddleware(auth, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = handler.SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	token, err := auth.Issue("nightly-report-job")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if rec := do(h, http.MethodGet, "/v1/reports/x", "", "Authorization", "bearer "+token); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if subject != "nightly-report-job" {
		t.Errorf("expected subject in context, got %q", subject)
	}

	for _, header := range []string{"Bearer", "Bearer   ", "Token " + token, "Bearer not-a-jwt"} {
		rec := do(h, http.MethodGet, "/v1/reports/x", "", "Authorization", header)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("header %q: expected 401, got %d", header, rec.Code)
		}
	}
}
