package supabase_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/retail-insights-go/internal/domain"
	"github.com/boddenberg/retail-insights-go/internal/infra/resilience"
	"github.com/boddenberg/retail-insights-go/internal/infra/supabase"

	"go.uber.org/zap"
)

func newClient(url string) *supabase.Client {
	cfg := resilience.Config{MaxRetries: 1, InitialBackoff: time.Millisecond}
	return supabase.NewClient(http.DefaultClient, url, "anon", "service", resilience.NewCircuitBreaker("supabase-test"), cfg, zap.NewNop())
}

func TestSnapshot_PagesAndSorts(t *testing.T) {
	pages := map[string]string{
		"0": `[{"invoice_id":"b","date":"2026-01-12","branch":"Yangon","total":20.5,"rating":7.1,"quantity":2},
		       {"invoice_id":"a","date":"2026-01-05T10:00:00Z","branch":"Mandalay","total":10,"rating":9,"quantity":1}]`,
		"2": `[{"invoice_id":"c","date":"2026-01-03","branch":"Yangon","total":5,"rating":4,"quantity":1}]`,
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/"+supabase.Table {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("apikey") != "anon" || r.Header.Get("Authorization") != "Bearer service" {
			t.Errorf("missing auth headers")
		}
		body, ok := pages[r.URL.Query().Get("offset")]
		if !ok {
			body = "[]"
		}
		fmt.Fprint(w, body)
	}))
	defer server.Close()

	rows, schema, err := newClient(server.URL).WithPageSize(2).Snapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].InvoiceID != "c" || rows[2].InvoiceID != "b" {
		t.Errorf("expected date order c,a,b got %s,%s,%s", rows[0].InvoiceID, rows[1].InvoiceID, rows[2].InvoiceID)
	}
	if len(schema.Missing()) != 0 {
		t.Errorf("expected complete schema, missing %v", schema.Missing())
	}
}

func TestSnapshot_NullFeatureMarksSchema(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"invoice_id":"a","date":"2026-01-05","total":10,"rating":null,"quantity":1}]`)
	}))
	defer server.Close()

	_, schema, err := newClient(server.URL).Snapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	missing := schema.Missing()
	if len(missing) != 1 || missing[0] != domain.FeatureRating {
		t.Errorf("expected Rating missing, got %v", missing)
	}
}

func TestSnapshot_ServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"message":"boom"}`)
	}))
	defer server.Close()

	_, _, err := newClient(server.URL).Snapshot(context.Background())
	var ext *domain.ErrExternalService
	if !errors.As(err, &ext) {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 attempts (1 retry), got %d", got)
	}
}

func TestSnapshot_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	if _, _, err := newClient(server.URL).Snapshot(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected a single attempt, got %d", got)
	}
}

func TestPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != strconv.Itoa(1) {
			t.Errorf("expected limit=1, got %s", r.URL.RawQuery)
		}
		fmt.Fprint(w, "[]")
	}))
	defer server.Close()

	if err := newClient(server.URL).Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
