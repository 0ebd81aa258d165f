package domain_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/boddenberg/retail-insights-go/internal/domain"
)

func TestAnalysisError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("segment: %w", domain.NewAnalysisError(domain.KindModelFitFailure, "kmeans", errors.New("nan centroid")))

	if !errors.Is(err, domain.ErrModelFit) {
		t.Fatal("expected errors.Is to match ErrModelFit")
	}
	if errors.Is(err, domain.ErrForecast) {
		t.Fatal("expected errors.Is not to match ErrForecast")
	}
	if got := domain.KindOf(err); got != domain.KindModelFitFailure {
		t.Errorf("expected kind %q, got %q", domain.KindModelFitFailure, got)
	}
}

func TestKindOf_PlainError(t *testing.T) {
	if got := domain.KindOf(errors.New("boom")); got != "" {
		t.Errorf("expected empty kind, got %q", got)
	}
}

func TestTransaction_Validate(t *testing.T) {
	valid := domain.Transaction{Total: 10.5, Quantity: 1, Rating: 7.2}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid row, got %v", err)
	}

	cases := map[string]domain.Transaction{
		"negative total": {Total: -1, Quantity: 1, Rating: 5},
		"zero quantity":  {Total: 1, Quantity: 0, Rating: 5},
		"rating too low": {Total: 1, Quantity: 1, Rating: 0.5},
		"rating too big": {Total: 1, Quantity: 1, Rating: 10.1},
	}
	for name, tx := range cases {
		t.Run(name, func(t *testing.T) {
			var ve *domain.ErrValidation
			if err := tx.Validate(); !errors.As(err, &ve) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestTransactionFilter_Apply(t *testing.T) {
	day := func(m time.Month, d int) time.Time { return time.Date(2026, m, d, 0, 0, 0, 0, time.UTC) }
	rows := []domain.Transaction{
		{InvoiceID: "a", Date: day(time.January, 3), Branch: "Yangon"},
		{InvoiceID: "b", Date: day(time.January, 9), Branch: "Mandalay"},
		{InvoiceID: "c", Date: day(time.February, 1), Branch: "Yangon"},
		{InvoiceID: "d", Date: day(time.March, 7), Branch: "Naypyitaw"},
	}

	got := domain.TransactionFilter{}.Apply(rows)
	if len(got) != len(rows) {
		t.Fatalf("expected zero filter to keep %d rows, got %d", len(rows), len(got))
	}

	got = domain.TransactionFilter{
		Months:   []time.Month{time.January, time.February},
		Branches: []string{"Yangon"},
	}.Apply(rows)
	if len(got) != 2 || got[0].InvoiceID != "a" || got[1].InvoiceID != "c" {
		t.Errorf("unexpected filter result: %+v", got)
	}
}

func TestFeatureSchema_Missing(t *testing.T) {
	if m := domain.FullSchema().Missing(); len(m) != 0 {
		t.Errorf("expected full schema, missing %v", m)
	}
	if m := domain.FeatureSchema(nil).Missing(); len(m) != 0 {
		t.Errorf("expected nil schema to be complete, missing %v", m)
	}
	s := domain.FeatureSchema{domain.FeatureTotal: true}
	m := s.Missing()
	if len(m) != 2 || m[0] != domain.FeatureRating || m[1] != domain.FeatureQuantity {
		t.Errorf("unexpected missing features: %v", m)
	}
}
