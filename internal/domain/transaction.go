package domain

import (
	"fmt"
	"slices"
	"time"
)

// ============================================================
// Transactions
// ============================================================

const (
	// TaxMultiplier is applied to unit price × quantity to obtain Total.
	TaxMultiplier = 1.05
	// DefaultGrossMarginPct is constant across the dataset.
	DefaultGrossMarginPct = 0.0479

	RatingMin = 1.0
	RatingMax = 10.0
)

// Transaction is one immutable sales row.
type Transaction struct {
	InvoiceID      string    `json:"invoice_id"`
	Date           time.Time `json:"date"`
	Branch         string    `json:"branch"`
	CustomerType   string    `json:"customer_type"`
	Gender         string    `json:"gender"`
	ProductLine    string    `json:"product_line"`
	Payment        string    `json:"payment"`
	UnitPrice      float64   `json:"unit_price"`
	Quantity       int       `json:"quantity"`
	Total          float64   `json:"total"`
	GrossMarginPct float64   `json:"gross_margin_pct"`
	GrossIncome    float64   `json:"gross_income"`
	Rating         float64   `json:"rating"`
}

// Validate checks the row-level invariants.
func (t Transaction) Validate() error {
	if t.Total < 0 {
		return &ErrValidation{Field: "total", Message: fmt.Sprintf("must be >= 0, got %.2f", t.Total)}
	}
	if t.Quantity < 1 {
		return &ErrValidation{Field: "quantity", Message: fmt.Sprintf("must be >= 1, got %d", t.Quantity)}
	}
	if t.Rating < RatingMin || t.Rating > RatingMax {
		return &ErrValidation{Field: "rating", Message: fmt.Sprintf("must be within [%.0f, %.0f], got %.1f", RatingMin, RatingMax, t.Rating)}
	}
	return nil
}

// Feature column names, in matrix column order.
const (
	FeatureTotal    = "Total"
	FeatureRating   = "Rating"
	FeatureQuantity = "Quantity"
)

// FeatureNames lists the clustering features in matrix column order.
var FeatureNames = []string{FeatureTotal, FeatureRating, FeatureQuantity}

// FeatureSchema declares which columns a transaction source actually
// populated. Sources that always carry the full dataset return FullSchema.
type FeatureSchema map[string]bool

// FullSchema returns a schema with every clustering feature present.
func FullSchema() FeatureSchema {
	s := make(FeatureSchema, len(FeatureNames))
	for _, f := range FeatureNames {
		s[f] = true
	}
	return s
}

// Missing returns the clustering features absent from the schema.
// A nil schema is treated as complete.
func (s FeatureSchema) Missing() []string {
	if s == nil {
		return nil
	}
	var missing []string
	for _, f := range FeatureNames {
		if !s[f] {
			missing = append(missing, f)
		}
	}
	return missing
}

// TransactionFilter narrows a snapshot by calendar month and branch.
// Empty lists select everything.
type TransactionFilter struct {
	Months   []time.Month `json:"months,omitempty"`
	Branches []string     `json:"branches,omitempty"`
}

// IsZero reports whether the filter selects every row.
func (f TransactionFilter) IsZero() bool {
	return len(f.Months) == 0 && len(f.Branches) == 0
}

// Apply returns the rows matching the filter, preserving order.
// The input slice is never modified.
func (f TransactionFilter) Apply(rows []Transaction) []Transaction {
	out := make([]Transaction, 0, len(rows))
	for _, r := range rows {
		if len(f.Months) > 0 && !slices.Contains(f.Months, r.Date.Month()) {
			continue
		}
		if len(f.Branches) > 0 && !slices.Contains(f.Branches, r.Branch) {
			continue
		}
		out = append(out, r)
	}
	return out
}
