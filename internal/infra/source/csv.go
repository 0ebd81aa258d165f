// Package source loads transaction snapshots from a CSV export, the
// Supabase REST API, or Postgres directly.
package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/boddenberg/retail-insights-go/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("source")

// Column headers of the supermarket sales export.
const (
	colInvoiceID    = "Invoice ID"
	colDate         = "Date"
	colCity         = "City"
	colBranch       = "Branch"
	colGender       = "Gender"
	colCustomerType = "Customer type"
	colProductLine  = "Product line"
	colPayment      = "Payment"
	colUnitPrice    = "Unit price"
	colQuantity     = "Quantity"
	colTotal        = "Total"
	colGrossMargin  = "Gross margin percentage"
	colGrossIncome  = "Gross income"
	colRating       = "Rating"
)

// Slash dates are month first, as in the original export. There is one
// slash layout so a file never mixes day-first and month-first readings.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"1/2/2006",
}

// CSV reads a semicolon-separated export that uses a decimal comma.
type CSV struct {
	path   string
	logger *zap.Logger
}

// NewCSV creates a CSV source for path.
func NewCSV(path string, logger *zap.Logger) *CSV {
	return &CSV{path: path, logger: logger}
}

// Snapshot reads the whole file.
func (c *CSV) Snapshot(ctx context.Context) ([]domain.Transaction, domain.FeatureSchema, error) {
	_, span := tracer.Start(ctx, "CSV.Snapshot")
	defer span.End()
	span.SetAttributes(attribute.String("csv.path", c.path))

	f, err := os.Open(c.path)
	if err != nil {
		return nil, nil, &domain.ErrNotFound{Resource: "dataset", ID: c.path}
	}
	defer f.Close()

	rows, schema, skipped, err := ParseCSV(f)
	if err != nil {
		c.logger.Error("error loading CSV", zap.String("path", c.path), zap.Error(err))
		return nil, nil, err
	}
	if skipped > 0 {
		c.logger.Warn("skipped unreadable CSV rows", zap.Int("skipped", skipped))
	}
	c.logger.Info("dataset loaded", zap.String("path", c.path), zap.Int("rows", len(rows)))
	span.SetAttributes(attribute.Int("csv.rows", len(rows)))
	return rows, schema, nil
}

// ParseCSV decodes the export from r, returning date-sorted rows, the
// feature columns present in the header, and how many rows were skipped
// because a field could not be parsed or the row failed validation.
func ParseCSV(r io.Reader) ([]domain.Transaction, domain.FeatureSchema, int, error) {
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, 0, &domain.ErrValidation{Field: "csv", Message: "empty file"}
	}
	if err != nil {
		return nil, nil, 0, fmt.Errorf("read header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	if _, ok := idx[colDate]; !ok {
		return nil, nil, 0, &domain.ErrValidation{Field: "csv", Message: "missing Date column"}
	}

	schema := domain.FeatureSchema{}
	for _, f := range domain.FeatureNames {
		_, ok := idx[f]
		schema[f] = ok
	}
	complete := len(schema.Missing()) == 0

	var (
		rows    []domain.Transaction
		skipped int
	)
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				skipped++
				continue
			}
			return nil, nil, 0, fmt.Errorf("read row: %w", err)
		}

		t, err := decodeRow(rec, idx)
		if err != nil {
			skipped++
			continue
		}
		if complete {
			if err := t.Validate(); err != nil {
				skipped++
				continue
			}
		}
		rows = append(rows, t)
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
	return rows, schema, skipped, nil
}

func decodeRow(rec []string, idx map[string]int) (domain.Transaction, error) {
	field := func(name string) string {
		i, ok := idx[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	date, err := parseDate(field(colDate))
	if err != nil {
		return domain.Transaction{}, err
	}

	t := domain.Transaction{
		InvoiceID:    field(colInvoiceID),
		Date:         date,
		Branch:       field(colCity),
		Gender:       field(colGender),
		CustomerType: field(colCustomerType),
		ProductLine:  field(colProductLine),
		Payment:      field(colPayment),
	}
	if t.Branch == "" {
		t.Branch = field(colBranch)
	}

	for _, f := range []struct {
		col string
		dst *float64
	}{
		{colUnitPrice, &t.UnitPrice},
		{colTotal, &t.Total},
		{colGrossMargin, &t.GrossMarginPct},
		{colGrossIncome, &t.GrossIncome},
		{colRating, &t.Rating},
	} {
		if err := parseDecimal(field(f.col), f.dst); err != nil {
			return domain.Transaction{}, fmt.Errorf("%s: %w", f.col, err)
		}
	}

	if q := field(colQuantity); q != "" {
		var v float64
		if err := parseDecimal(q, &v); err != nil {
			return domain.Transaction{}, fmt.Errorf("%s: %w", colQuantity, err)
		}
		t.Quantity = int(v)
	}
	return t, nil
}

// parseDecimal reads a decimal-comma number into dst. Empty leaves dst alone.
func parseDecimal(s string, dst *float64) error {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
