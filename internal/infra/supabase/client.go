// Package supabase reads the sales table through the Supabase PostgREST API.
package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/boddenberg/retail-insights-go/internal/domain"
	"github.com/boddenberg/retail-insights-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

const (
	// Table is the PostgREST resource holding the sales rows.
	Table = "sales_transactions"

	defaultPageSize = 1000
)

// Client wraps HTTP calls to Supabase PostgREST API.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	pageSize       int
	cb             *gobreaker.CircuitBreaker
	cfg            resilience.Config
	logger         *zap.Logger
}

// NewClient creates a Supabase client.
func NewClient(httpClient *http.Client, baseURL, apiKey, serviceRoleKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient:     httpClient,
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		pageSize:       defaultPageSize,
		cb:             cb,
		cfg:            cfg,
		logger:         logger,
	}
}

// WithPageSize overrides how many rows each request fetches.
func (c *Client) WithPageSize(n int) *Client {
	if n > 0 {
		c.pageSize = n
	}
	return c
}

// doRequest executes an authenticated request to Supabase PostgREST.
func (c *Client) doRequest(ctx context.Context, method, path string) ([]byte, error) {
	url := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		c.logger.Error("supabase: failed to create request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, resilience.Permanent(err)
	}

	req.Header.Set("apikey", c.apiKey)
	key := c.serviceRoleKey
	if key == "" {
		key = c.apiKey
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", key))
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error("supabase: failed to read response body",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil // no data
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: non-2xx response",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		err := fmt.Errorf("supabase returned status %d: %s", resp.StatusCode, string(body))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, resilience.Permanent(err)
		}
		return nil, err
	}

	c.logger.Debug("supabase: request OK",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)

	return body, nil
}

// salesRow maps the sales_transactions columns.
type salesRow struct {
	InvoiceID      string   `json:"invoice_id"`
	Date           string   `json:"date"`
	Branch         string   `json:"branch"`
	CustomerType   string   `json:"customer_type"`
	Gender         string   `json:"gender"`
	ProductLine    string   `json:"product_line"`
	Payment        string   `json:"payment"`
	UnitPrice      float64  `json:"unit_price"`
	Quantity       *int     `json:"quantity"`
	Total          *float64 `json:"total"`
	GrossMarginPct float64  `json:"gross_margin_pct"`
	GrossIncome    float64  `json:"gross_income"`
	Rating         *float64 `json:"rating"`
}

// Snapshot pages through the sales table (implements port.TransactionSource).
// A feature column is reported present only if every row carries it.
func (c *Client) Snapshot(ctx context.Context) ([]domain.Transaction, domain.FeatureSchema, error) {
	ctx, span := tracer.Start(ctx, "Supabase.Snapshot")
	defer span.End()

	schema := domain.FullSchema()
	var out []domain.Transaction

	for offset := 0; ; offset += c.pageSize {
		page, err := c.fetchPage(ctx, offset)
		if err != nil {
			span.RecordError(err)
			return nil, nil, &domain.ErrExternalService{Service: "supabase/sales", Err: err}
		}

		for _, r := range page {
			t, err := parseDate(r.Date)
			if err != nil {
				c.logger.Warn("supabase: skipping row with bad date",
					zap.String("invoice_id", r.InvoiceID),
					zap.Error(err),
				)
				continue
			}
			tx := domain.Transaction{
				InvoiceID:      r.InvoiceID,
				Date:           t,
				Branch:         r.Branch,
				CustomerType:   r.CustomerType,
				Gender:         r.Gender,
				ProductLine:    r.ProductLine,
				Payment:        r.Payment,
				UnitPrice:      r.UnitPrice,
				GrossMarginPct: r.GrossMarginPct,
				GrossIncome:    r.GrossIncome,
			}
			if r.Total != nil {
				tx.Total = *r.Total
			} else {
				schema[domain.FeatureTotal] = false
			}
			if r.Rating != nil {
				tx.Rating = *r.Rating
			} else {
				schema[domain.FeatureRating] = false
			}
			if r.Quantity != nil {
				tx.Quantity = *r.Quantity
			} else {
				schema[domain.FeatureQuantity] = false
			}
			out = append(out, tx)
		}

		if len(page) < c.pageSize {
			break
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	span.SetAttributes(attribute.Int("supabase.rows", len(out)))
	c.logger.Info("dataset loaded from supabase", zap.Int("rows", len(out)))
	return out, schema, nil
}

func (c *Client) fetchPage(ctx context.Context, offset int) ([]salesRow, error) {
	var rows []salesRow

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			path := fmt.Sprintf("%s?select=*&order=date.asc&limit=%d&offset=%d", Table, c.pageSize, offset)
			body, err := c.doRequest(ctx, http.MethodGet, path)
			if err != nil {
				return err
			}
			if body == nil {
				rows = nil
				return nil
			}
			if err := json.Unmarshal(body, &rows); err != nil {
				return resilience.Permanent(fmt.Errorf("failed to decode sales rows: %w", err))
			}
			return nil
		})
	})
	if resilience.IsOpen(err) {
		return nil, &domain.ErrCircuitOpen{Service: "supabase"}
	}
	return rows, err
}

// Ping checks that the table is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, Table+"?select=invoice_id&limit=1")
	return err
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}
