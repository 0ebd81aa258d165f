package source

import (
	"context"
	"fmt"
	"time"

	"github.com/boddenberg/retail-insights-go/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const salesQuery = `SELECT invoice_id, date, branch, customer_type, gender, product_line, payment,
       unit_price, quantity, total, gross_margin_pct, gross_income, rating
FROM sales_transactions
ORDER BY date, invoice_id`

// querier is the subset of *pgxpool.Pool the source needs.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
}

// Postgres reads the sales table directly.
type Postgres struct {
	db     querier
	logger *zap.Logger
}

// NewPostgres wraps an open pool.
func NewPostgres(pool *pgxpool.Pool, logger *zap.Logger) *Postgres {
	return &Postgres{db: pool, logger: logger}
}

// NewPool opens and pings a pool for connURL.
func NewPool(ctx context.Context, connURL string, maxConns int32, connectTimeout time.Duration) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(connURL)
	if err != nil {
		return nil, fmt.Errorf("source: invalid postgres config: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}
	poolConfig.ConnConfig.ConnectTimeout = connectTimeout

	ctxTimeout := ctx
	if connectTimeout > 0 {
		var cancel context.CancelFunc
		ctxTimeout, cancel = context.WithTimeout(ctx, connectTimeout)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(ctxTimeout, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("source: create postgres pool: %w", err)
	}
	if err := pool.Ping(ctxTimeout); err != nil {
		pool.Close()
		return nil, fmt.Errorf("source: postgres ping failed: %w", err)
	}
	return pool, nil
}

// Ping checks the database connection.
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.Ping(ctx); err != nil {
		return &domain.ErrExternalService{Service: "postgres", Err: err}
	}
	return nil
}

// Snapshot loads every sales row ordered by date. A feature column is
// reported present only if no row holds NULL for it.
func (p *Postgres) Snapshot(ctx context.Context) ([]domain.Transaction, domain.FeatureSchema, error) {
	ctx, span := tracer.Start(ctx, "Postgres.Snapshot")
	defer span.End()

	rows, err := p.db.Query(ctx, salesQuery)
	if err != nil {
		span.RecordError(err)
		return nil, nil, &domain.ErrExternalService{Service: "postgres", Err: err}
	}
	defer rows.Close()

	schema := domain.FullSchema()
	var out []domain.Transaction
	for rows.Next() {
		var (
			t                      domain.Transaction
			quantity               *int
			total, rating          *float64
			unitPrice, margin, inc *float64
		)
		if err := rows.Scan(
			&t.InvoiceID, &t.Date, &t.Branch, &t.CustomerType, &t.Gender, &t.ProductLine, &t.Payment,
			&unitPrice, &quantity, &total, &margin, &inc, &rating,
		); err != nil {
			return nil, nil, fmt.Errorf("scan sales row: %w", err)
		}

		t.Date = t.Date.UTC()
		t.UnitPrice = deref(unitPrice)
		t.GrossMarginPct = deref(margin)
		t.GrossIncome = deref(inc)
		if total == nil {
			schema[domain.FeatureTotal] = false
		}
		t.Total = deref(total)
		if rating == nil {
			schema[domain.FeatureRating] = false
		}
		t.Rating = deref(rating)
		if quantity == nil {
			schema[domain.FeatureQuantity] = false
		} else {
			t.Quantity = *quantity
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, &domain.ErrExternalService{Service: "postgres", Err: err}
	}

	span.SetAttributes(attribute.Int("postgres.rows", len(out)))
	p.logger.Info("dataset loaded from postgres", zap.Int("rows", len(out)))
	return out, schema, nil
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
