// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/boddenberg/retail-insights-go/internal/domain"
)

// TransactionSource loads the caller-owned snapshot the pipeline analyses.
// Rows are returned sorted by date; the schema lists the numeric features
// the source actually provides.
type TransactionSource interface {
	Snapshot(ctx context.Context) ([]domain.Transaction, domain.FeatureSchema, error)
}

// TextStreamer opens a streaming completion. The returned channel is closed
// by the implementation when the stream ends; a chunk with a non-nil Err is
// the last one sent.
type TextStreamer interface {
	Stream(ctx context.Context, req domain.CompletionRequest) (<-chan domain.StreamChunk, error)
}

// ReportCache stores finished report artifacts by id.
type ReportCache interface {
	Get(ctx context.Context, id string) (*domain.Report, bool, error)
	Set(ctx context.Context, id string, report *domain.Report, ttl time.Duration) error
	Ping(ctx context.Context) error
}
