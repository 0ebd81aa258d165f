// Package segmentation groups transactions by purchase behaviour with
// k-means over standardized (Total, Rating, Quantity) features.
package segmentation

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strconv"

	"github.com/boddenberg/retail-insights-go/internal/analysis/features"
	"github.com/boddenberg/retail-insights-go/internal/domain"

	"go.uber.org/zap"
)

const (
	DefaultSeed    = 42
	DefaultNInit   = 10
	DefaultMaxIter = 300
	DefaultTol     = 1e-4
	MinK           = 2
)

// Engine fits k-means. The zero seed is valid; results depend only on the
// rows, k and the Engine's settings.
type Engine struct {
	Seed    int64
	NInit   int
	MaxIter int
	Tol     float64

	logger *zap.Logger
}

// NewEngine creates an Engine with the default seed and restart count.
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{
		Seed:    DefaultSeed,
		NInit:   DefaultNInit,
		MaxIter: DefaultMaxIter,
		Tol:     DefaultTol,
		logger:  logger,
	}
}

// Segment labels every row with a cluster "0".."k-1" and reports inertia
// and silhouette. The returned Segmentation is always usable: on a degraded
// run it carries sentinel labels (or the untouched rows) and nil metrics,
// alongside an *domain.AnalysisError describing why.
func (e *Engine) Segment(rows []domain.Transaction, schema domain.FeatureSchema, k int) (seg domain.Segmentation, err error) {
	const op = "segmentation.Segment"

	if k < MinK {
		return domain.Segmentation{K: k, Rows: label(rows, "")}, &domain.ErrValidation{
			Field:   "k",
			Message: fmt.Sprintf("must be >= %d, got %d", MinK, k),
		}
	}

	x, err := features.PrepareClusterFeatures(rows, schema, k)
	switch {
	case errors.Is(err, domain.ErrFeatureSchemaMismatch):
		e.logger.Warn("segmentation skipped: feature schema mismatch", zap.Error(err))
		return domain.Segmentation{K: k, Rows: label(rows, "")}, err
	case errors.Is(err, domain.ErrInsufficientData):
		e.logger.Info("segmentation skipped: not enough rows",
			zap.Int("rows", len(rows)),
			zap.Int("k", k),
		)
		return domain.Segmentation{K: k, Rows: label(rows, domain.ClusterUnavailable)}, err
	case err != nil:
		return domain.Segmentation{K: k, Rows: label(rows, domain.ClusterError)}, domain.NewAnalysisError(domain.KindModelFitFailure, op, err)
	}

	defer func() {
		if r := recover(); r != nil {
			err = domain.NewAnalysisError(domain.KindModelFitFailure, op, fmt.Errorf("panic: %v", r))
			e.logger.Error("error clustering", zap.Error(err))
			seg = domain.Segmentation{K: k, Rows: label(rows, domain.ClusterError)}
		}
	}()

	rng := rand.New(rand.NewSource(e.Seed))
	best, err := kmeans(x, k, max(e.NInit, 1), max(e.MaxIter, 1), e.Tol, rng)
	if err != nil {
		err = domain.NewAnalysisError(domain.KindModelFitFailure, op, err)
		e.logger.Error("error clustering", zap.Error(err))
		return domain.Segmentation{K: k, Rows: label(rows, domain.ClusterError)}, err
	}

	sil, err := silhouette(x, best.labels, k)
	if err != nil {
		err = domain.NewAnalysisError(domain.KindModelFitFailure, op, err)
		e.logger.Error("error clustering", zap.Error(err))
		return domain.Segmentation{K: k, Rows: label(rows, domain.ClusterError)}, err
	}

	out := make([]domain.SegmentedTransaction, len(rows))
	for i, r := range rows {
		out[i] = domain.SegmentedTransaction{Transaction: r, Cluster: strconv.Itoa(best.labels[i])}
	}

	e.logger.Debug("segmentation fitted",
		zap.Int("rows", len(rows)),
		zap.Int("k", k),
		zap.Float64("inertia", best.inertia),
		zap.Float64("silhouette", sil),
		zap.Int("iterations", best.iters),
	)

	return domain.Segmentation{
		K:        k,
		Rows:     out,
		Metrics:  &domain.SegmentationMetrics{Inertia: best.inertia, Silhouette: sil},
		Profiles: Profiles(out),
	}, nil
}

// Profiles averages the clustering features per label, ordered by label.
// Rows carrying a sentinel or empty label are ignored.
func Profiles(rows []domain.SegmentedTransaction) []domain.ClusterProfile {
	byLabel := make(map[string]*domain.ClusterProfile)
	for _, r := range rows {
		if _, err := strconv.Atoi(r.Cluster); err != nil {
			continue
		}
		p, ok := byLabel[r.Cluster]
		if !ok {
			p = &domain.ClusterProfile{Cluster: r.Cluster}
			byLabel[r.Cluster] = p
		}
		p.Count++
		p.MeanTotal += r.Total
		p.MeanRating += r.Rating
		p.MeanQuantity += float64(r.Quantity)
	}

	out := make([]domain.ClusterProfile, 0, len(byLabel))
	for _, p := range byLabel {
		n := float64(p.Count)
		p.MeanTotal /= n
		p.MeanRating /= n
		p.MeanQuantity /= n
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.Atoi(out[i].Cluster)
		b, _ := strconv.Atoi(out[j].Cluster)
		return a < b
	})
	return out
}

func label(rows []domain.Transaction, cluster string) []domain.SegmentedTransaction {
	out := make([]domain.SegmentedTransaction, len(rows))
	for i, r := range rows {
		out[i] = domain.SegmentedTransaction{Transaction: r, Cluster: cluster}
	}
	return out
}
