package service

import (
	"context"
	"time"

	"github.com/boddenberg/retail-insights-go/internal/domain"

	"go.uber.org/zap"
)

// pinger is implemented by sources that hold a remote connection.
type pinger interface {
	Ping(ctx context.Context) error
}

// Health checks the pipeline's remote dependencies. A failing dependency
// degrades the overall status; the API itself is always reported healthy.
func (p *Pipeline) Health(ctx context.Context) domain.HealthStatus {
	ctx, span := tracer.Start(ctx, "Pipeline.Health")
	defer span.End()

	now := time.Now().Format(time.RFC3339)
	services := []domain.ServiceHealth{
		{Name: "insights-api", Status: "healthy", LastChecked: now},
	}

	if src, ok := p.source.(pinger); ok {
		services = append(services, p.check(ctx, "source", src.Ping, now))
	}
	if p.cache != nil {
		services = append(services, p.check(ctx, "report-cache", p.cache.Ping, now))
	}

	overall := "healthy"
	for _, s := range services {
		if s.Status == "unhealthy" {
			overall = "unhealthy"
			break
		}
		if s.Status == "degraded" {
			overall = "degraded"
		}
	}

	return domain.HealthStatus{Status: overall, Services: services}
}

func (p *Pipeline) check(ctx context.Context, name string, ping func(context.Context) error, now string) domain.ServiceHealth {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	err := ping(ctx)
	h := domain.ServiceHealth{
		Name:        name,
		Status:      "healthy",
		LatencyMs:   time.Since(start).Milliseconds(),
		LastChecked: now,
	}
	if err != nil {
		p.logger.Warn("dependency check failed", zap.String("dependency", name), zap.Error(err))
		h.Status = "degraded"
		h.Detail = err.Error()
	}
	return h
}
