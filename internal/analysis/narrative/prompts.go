package narrative

import (
	"fmt"
	"strings"

	"github.com/boddenberg/retail-insights-go/internal/domain"
)

// MaxWords caps the length requested from the model.
const MaxWords = 150

const (
	forecastSystem     = "You are a Senior Financial Analyst. Be concise and data-driven."
	segmentationSystem = "You are a Customer Strategist."
)

// ForecastContext is the aggregate view of a forecast given to the model.
type ForecastContext struct {
	TotalRevenue float64
	Trend        float64
	ForecastEnd  float64
	HorizonWeeks int
}

// SegmentationContext is the aggregate view of a segmentation given to the model.
type SegmentationContext struct {
	Profiles []domain.ClusterProfile
}

func forecastPrompt(c ForecastContext) domain.CompletionRequest {
	user := fmt.Sprintf(
		"Analyze financial outlook: Hist Revenue: $%.2f, Trend: %.2f/week, Forecast End (%d weeks): $%.2f. "+
			"Write a strategic analysis (max %d words). Use plain text only, no Markdown, no bold, no headers.",
		c.TotalRevenue, c.Trend, c.HorizonWeeks, c.ForecastEnd, MaxWords,
	)
	return domain.CompletionRequest{System: forecastSystem, User: user, Stream: true}
}

func segmentationPrompt(c SegmentationContext) domain.CompletionRequest {
	var b strings.Builder
	b.WriteString("Analyze clusters (averages):\n")
	b.WriteString("Cluster | Count | Total | Rating | Quantity\n")
	for _, p := range c.Profiles {
		fmt.Fprintf(&b, "%s | %d | %.2f | %.2f | %.2f\n",
			p.Cluster, p.Count, p.MeanTotal, p.MeanRating, p.MeanQuantity)
	}
	fmt.Fprintf(&b, "Identify VIP vs Risk groups. Suggest 1 action. Max %d words. Plain text, no Markdown.", MaxWords)
	return domain.CompletionRequest{System: segmentationSystem, User: b.String(), Stream: true}
}
