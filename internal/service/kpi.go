package service

import (
	"strconv"
	"strings"

	"github.com/boddenberg/retail-insights-go/internal/domain"

	"github.com/shopspring/decimal"
)

// KPI labels, in report order.
const (
	KPITotalRevenue     = "Total Revenue"
	KPITotalGrossIncome = "Total Gross income"
	KPITotalSales       = "Total Sales"
	KPIAverageRating    = "Average Rating"
)

// KPIs summarizes rows into the headline indicators. Money is summed in
// decimal so long snapshots do not drift.
func KPIs(rows []domain.Transaction) []domain.KPI {
	revenue, income, rating := decimal.Zero, decimal.Zero, decimal.Zero
	for _, r := range rows {
		revenue = revenue.Add(decimal.NewFromFloat(r.Total))
		income = income.Add(decimal.NewFromFloat(r.GrossIncome))
		rating = rating.Add(decimal.NewFromFloat(r.Rating))
	}

	avg := decimal.Zero
	if len(rows) > 0 {
		avg = rating.Div(decimal.NewFromInt(int64(len(rows))))
	}

	return []domain.KPI{
		{Label: KPITotalRevenue, Value: FormatMoney(revenue)},
		{Label: KPITotalGrossIncome, Value: FormatMoney(income)},
		{Label: KPITotalSales, Value: strconv.Itoa(len(rows))},
		{Label: KPIAverageRating, Value: avg.StringFixed(2)},
	}
}

// TotalRevenue sums Total over rows.
func TotalRevenue(rows []domain.Transaction) float64 {
	sum := decimal.Zero
	for _, r := range rows {
		sum = sum.Add(decimal.NewFromFloat(r.Total))
	}
	return sum.InexactFloat64()
}

// FormatMoney renders d as "U$ 1.234,56": dot thousands, comma decimals.
func FormatMoney(d decimal.Decimal) string {
	fixed := d.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	b.WriteString("U$ ")
	if d.IsNegative() {
		b.WriteByte('-')
	}
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(c)
	}
	b.WriteByte(',')
	b.WriteString(frac)
	return b.String()
}
