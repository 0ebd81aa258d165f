package service_test

import (
	"testing"
	"time"

	"github.com/boddenberg/retail-insights-go/internal/domain"
	"github.com/boddenberg/retail-insights-go/internal/service"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
)

func TestFormatMoney(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "U$ 0,00"},
		{"999.5", "U$ 999,50"},
		{"1000", "U$ 1.000,00"},
		{"1234567.891", "U$ 1.234.567,89"},
		{"-1234.5", "U$ -1.234,50"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := service.FormatMoney(decimal.RequireFromString(tt.in)); got != tt.want {
				t.Errorf("FormatMoney(%s) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestKPIs(t *testing.T) {
	rows := []domain.Transaction{
		{Total: 0.1, GrossIncome: 0.2, Rating: 7},
		{Total: 0.2, GrossIncome: 0.1, Rating: 8},
		{Total: 1000, GrossIncome: 47.9, Rating: 9.5},
	}

	kpis := service.KPIs(rows)
	want := []domain.KPI{
		{Label: service.KPITotalRevenue, Value: "U$ 1.000,30"},
		{Label: service.KPITotalGrossIncome, Value: "U$ 48,20"},
		{Label: service.KPITotalSales, Value: "3"},
		{Label: service.KPIAverageRating, Value: "8.17"},
	}
	if len(kpis) != len(want) {
		t.Fatalf("expected %d KPIs, got %d", len(want), len(kpis))
	}
	for i := range want {
		if kpis[i] != want[i] {
			t.Errorf("KPI %d: got %+v, want %+v", i, kpis[i], want[i])
		}
	}

	if got := service.TotalRevenue(rows); got != 1000.3 {
		t.Errorf("expected total revenue 1000.3, got %v", got)
	}
}

func TestKPIs_Empty(t *testing.T) {
	kpis := service.KPIs(nil)
	if kpis[2].Value != "0" || kpis[3].Value != "0.00" {
		t.Errorf("unexpected KPIs for empty snapshot: %+v", kpis)
	}
}

func TestFingerprint(t *testing.T) {
	rows := salesWeeks(3)
	req := domain.AnalysisRequest{K: 4, HorizonWeeks: 52}

	a := service.Fingerprint(req, rows)
	if a != service.Fingerprint(req, rows) {
		t.Error("expected deterministic fingerprint")
	}
	if len(a) != 64 {
		t.Errorf("expected 256-bit hex digest, got %d chars", len(a))
	}

	other := req
	other.K = 5
	if service.Fingerprint(other, rows) == a {
		t.Error("expected k to change the fingerprint")
	}

	withImage := req
	withImage.ForecastImage = []byte{0x89, 'P', 'N', 'G'}
	if service.Fingerprint(withImage, rows) == a {
		t.Error("expected images to change the fingerprint")
	}

	changed := salesWeeks(3)
	changed[0].Total++
	if service.Fingerprint(req, changed) == a {
		t.Error("expected row data to change the fingerprint")
	}
}

func TestAuthenticator_RoundTrip(t *testing.T) {
	auth := service.NewAuthenticator("secret", time.Hour)

	token, err := auth.Issue("dashboard")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := auth.Validate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != "dashboard" {
		t.Errorf("expected subject dashboard, got %s", claims.Subject)
	}
}

func TestAuthenticator_Rejects(t *testing.T) {
	auth := service.NewAuthenticator("secret", time.Hour)

	foreign, _ := service.NewAuthenticator("other", time.Hour).Issue("x")
	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "retail-insights",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}).SignedString([]byte("secret"))
	wrongIssuer, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer: "someone-else",
	}).SignedString([]byte("secret"))

	for name, token := range map[string]string{
		"foreign secret": foreign,
		"expired":        expired,
		"wrong issuer":   wrongIssuer,
		"garbage":        "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := auth.Validate(token); err == nil {
				t.Error("expected token to be rejected")
			}
		})
	}
}
