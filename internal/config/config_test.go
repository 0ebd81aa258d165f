package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/boddenberg/retail-insights-go/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "DATA_SOURCE", "NARRATIVE_CONCURRENCY", "FORECAST_HORIZON_WEEKS", "NARRATIVE_TIMEOUT", "JWT_SECRET"} {
		t.Setenv(k, "")
	}

	cfg := config.Load()
	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.DataSource != config.SourceCSV {
		t.Errorf("expected csv source, got %s", cfg.DataSource)
	}
	if cfg.NarrativeConcurrency != 2 {
		t.Errorf("expected narrative concurrency 2, got %d", cfg.NarrativeConcurrency)
	}
	if cfg.ForecastHorizonWeeks != 52 {
		t.Errorf("expected 52 week horizon, got %d", cfg.ForecastHorizonWeeks)
	}
	if cfg.NarrativeTimeout != 60*time.Second {
		t.Errorf("expected 60s narrative timeout, got %v", cfg.NarrativeTimeout)
	}
	if cfg.JWTSecret != "" {
		t.Errorf("expected auth disabled by default")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("NARRATIVE_TIMEOUT", "5s")
	t.Setenv("CLUSTER_K", "not-a-number")

	cfg := config.Load()
	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.NarrativeTimeout != 5*time.Second {
		t.Errorf("expected 5s, got %v", cfg.NarrativeTimeout)
	}
	if cfg.ClusterK != 4 {
		t.Errorf("expected fallback k=4 for bad value, got %d", cfg.ClusterK)
	}
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "LLM_MODEL=from-file\n# comment\nCSV_PATH=\"data/file.csv\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("LLM_MODEL", "from-env")
	t.Setenv("CSV_PATH", "")
	os.Unsetenv("CSV_PATH")

	if err := config.LoadDotEnv(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := os.Getenv("LLM_MODEL"); got != "from-env" {
		t.Errorf("expected env to win, got %s", got)
	}
	if got := os.Getenv("CSV_PATH"); got != "data/file.csv" {
		t.Errorf("expected value from file, got %s", got)
	}
}

func TestLoadDotEnv_MissingFile(t *testing.T) {
	if err := config.LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("expected missing file to be ignored, got %v", err)
	}
}
