package config

import (
	"os"
	"strconv"
	"time"
)

// Data sources accepted in DATA_SOURCE.
const (
	SourceCSV      = "csv"
	SourceSupabase = "supabase"
	SourcePostgres = "postgres"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	CacheTTL time.Duration
	RedisURL string // empty = in-memory report cache

	// Observability
	OTLPEndpoint string

	// Data source
	DataSource  string
	CSVPath     string
	DatabaseURL string

	// Supabase
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string

	// Narrative service (OpenAI-compatible)
	LLMBaseURL           string
	LLMAPIKey            string
	LLMModel             string
	NarrativeTimeout     time.Duration
	NarrativeConcurrency int

	// Analysis defaults
	ClusterK             int
	ForecastHorizonWeeks int

	// JWT / Auth. Empty secret disables bearer auth on /v1.
	JWTSecret string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		CacheTTL: getEnvDuration("CACHE_TTL", 30*time.Minute),
		RedisURL: getEnv("REDIS_URL", ""),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		DataSource:  getEnv("DATA_SOURCE", SourceCSV),
		CSVPath:     getEnv("CSV_PATH", "data/supermarket_sales_extended.csv"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),

		LLMBaseURL:           getEnv("LLM_BASE_URL", "https://openrouter.ai/api/v1"),
		LLMAPIKey:            getEnv("LLM_API_KEY", ""),
		LLMModel:             getEnv("LLM_MODEL", "openai/gpt-4o-mini"),
		NarrativeTimeout:     getEnvDuration("NARRATIVE_TIMEOUT", 60*time.Second),
		NarrativeConcurrency: getEnvInt("NARRATIVE_CONCURRENCY", 2),

		ClusterK:             getEnvInt("CLUSTER_K", 4),
		ForecastHorizonWeeks: getEnvInt("FORECAST_HORIZON_WEEKS", 52),

		JWTSecret: getEnv("JWT_SECRET", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
