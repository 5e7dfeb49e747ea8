package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Database
	PostgresDSN string

	// Cache
	RedisAddr string

	// Providers
	OpenAIAPIKey    string
	GeminiAPIKey    string
	AnthropicAPIKey string
	CohereAPIKey    string

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"

	// Rate limiting
	DefaultRateLimitRPM int64 // requests per minute, default: 100

	// Budget enforcement: "enforcing" denies over-budget clients,
	// "advisory" logs and admits.
	BudgetEnforcement string

	// Call defaults
	DefaultProvider string
	DefaultModel    string
	DefaultTimeout  time.Duration // per-call upstream timeout
	MaxRetries      int           // attempts for retryable provider errors

	// Ledger retention and rollup cadence
	RetentionDays  int // raw usage rows, default: 90
	HourlyRefresh  time.Duration
	DailyRefresh   time.Duration
	MonthlyRefresh time.Duration
	PurgeInterval  time.Duration
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		GeminiAPIKey:         os.Getenv("GEMINI_API_KEY"),
		AnthropicAPIKey:      os.Getenv("ANTHROPIC_API_KEY"),
		CohereAPIKey:         os.Getenv("COHERE_API_KEY"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		BudgetEnforcement:    getEnv("BUDGET_ENFORCEMENT", "enforcing"),
		DefaultProvider:      getEnv("DEFAULT_PROVIDER", "claude"),
		DefaultModel:         getEnv("DEFAULT_MODEL", "claude-3-5-sonnet-20241022"),
		HourlyRefresh:        time.Hour,
		DailyRefresh:         6 * time.Hour,
		MonthlyRefresh:       7 * 24 * time.Hour,
		PurgeInterval:        24 * time.Hour,
	}

	rpmStr := getEnv("DEFAULT_RATE_LIMIT_RPM", "100")
	rpm, err := strconv.ParseInt(rpmStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_RATE_LIMIT_RPM: %w", err)
	}
	cfg.DefaultRateLimitRPM = rpm

	retentionStr := getEnv("RETENTION_DAYS", "90")
	retention, err := strconv.Atoi(retentionStr)
	if err != nil {
		return nil, fmt.Errorf("invalid RETENTION_DAYS: %w", err)
	}
	cfg.RetentionDays = retention

	timeoutStr := getEnv("DEFAULT_TIMEOUT_SECONDS", "60")
	timeoutSec, err := strconv.Atoi(timeoutStr)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_TIMEOUT_SECONDS: %w", err)
	}
	cfg.DefaultTimeout = time.Duration(timeoutSec) * time.Second

	retriesStr := getEnv("MAX_RETRIES", "3")
	retries, err := strconv.Atoi(retriesStr)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_RETRIES: %w", err)
	}
	cfg.MaxRetries = retries

	// Validation
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}
	if cfg.BudgetEnforcement != "enforcing" && cfg.BudgetEnforcement != "advisory" {
		return nil, fmt.Errorf("BUDGET_ENFORCEMENT must be \"enforcing\" or \"advisory\", got %q", cfg.BudgetEnforcement)
	}
	if cfg.RetentionDays < 1 {
		return nil, fmt.Errorf("RETENTION_DAYS must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
