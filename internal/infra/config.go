package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	JobStorePostgres = "postgres"
	JobStoreSQLite   = "sqlite"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	JobStore    string
	SQLitePath  string
	// SQLiteContentPath holds document chunks and quizzes in SQLite mode.
	SQLiteContentPath string
	JWTSecret         string
	AllowedOrigins    []string
	DefaultLocale     string

	BillingBaseURL        string
	BillingAPIKey         string
	BillingTimeout        time.Duration
	BillingPurpose        string
	BillingCommitOnCancel bool
	BillingMinStartFee    int64

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	OpenAIOrg     string

	WorkerConcurrency  int
	WorkerQueueSize    int
	WorkerPollInterval time.Duration
	WorkerStaleAfter   time.Duration

	ReconcileInterval time.Duration
	ReconcileBatch    int

	EstimateTokensPerChunk  int
	EstimateSecondsPerChunk int
	EstimateSafetyPercent   int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JobStore:    strings.ToLower(getEnv("JOB_STORE", JobStorePostgres)),
		SQLitePath:  getEnv("SQLITE_PATH", "./quizgen.db"),
		JWTSecret:   os.Getenv("JWT_SECRET"),

		SQLiteContentPath: getEnv("SQLITE_CONTENT_PATH", "./quizgen-content.db"),
		AllowedOrigins:    splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		DefaultLocale:     getEnv("DEFAULT_LOCALE", "en"),

		BillingBaseURL:        strings.TrimRight(os.Getenv("BILLING_BASE_URL"), "/"),
		BillingAPIKey:         os.Getenv("BILLING_API_KEY"),
		BillingTimeout:        time.Second * time.Duration(getEnvInt("BILLING_TIMEOUT_SECONDS", 10)),
		BillingPurpose:        getEnv("BILLING_PURPOSE", "quiz-generation"),
		BillingCommitOnCancel: getEnvBool("BILLING_COMMIT_ON_CANCEL", true),
		BillingMinStartFee:    int64(getEnvInt("BILLING_MIN_START_FEE_TOKENS", 100)),

		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIOrg:     os.Getenv("OPENAI_ORG"),

		WorkerConcurrency:  getEnvInt("WORKER_CONCURRENCY", 4),
		WorkerQueueSize:    getEnvInt("WORKER_QUEUE_SIZE", 64),
		WorkerPollInterval: time.Second * time.Duration(getEnvInt("WORKER_POLL_INTERVAL_SECONDS", 2)),
		WorkerStaleAfter:   time.Second * time.Duration(getEnvInt("WORKER_STALE_AFTER_SECONDS", 30)),

		ReconcileInterval: time.Second * time.Duration(getEnvInt("RECONCILE_INTERVAL_SECONDS", 300)),
		ReconcileBatch:    getEnvInt("RECONCILE_BATCH", 100),

		EstimateTokensPerChunk:  getEnvInt("ESTIMATE_TOKENS_PER_CHUNK", 800),
		EstimateSecondsPerChunk: getEnvInt("ESTIMATE_SECONDS_PER_CHUNK", 12),
		EstimateSafetyPercent:   getEnvInt("ESTIMATE_SAFETY_PERCENT", 20),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	switch cfg.JobStore {
	case JobStorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case JobStoreSQLite:
		if cfg.SQLitePath == "" || cfg.SQLiteContentPath == "" {
			return nil, fmt.Errorf("SQLITE_PATH and SQLITE_CONTENT_PATH are required")
		}
		if cfg.SQLitePath == cfg.SQLiteContentPath {
			return nil, fmt.Errorf("SQLITE_CONTENT_PATH must differ from SQLITE_PATH")
		}
	default:
		return nil, fmt.Errorf("unsupported JOB_STORE %q", cfg.JobStore)
	}
	if cfg.WorkerConcurrency < 1 {
		cfg.WorkerConcurrency = 1
	}
	if cfg.BillingMinStartFee < 0 {
		cfg.BillingMinStartFee = 0
	}
	if cfg.ReconcileBatch < 1 {
		cfg.ReconcileBatch = 100
	}

	return cfg, nil
}

// BillingEnabled reports whether a ledger endpoint is configured.
func (c *Config) BillingEnabled() bool {
	return c.BillingBaseURL != ""
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// splitList parses a comma separated list, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
