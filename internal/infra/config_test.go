package infra

import (
	"testing"
	"time"
)

func TestLoadConfigRequiresDatabaseURLForPostgres(t *testing.T) {
	t.Setenv("JOB_STORE", "postgres")
	t.Setenv("DATABASE_URL", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}

func TestLoadConfigSQLiteDoesNotNeedDatabaseURL(t *testing.T) {
	t.Setenv("JOB_STORE", "SQLite")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SQLITE_PATH", "/tmp/jobs.db")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.JobStore != JobStoreSQLite {
		t.Fatalf("JobStore = %q, want %q", cfg.JobStore, JobStoreSQLite)
	}
	if cfg.SQLitePath != "/tmp/jobs.db" {
		t.Fatalf("SQLitePath = %q", cfg.SQLitePath)
	}
}

func TestLoadConfigRejectsUnknownJobStore(t *testing.T) {
	t.Setenv("JOB_STORE", "mongo")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for unsupported JOB_STORE")
	}
}

func TestLoadConfigBillingDefaults(t *testing.T) {
	t.Setenv("JOB_STORE", "postgres")
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("BILLING_BASE_URL", "https://billing.example.com/")
	t.Setenv("BILLING_COMMIT_ON_CANCEL", "")
	t.Setenv("BILLING_MIN_START_FEE_TOKENS", "")
	t.Setenv("BILLING_TIMEOUT_SECONDS", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if !cfg.BillingEnabled() {
		t.Fatal("expected billing to be enabled")
	}
	if cfg.BillingBaseURL != "https://billing.example.com" {
		t.Fatalf("BillingBaseURL = %q", cfg.BillingBaseURL)
	}
	if !cfg.BillingCommitOnCancel {
		t.Fatal("expected commit-on-cancel default true")
	}
	if cfg.BillingMinStartFee != 100 {
		t.Fatalf("BillingMinStartFee = %d, want 100", cfg.BillingMinStartFee)
	}
	if cfg.BillingTimeout != 10*time.Second {
		t.Fatalf("BillingTimeout = %s", cfg.BillingTimeout)
	}
}

func TestLoadConfigBillingDisabledWithoutBaseURL(t *testing.T) {
	t.Setenv("JOB_STORE", "postgres")
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("BILLING_BASE_URL", "")
	t.Setenv("BILLING_COMMIT_ON_CANCEL", "false")
	t.Setenv("WORKER_CONCURRENCY", "0")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.BillingEnabled() {
		t.Fatal("expected billing to be disabled")
	}
	if cfg.BillingCommitOnCancel {
		t.Fatal("expected commit-on-cancel override to false")
	}
	if cfg.WorkerConcurrency != 1 {
		t.Fatalf("WorkerConcurrency = %d, want 1", cfg.WorkerConcurrency)
	}
}

func TestLoadConfigSQLiteContentPathMustDiffer(t *testing.T) {
	t.Setenv("JOB_STORE", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/quizgen.db")
	t.Setenv("SQLITE_CONTENT_PATH", "/tmp/quizgen.db")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when job and content databases share a file")
	}
}

func TestLoadConfigListsAndReconcile(t *testing.T) {
	t.Setenv("JOB_STORE", "postgres")
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example.com, ,https://b.example.com")
	t.Setenv("RECONCILE_BATCH", "0")
	t.Setenv("RECONCILE_INTERVAL_SECONDS", "60")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example.com" {
		t.Fatalf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.ReconcileBatch != 100 || cfg.ReconcileInterval != time.Minute {
		t.Fatalf("ReconcileBatch = %d, ReconcileInterval = %s", cfg.ReconcileBatch, cfg.ReconcileInterval)
	}
	if cfg.DefaultLocale != "en" {
		t.Fatalf("DefaultLocale = %q", cfg.DefaultLocale)
	}
}
