// Package bootstrap builds the stores, ledger client and generator the
// binaries share from an infra.Config.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"quizgen/internal/adapter/repo"
	"quizgen/internal/billing"
	"quizgen/internal/domain"
	"quizgen/internal/estimation"
	"quizgen/internal/generation"
	"quizgen/internal/infra"
	"quizgen/internal/providers/llm"
)

// Components are the long-lived collaborators of a process.
type Components struct {
	Jobs      domain.JobStore
	Documents domain.DocumentSource
	Chunks    domain.ChunkWriter
	Quizzes   domain.QuizWriter
	Ledger    domain.BillingLedger // nil when billing is disabled
	Estimator *estimation.Estimator
	Generator domain.Generator
	Ping      func(ctx context.Context) error

	closers []func()
}

// Close releases database handles in reverse order of creation.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// Open connects the configured job store and builds the ledger client,
// estimator and question generator.
func Open(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*Components, error) {
	c := &Components{
		Estimator: estimation.New(estimation.Config{
			TokensPerChunk:  cfg.EstimateTokensPerChunk,
			SecondsPerChunk: cfg.EstimateSecondsPerChunk,
			SafetyPercent:   cfg.EstimateSafetyPercent,
		}),
	}

	switch cfg.JobStore {
	case infra.JobStoreSQLite:
		jobs, err := repo.NewSQLiteJobRepository(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite job store: %w", err)
		}
		c.closers = append(c.closers, func() { _ = jobs.Close() })
		content, err := repo.NewSQLiteContentRepository(cfg.SQLiteContentPath)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("open sqlite content store: %w", err)
		}
		c.closers = append(c.closers, func() { _ = content.Close() })
		c.Jobs, c.Documents, c.Chunks, c.Quizzes, c.Ping = jobs, content, content, content, jobs.Ping
		logger.Info().Str("path", cfg.SQLitePath).Msg("bootstrap: using sqlite job store")
	default:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, pool.Close)
		runner := infra.NewSQLRunner(pool, logger)
		c.Jobs = repo.NewJobRepository(runner)
		chunks := repo.NewChunkRepository(runner)
		c.Documents, c.Chunks = chunks, chunks
		c.Quizzes = repo.NewQuizRepository(runner)
		c.Ping = pool.Ping
	}

	if cfg.BillingEnabled() {
		ledger, err := billing.NewClient(billing.Options{
			BaseURL:    cfg.BillingBaseURL,
			APIKey:     cfg.BillingAPIKey,
			HTTPClient: &http.Client{Timeout: cfg.BillingTimeout},
			Logger:     &logger,
		})
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Ledger = ledger
	} else {
		logger.Warn().Msg("bootstrap: BILLING_BASE_URL not set, jobs run without reservations")
	}

	gen, err := newGenerator(cfg, logger)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Generator = gen
	return c, nil
}

// Service builds the orchestrator over the components.
func (c *Components) Service(cfg *infra.Config, notifier domain.JobNotifier, logger zerolog.Logger) *generation.Service {
	return generation.NewService(generation.Deps{
		Jobs:      c.Jobs,
		Ledger:    c.Ledger,
		Estimator: c.Estimator,
		Documents: c.Documents,
		Quizzes:   c.Quizzes,
		Notifier:  notifier,
	}, generation.Config{
		Purpose:           cfg.BillingPurpose,
		CommitOnCancel:    cfg.BillingCommitOnCancel,
		MinStartFeeTokens: cfg.BillingMinStartFee,
	}, logger)
}

func newGenerator(cfg *infra.Config, logger zerolog.Logger) (domain.Generator, error) {
	if cfg.OpenAIAPIKey == "" {
		logger.Warn().Msg("bootstrap: OPENAI_API_KEY not set, using static question generator")
		return llm.NewStaticGenerator(), nil
	}
	gen, err := llm.NewOpenAIGenerator(llm.OpenAIOptions{
		APIKey:       cfg.OpenAIAPIKey,
		Model:        cfg.OpenAIModel,
		BaseURL:      cfg.OpenAIBaseURL,
		Organization: cfg.OpenAIOrg,
		OnFallback: func(reason string, err error) {
			logger.Warn().Err(err).Str("reason", reason).Msg("llm: openai request failed")
		},
		OnWarning: func(reason, detail string) {
			logger.Warn().Str("reason", reason).Str("detail", detail).Msg("llm: model normalized")
		},
	})
	if err != nil {
		return nil, err
	}
	logger.Info().Str("model", gen.Model()).Msg("bootstrap: using openai question generator")
	return gen, nil
}
