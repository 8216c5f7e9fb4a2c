package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"quizgen/internal/domain"
	"quizgen/internal/domain/jsoncfg"
	"quizgen/internal/generation"
)

// Lifecycle is the part of the orchestrator the engine reports to.
type Lifecycle interface {
	MarkProcessing(ctx context.Context, jobID string) (*domain.GenerationJob, error)
	MarkAIStarted(ctx context.Context, jobID string) error
	RecordChunkProgress(ctx context.Context, jobID string, inputTokens int64) (*domain.GenerationJob, error)
	OnGenerationCompleted(ctx context.Context, jobID string, results domain.ChunkResults, params jsoncfg.GenerationParams) (*generation.CompletionResult, error)
	OnGenerationFailed(ctx context.Context, jobID string, reason string) (generation.BillingOutcome, error)
}

// Processor runs generation for one job at a time, chunk by chunk.
type Processor struct {
	lifecycle Lifecycle
	documents domain.DocumentSource
	generator domain.Generator
	logger    zerolog.Logger
}

func NewProcessor(lifecycle Lifecycle, documents domain.DocumentSource, generator domain.Generator, logger zerolog.Logger) *Processor {
	return &Processor{
		lifecycle: lifecycle,
		documents: documents,
		generator: generator,
		logger:    logger,
	}
}

// Process claims a dispatched PENDING job and runs it. A job that was
// cancelled or claimed elsewhere in the meantime is skipped.
func (p *Processor) Process(ctx context.Context, jobID string) error {
	job, err := p.lifecycle.MarkProcessing(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidState) || errors.Is(err, domain.ErrNotFound) {
			p.logger.Debug().Err(err).Str("job_id", jobID).Msg("worker: job not claimable, skipped")
			return nil
		}
		return fmt.Errorf("claim job %s: %w", jobID, err)
	}
	return p.Run(ctx, job)
}

// Run generates questions for a job that is already PROCESSING.
func (p *Processor) Run(ctx context.Context, job *domain.GenerationJob) error {
	log := p.logger.With().Str("job_id", job.ID).Logger()
	log.Info().Int("chunks", job.TotalChunks).Msg("worker: picked job")

	chunks, err := p.documents.ListChunks(ctx, job.DocumentID)
	if err != nil {
		return p.fail(ctx, job.ID, fmt.Sprintf("load chunks: %v", err))
	}
	if len(chunks) == 0 {
		return p.fail(ctx, job.ID, domain.ErrNoChunks.Error())
	}

	if err := p.lifecycle.MarkAIStarted(ctx, job.ID); err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			log.Info().Msg("worker: job stopped before generation")
			return nil
		}
		return err
	}

	results := make(domain.ChunkResults, len(chunks))
	var lastErr error
	generated := 0
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return p.fail(context.WithoutCancel(ctx), job.ID, "worker shutting down")
		}
		resp, err := p.generator.GenerateQuestions(ctx, domain.GenerateRequest{JobID: job.ID, Chunk: chunk, Params: job.Params})
		var inputTokens int64
		if err != nil {
			lastErr = err
			results[chunk.Index] = nil
			log.Warn().Err(err).Int("chunk", chunk.Index).Msg("worker: chunk generation failed")
		} else {
			results[chunk.Index] = resp.Questions
			inputTokens = resp.InputTokens
			generated++
		}

		if _, err := p.lifecycle.RecordChunkProgress(ctx, job.ID, inputTokens); err != nil {
			if errors.Is(err, domain.ErrInvalidState) {
				log.Info().Int("chunk", chunk.Index).Msg("worker: job cancelled, stopping")
				return nil
			}
			return fmt.Errorf("record progress: %w", err)
		}
	}

	if generated == 0 {
		return p.fail(ctx, job.ID, fmt.Sprintf("all chunks failed: %v", lastErr))
	}

	res, err := p.lifecycle.OnGenerationCompleted(ctx, job.ID, results, job.Params)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			log.Info().Err(err).Msg("worker: completion ignored")
			return nil
		}
		return fmt.Errorf("complete job: %w", err)
	}
	log.Info().Str("status", string(res.Status)).Int("quizzes", len(res.QuizIDs)).Msg("worker: job finished")
	return nil
}

func (p *Processor) fail(ctx context.Context, jobID, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := p.lifecycle.OnGenerationFailed(ctx, jobID, reason); err != nil && !errors.Is(err, domain.ErrInvalidState) {
		return fmt.Errorf("fail job: %w", err)
	}
	p.logger.Warn().Str("job_id", jobID).Str("reason", reason).Msg("worker: job failed")
	return nil
}
