package generation

import (
	"context"
	"errors"
	"fmt"

	"quizgen/internal/billing"
	"quizgen/internal/domain"
	"quizgen/internal/domain/jsoncfg"
)

// CompletionResult reports what OnGenerationCompleted did with the job.
type CompletionResult struct {
	Status  domain.JobStatus
	QuizIDs []string
	Billing BillingOutcome
}

// OnGenerationCompleted assembles and stores the generated quizzes, marks the
// job COMPLETED and commits the used tokens, all under one job lock. A job
// that already reached a terminal status is left untouched and a
// TerminalStateError is returned. When no chunk produced questions the job
// is failed instead. Billing problems never change the returned status.
func (s *Service) OnGenerationCompleted(ctx context.Context, jobID string, results domain.ChunkResults, params jsoncfg.GenerationParams) (*CompletionResult, error) {
	var result CompletionResult
	_, err := s.mutate(ctx, jobID, func(job *domain.GenerationJob) error {
		if job.Status.IsTerminal() {
			return &domain.TerminalStateError{JobID: job.ID, Status: job.Status}
		}
		if params.Version == "" {
			params = job.Params
		}
		now := s.now()
		quizzes := assembleQuizzes(job, results, params, now, s.newID)
		if len(quizzes) == 0 {
			result.Billing = s.failLocked(ctx, job, "no questions were generated")
			result.Status = job.Status
			return nil
		}
		if err := s.quizzes.SaveQuizzes(ctx, quizzes); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("generation: save quizzes failed")
			result.Billing = s.failLocked(ctx, job, "failed to save quizzes")
			result.Status = job.Status
			return nil
		}

		if err := s.advanceTo(job, domain.JobStatusCompleted); err != nil {
			return err
		}
		job.ProcessedChunks = job.TotalChunks
		job.ResultQuizIDs = make([]string, 0, len(quizzes))
		for _, q := range quizzes {
			job.ResultQuizIDs = append(job.ResultQuizIDs, q.ID)
		}

		actual := s.estimator.ActualTokens(results.Questions(), params.Difficulty, job.InputPromptTokens)
		result.Billing = s.commitLocked(ctx, job, chargePlan{actual: actual, charge: actual, requireCompleted: true})
		result.Status = job.Status
		result.QuizIDs = append([]string(nil), job.ResultQuizIDs...)
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrInvalidState) {
			s.logger.Error().Err(err).Str("job_id", jobID).Msg("generation: completion aborted")
		}
		return nil, err
	}
	s.logger.Info().
		Str("job_id", jobID).
		Str("status", string(result.Status)).
		Int("quizzes", len(result.QuizIDs)).
		Str("billing", result.Billing.String()).
		Msg("generation: completion handled")
	return &result, nil
}

// OnGenerationFailed marks the job FAILED and returns the whole reservation.
func (s *Service) OnGenerationFailed(ctx context.Context, jobID string, reason string) (BillingOutcome, error) {
	var outcome BillingOutcome
	_, err := s.mutate(ctx, jobID, func(job *domain.GenerationJob) error {
		if job.Status.IsTerminal() {
			return &domain.TerminalStateError{JobID: job.ID, Status: job.Status}
		}
		outcome = s.failLocked(ctx, job, reason)
		return nil
	})
	if err != nil {
		return BillingOutcome{}, err
	}
	s.logger.Warn().Str("job_id", jobID).Str("reason", reason).Str("billing", outcome.String()).Msg("generation: job failed")
	return outcome, nil
}

func (s *Service) failLocked(ctx context.Context, job *domain.GenerationJob, reason string) BillingOutcome {
	if err := s.advanceTo(job, domain.JobStatusFailed); err != nil {
		return s.recordFailure(job, "fail", err)
	}
	job.ErrorMessage = reason
	return s.releaseLocked(ctx, job, billing.ReasonGenerationFailed)
}

// advanceTo moves a non-terminal job to next, stepping through PROCESSING
// when the engine reports on a job it never claimed.
func (s *Service) advanceTo(job *domain.GenerationJob, next domain.JobStatus) error {
	now := s.now()
	if job.Status == domain.JobStatusPending && next != domain.JobStatusProcessing && next != domain.JobStatusCancelled {
		if err := job.TransitionTo(domain.JobStatusProcessing, now); err != nil {
			return err
		}
	}
	if err := job.TransitionTo(next, now); err != nil {
		return fmt.Errorf("advance job: %w", err)
	}
	return nil
}
