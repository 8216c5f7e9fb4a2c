package generation

import (
	"context"

	"quizgen/internal/billing"
	"quizgen/internal/domain"
)

// CancelResult is what the caller of Cancel sees.
type CancelResult struct {
	JobID   string
	Status  domain.JobStatus
	Billing BillingOutcome
}

// Cancel stops a job on behalf of its owner and settles the reservation.
// Ownership and terminal-state checks are returned as errors; billing
// failures are recorded on the job and the job is CANCELLED regardless.
func (s *Service) Cancel(ctx context.Context, jobID, userID string) (*CancelResult, error) {
	var outcome BillingOutcome
	snapshot, err := s.mutate(ctx, jobID, func(job *domain.GenerationJob) error {
		if job.UserID != userID {
			return domain.ErrForbidden
		}
		if job.Status.IsTerminal() {
			return &domain.TerminalStateError{JobID: job.ID, Status: job.Status}
		}
		if err := job.TransitionTo(domain.JobStatusCancelled, s.now()); err != nil {
			return err
		}
		job.ErrorMessage = "cancelled by user"
		outcome = s.settleCancelled(ctx, job)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("job_id", jobID).
		Bool("ai_started", snapshot.HasStartedAICalls).
		Str("billing", outcome.String()).
		Msg("generation: job cancelled")
	return &CancelResult{JobID: snapshot.ID, Status: snapshot.Status, Billing: outcome}, nil
}

// settleCancelled resolves the billing tail of a job that was just cancelled.
func (s *Service) settleCancelled(ctx context.Context, job *domain.GenerationJob) BillingOutcome {
	if !job.BillingEnabled() {
		return noop("billing disabled")
	}
	if job.BillingState != domain.BillingStateReserved {
		return noop("reservation already settled")
	}
	if !job.HasStartedAICalls {
		return s.releaseLocked(ctx, job, billing.ReasonCancelledNoWork)
	}
	if !s.cfg.CommitOnCancel {
		return s.releaseLocked(ctx, job, billing.ReasonCancelled)
	}

	soFar := s.estimator.ActualTokens(nil, job.Params.Difficulty, job.InputPromptTokens)
	charge := soFar
	if charge < s.cfg.MinStartFeeTokens {
		charge = s.cfg.MinStartFeeTokens
	}
	if charge > job.BillingEstimatedTokens {
		charge = job.BillingEstimatedTokens
	}
	if charge <= 0 {
		return s.releaseLocked(ctx, job, billing.ReasonCancelled)
	}
	return s.commitLocked(ctx, job, chargePlan{actual: soFar, charge: charge})
}
