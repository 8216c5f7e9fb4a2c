package generation

import (
	"context"
	"fmt"

	"quizgen/internal/billing"
	"quizgen/internal/domain"
)

// Reconcile re-drives the billing tail of a terminal job: a commit or release
// that was attempted but not confirmed, a release that was never attempted,
// or a failed remainder release after a commit. Retried calls reuse the
// stored idempotency key, so the ledger sees them as duplicates when the
// original call did land. The lifecycle never retries on its own; Reconcile
// is driven by an operator through cmd/reconcile.
func (s *Service) Reconcile(ctx context.Context, jobID string) (BillingOutcome, error) {
	var outcome BillingOutcome
	_, err := s.mutate(ctx, jobID, func(job *domain.GenerationJob) error {
		outcome = s.reconcileLocked(ctx, job)
		return nil
	})
	if err != nil {
		return BillingOutcome{}, err
	}
	s.logger.Info().Str("job_id", jobID).Str("billing", outcome.String()).Msg("generation: reconciled")
	return outcome, nil
}

// ReconcileStuck runs Reconcile over up to limit jobs reported by the store.
func (s *Service) ReconcileStuck(ctx context.Context, limit int) (map[string]BillingOutcome, error) {
	jobs, err := s.jobs.ListBillingStuck(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list stuck jobs: %w", err)
	}
	out := make(map[string]BillingOutcome, len(jobs))
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		outcome, err := s.Reconcile(ctx, job.ID)
		if err != nil {
			outcome = BillingOutcome{Kind: OutcomeFailed, Reason: "reconcile", Err: err}
		}
		out[job.ID] = outcome
	}
	return out, nil
}

func (s *Service) reconcileLocked(ctx context.Context, job *domain.GenerationJob) BillingOutcome {
	if !job.BillingEnabled() {
		return noop("billing disabled")
	}
	if !job.Status.IsTerminal() {
		return BillingOutcome{Kind: OutcomeSkipped, Reason: "job still running"}
	}

	switch job.BillingState {
	case domain.BillingStateCommitted:
		remainder := job.BillingEstimatedTokens - job.BillingCommittedTokens
		if job.LastBillingError == "" || remainder <= 0 {
			return noop("already committed")
		}
		if err := s.releaseRemainder(ctx, job, remainder); err != nil {
			return s.recordFailure(job, "release remainder", err)
		}
		job.LastBillingError = ""
		job.UpdatedAt = s.now()
		return BillingOutcome{Kind: OutcomeReleased, Reason: billing.ReasonCommitRemainder}
	case domain.BillingStateReserved:
	default:
		return noop("reservation already settled")
	}

	// A lapsed hold may already be reclaimed by the ledger; it is never
	// committed against, even when a commit was attempted before expiry.
	if job.ReservationExpired(s.now()) {
		if key, ok := job.IdempotencyKey(domain.BillingOpRelease); ok {
			return s.retryRelease(ctx, job, key, billing.ReasonReservationExpired)
		}
		return s.releaseLocked(ctx, job, billing.ReasonReservationExpired)
	}
	if key, ok := job.IdempotencyKey(domain.BillingOpCommit); ok {
		return s.retryCommit(ctx, job, key)
	}
	if key, ok := job.IdempotencyKey(domain.BillingOpRelease); ok {
		return s.retryRelease(ctx, job, key, billing.ReasonReconcile)
	}
	reason := billing.ReasonGenerationFailed
	switch {
	case job.Status == domain.JobStatusCancelled:
		reason = billing.ReasonCancelled
	case job.Status == domain.JobStatusCompleted:
		reason = billing.ReasonReconcile
	}
	return s.releaseLocked(ctx, job, reason)
}

// retryCommit replays the amount first sent under key. Rows written before
// the attempted amount was stored fall back to the capped actual usage.
func (s *Service) retryCommit(ctx context.Context, job *domain.GenerationJob, key string) BillingOutcome {
	amount := job.BillingCommittedTokens
	if amount <= 0 {
		amount = min(job.ActualTokens, job.BillingEstimatedTokens)
		job.BillingCommittedTokens = amount
	}
	res, err := s.ledger.Commit(ctx, domain.CommitRequest{
		ReservationID:  job.BillingReservationID,
		Amount:         amount,
		Purpose:        s.cfg.Purpose,
		IdempotencyKey: key,
	})
	if err != nil {
		return s.recordFailure(job, "commit retry", err)
	}
	if err := job.TransitionBilling(domain.BillingStateCommitted); err != nil {
		return s.recordFailure(job, "commit retry", err)
	}
	job.LastBillingError = ""
	job.UpdatedAt = s.now()
	if remainder := job.BillingEstimatedTokens - amount; res.Released == 0 && remainder > 0 {
		if err := s.releaseRemainder(ctx, job, remainder); err != nil {
			job.LastBillingError = "remainder release failed: " + err.Error()
		}
	}
	return BillingOutcome{Kind: OutcomeCommitted, Reason: "retry"}
}

func (s *Service) retryRelease(ctx context.Context, job *domain.GenerationJob, key, reason string) BillingOutcome {
	if _, err := s.ledger.Release(ctx, domain.ReleaseRequest{
		ReservationID:  job.BillingReservationID,
		Amount:         job.BillingEstimatedTokens,
		Reason:         reason,
		Purpose:        s.cfg.Purpose,
		IdempotencyKey: key,
	}); err != nil {
		return s.recordFailure(job, "release retry", err)
	}
	if err := job.TransitionBilling(domain.BillingStateReleased); err != nil {
		return s.recordFailure(job, "release retry", err)
	}
	job.BillingCommittedTokens = 0
	job.LastBillingError = ""
	job.UpdatedAt = s.now()
	return BillingOutcome{Kind: OutcomeReleased, Reason: reason}
}
