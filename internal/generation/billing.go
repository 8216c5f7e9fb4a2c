package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quizgen/internal/billing"
	"quizgen/internal/domain"
)

// OutcomeKind classifies what a billing step did.
type OutcomeKind string

const (
	// OutcomeCommitted means the ledger accepted a commit in this call.
	OutcomeCommitted OutcomeKind = "committed"
	// OutcomeReleased means the ledger accepted a full release in this call.
	OutcomeReleased OutcomeKind = "released"
	// OutcomeNoop means nothing had to be done.
	OutcomeNoop OutcomeKind = "noop"
	// OutcomeSkipped means the step was deliberately not attempted.
	OutcomeSkipped OutcomeKind = "skipped"
	// OutcomeFailed means an error was recorded on the job.
	OutcomeFailed OutcomeKind = "failed"
)

// BillingOutcome is the result of a billing step. Billing failures are
// reported through it instead of an error return.
type BillingOutcome struct {
	Kind   OutcomeKind
	Reason string
	Err    error
}

func (o BillingOutcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("%s: %s: %v", o.Kind, o.Reason, o.Err)
	}
	if o.Reason != "" {
		return string(o.Kind) + ": " + o.Reason
	}
	return string(o.Kind)
}

func noop(reason string) BillingOutcome {
	return BillingOutcome{Kind: OutcomeNoop, Reason: reason}
}

// chargePlan is what the commit path should charge.
type chargePlan struct {
	// actual is the measured usage stored on the job.
	actual int64
	// charge is the amount to commit before capping at the estimate.
	charge int64
	// requireCompleted restricts the commit to jobs that finished successfully.
	requireCompleted bool
}

// CommitTokensForSuccessfulGeneration charges the tokens used by a completed
// job. It is safe to call repeatedly: once a commit has been attempted the
// ledger is never called again from here. It never returns an error; problems
// are stored in the job's LastBillingError.
func (s *Service) CommitTokensForSuccessfulGeneration(ctx context.Context, jobID string, questions []domain.Question) BillingOutcome {
	var outcome BillingOutcome
	_, err := s.mutate(ctx, jobID, func(job *domain.GenerationJob) error {
		actual := s.estimator.ActualTokens(questions, job.Params.Difficulty, job.InputPromptTokens)
		outcome = s.commitLocked(ctx, job, chargePlan{actual: actual, charge: actual, requireCompleted: true})
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("generation: commit aborted, job not loadable under lock")
		return BillingOutcome{Kind: OutcomeFailed, Reason: "job not loadable", Err: err}
	}
	return outcome
}

// commitLocked runs the guarded commit sequence. The caller holds the job
// lock and saves the job afterwards. ActualTokens, WasCappedAtReserved and
// BillingCommittedTokens are written with the commit key, before the ledger
// call: while billingState is still RESERVED they hold the attempted values
// that Reconcile replays under the same key.
func (s *Service) commitLocked(ctx context.Context, job *domain.GenerationJob, plan chargePlan) BillingOutcome {
	log := s.logger.With().Str("job_id", job.ID).Str("reservation_id", job.BillingReservationID).Logger()

	if !job.BillingEnabled() {
		return noop("billing disabled")
	}
	if key, ok := job.IdempotencyKey(domain.BillingOpCommit); ok {
		log.Debug().Str("idempotency_key", key).Msg("generation: commit already attempted")
		return noop("commit already attempted")
	}
	if job.BillingState == domain.BillingStateCommitted {
		return noop("already committed")
	}
	if job.BillingState != domain.BillingStateReserved {
		return s.recordFailure(job, "commit", fmt.Errorf("%w: billing state %s", domain.ErrInvalidState, job.BillingState))
	}
	if plan.requireCompleted && job.Status != domain.JobStatusCompleted {
		return s.recordFailure(job, "commit", fmt.Errorf("%w: job status %s", domain.ErrInvalidState, job.Status))
	}
	now := s.now()
	if job.ReservationExpired(now) {
		job.LastBillingError = fmt.Sprintf("commit skipped: reservation expired at %s", job.ReservationExpiresAt.Format(time.RFC3339))
		job.UpdatedAt = now
		log.Warn().Time("expires_at", *job.ReservationExpiresAt).Msg("generation: reservation expired, commit skipped")
		return BillingOutcome{Kind: OutcomeSkipped, Reason: "reservation expired"}
	}

	amount := plan.charge
	if amount < 0 {
		amount = 0
	}
	job.ActualTokens = plan.actual
	job.WasCappedAtReserved = plan.actual > job.BillingEstimatedTokens
	if amount > job.BillingEstimatedTokens {
		amount = job.BillingEstimatedTokens
	}

	key := billing.IdempotencyKey(job.ID, domain.BillingOpCommit)
	job.SetIdempotencyKey(domain.BillingOpCommit, key)
	job.BillingCommittedTokens = amount
	job.UpdatedAt = now
	res, err := s.ledger.Commit(ctx, domain.CommitRequest{
		ReservationID:  job.BillingReservationID,
		Amount:         amount,
		Purpose:        s.cfg.Purpose,
		IdempotencyKey: key,
	})
	if err != nil {
		return s.recordFailure(job, "commit", err)
	}

	if err := job.TransitionBilling(domain.BillingStateCommitted); err != nil {
		return s.recordFailure(job, "commit", err)
	}
	job.LastBillingError = ""
	log.Info().
		Str("idempotency_key", key).
		Int64("committed", amount).
		Int64("actual", plan.actual).
		Bool("capped", job.WasCappedAtReserved).
		Msg("generation: tokens committed")

	remainder := job.BillingEstimatedTokens - amount
	if res.Released == 0 && remainder > 0 {
		if err := s.releaseRemainder(ctx, job, remainder); err != nil {
			log.Warn().Err(err).Int64("remainder", remainder).Msg("generation: remainder release failed")
			job.LastBillingError = "remainder release failed: " + err.Error()
		}
	}
	return BillingOutcome{Kind: OutcomeCommitted}
}

// releaseRemainder returns the uncommitted part of a committed reservation.
// Failures are left for Reconcile.
func (s *Service) releaseRemainder(ctx context.Context, job *domain.GenerationJob, remainder int64) error {
	key := billing.IdempotencyKey(job.ID, domain.BillingOpRelease)
	job.SetIdempotencyKey(domain.BillingOpRelease, key)
	_, err := s.ledger.Release(ctx, domain.ReleaseRequest{
		ReservationID:  job.BillingReservationID,
		Amount:         remainder,
		Reason:         billing.ReasonCommitRemainder,
		Purpose:        s.cfg.Purpose,
		IdempotencyKey: key,
	})
	return err
}

// releaseLocked gives the whole reservation back. The caller holds the job lock.
func (s *Service) releaseLocked(ctx context.Context, job *domain.GenerationJob, reason string) BillingOutcome {
	if !job.BillingEnabled() {
		return noop("billing disabled")
	}
	if job.BillingState != domain.BillingStateReserved {
		return noop("reservation already settled")
	}
	if key, ok := job.IdempotencyKey(domain.BillingOpRelease); ok {
		s.logger.Debug().Str("job_id", job.ID).Str("idempotency_key", key).Msg("generation: release already attempted")
		return noop("release already attempted")
	}

	key := billing.IdempotencyKey(job.ID, domain.BillingOpRelease)
	job.SetIdempotencyKey(domain.BillingOpRelease, key)
	job.UpdatedAt = s.now()
	if _, err := s.ledger.Release(ctx, domain.ReleaseRequest{
		ReservationID:  job.BillingReservationID,
		Amount:         job.BillingEstimatedTokens,
		Reason:         reason,
		Purpose:        s.cfg.Purpose,
		IdempotencyKey: key,
	}); err != nil {
		return s.recordFailure(job, "release", err)
	}
	if err := job.TransitionBilling(domain.BillingStateReleased); err != nil {
		return s.recordFailure(job, "release", err)
	}
	job.BillingCommittedTokens = 0
	job.LastBillingError = ""
	s.logger.Info().
		Str("job_id", job.ID).
		Str("reservation_id", job.BillingReservationID).
		Str("idempotency_key", key).
		Str("reason", reason).
		Msg("generation: reservation released")
	return BillingOutcome{Kind: OutcomeReleased, Reason: reason}
}

// recordFailure stores a contained billing error on the job.
func (s *Service) recordFailure(job *domain.GenerationJob, op string, err error) BillingOutcome {
	job.LastBillingError = op + ": " + err.Error()
	job.UpdatedAt = s.now()
	event := s.logger.Error()
	if errors.Is(err, domain.ErrInvalidState) {
		event = s.logger.Warn()
	}
	event.Err(err).
		Str("job_id", job.ID).
		Str("reservation_id", job.BillingReservationID).
		Str("op", op).
		Msg("generation: billing error recorded")
	return BillingOutcome{Kind: OutcomeFailed, Reason: op, Err: err}
}
