package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"quizgen/internal/billing"
	"quizgen/internal/domain"
	"quizgen/internal/domain/jsoncfg"
)

// Config carries the billing policy knobs of the orchestrator.
type Config struct {
	Purpose           string
	CommitOnCancel    bool
	MinStartFeeTokens int64
}

// Deps are the collaborators of the orchestrator. Ledger may be nil, in which
// case jobs are created without a reservation. Dispatcher and Notifier are
// optional.
type Deps struct {
	Jobs       domain.JobStore
	Ledger     domain.BillingLedger
	Estimator  domain.Estimator
	Documents  domain.DocumentSource
	Quizzes    domain.QuizWriter
	Dispatcher domain.Dispatcher
	Notifier   domain.JobNotifier
}

// Service is the single entry point for the generation job lifecycle and the
// billing attached to it. Every mutation of a job runs inside
// JobStore.WithJobForUpdate.
type Service struct {
	jobs       domain.JobStore
	ledger     domain.BillingLedger
	estimator  domain.Estimator
	documents  domain.DocumentSource
	quizzes    domain.QuizWriter
	dispatcher domain.Dispatcher
	notifier   domain.JobNotifier

	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
	newID  func() string
}

// NewService wires the orchestrator.
func NewService(deps Deps, cfg Config, logger zerolog.Logger) *Service {
	if cfg.Purpose == "" {
		cfg.Purpose = "quiz-generation"
	}
	if cfg.MinStartFeeTokens < 0 {
		cfg.MinStartFeeTokens = 0
	}
	return &Service{
		jobs:       deps.Jobs,
		ledger:     deps.Ledger,
		estimator:  deps.Estimator,
		documents:  deps.Documents,
		quizzes:    deps.Quizzes,
		dispatcher: deps.Dispatcher,
		notifier:   deps.Notifier,
		cfg:        cfg,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
}

// SetDispatcher attaches the generation engine once it has been built; the
// engine itself needs the service to report back.
func (s *Service) SetDispatcher(d domain.Dispatcher) {
	s.dispatcher = d
}

// StartRequest describes a new generation request.
type StartRequest struct {
	UserID     string
	DocumentID string
	Params     jsoncfg.GenerationParams
	// Locale is the caller's preferred language, used when Params omits one.
	Locale string
}

// StartResult is returned to the caller as soon as the job row exists.
type StartResult struct {
	JobID            string
	Status           domain.JobStatus
	EstimatedSeconds int
	EstimatedTokens  int64
}

// Start estimates, reserves, persists and dispatches a job. Insufficient funds
// are returned as *domain.InsufficientFundsError and no job row is written.
func (s *Service) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	userID := strings.TrimSpace(req.UserID)
	documentID := strings.TrimSpace(req.DocumentID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user is required", domain.ErrValidation)
	}
	if documentID == "" {
		return nil, fmt.Errorf("%w: document_id is required", domain.ErrValidation)
	}
	params := req.Params.Clone()
	params.Normalize(req.Locale)
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	chunks, err := s.documents.CountChunks(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	if chunks < 1 {
		return nil, domain.ErrNoChunks
	}
	estimate, err := s.estimator.Estimate(ctx, domain.DocumentRef{ID: documentID, ChunkCount: chunks}, params)
	if err != nil {
		return nil, fmt.Errorf("estimate: %w", err)
	}

	now := s.now()
	job := &domain.GenerationJob{
		ID:                     s.newID(),
		DocumentID:             documentID,
		UserID:                 userID,
		Status:                 domain.JobStatusPending,
		Params:                 params,
		TotalChunks:            chunks,
		EstimatedTimeSeconds:   estimate.Seconds,
		BillingState:           domain.BillingStateNone,
		BillingEstimatedTokens: estimate.Tokens,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	if s.ledger != nil {
		reservation, err := s.ledger.Reserve(ctx, domain.ReserveRequest{
			UserID:  userID,
			Amount:  estimate.Tokens,
			Purpose: s.cfg.Purpose,
		})
		if err != nil {
			s.logger.Info().Err(err).Str("user_id", userID).Int64("tokens", estimate.Tokens).Msg("generation: reservation refused")
			return nil, err
		}
		if err := job.TransitionBilling(domain.BillingStateReserved); err != nil {
			return nil, err
		}
		job.BillingReservationID = reservation.ID
		if !reservation.ExpiresAt.IsZero() {
			exp := reservation.ExpiresAt.UTC()
			job.ReservationExpiresAt = &exp
		}
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("generation: persist job failed")
		if job.BillingEnabled() {
			s.compensateReservation(job)
		}
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.notify(job)

	s.logger.Info().
		Str("job_id", job.ID).
		Str("user_id", userID).
		Str("reservation_id", job.BillingReservationID).
		Int64("estimated_tokens", job.BillingEstimatedTokens).
		Int("chunks", chunks).
		Msg("generation: job created")

	if s.dispatcher != nil {
		if err := s.dispatcher.Dispatch(ctx, job.ID); err != nil {
			// The poller picks up PENDING jobs that were never dispatched.
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("generation: dispatch failed")
		}
	}

	return &StartResult{
		JobID:            job.ID,
		Status:           job.Status,
		EstimatedSeconds: job.EstimatedTimeSeconds,
		EstimatedTokens:  job.BillingEstimatedTokens,
	}, nil
}

// compensateReservation releases a reservation whose job row was never
// written. It runs detached from the request context so a cancelled request
// still returns the tokens.
func (s *Service) compensateReservation(job *domain.GenerationJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	key := billing.IdempotencyKey(job.ID, domain.BillingOpRelease)
	_, err := s.ledger.Release(ctx, domain.ReleaseRequest{
		ReservationID:  job.BillingReservationID,
		Amount:         job.BillingEstimatedTokens,
		Reason:         billing.ReasonPersistFailed,
		Purpose:        s.cfg.Purpose,
		IdempotencyKey: key,
	})
	event := s.logger.Info()
	if err != nil {
		event = s.logger.Error().Err(err)
	}
	event.Str("job_id", job.ID).
		Str("reservation_id", job.BillingReservationID).
		Str("idempotency_key", key).
		Msg("generation: compensating release")
}

// Get returns the job when userID owns it.
func (s *Service) Get(ctx context.Context, jobID, userID string) (*domain.GenerationJob, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, domain.ErrForbidden
	}
	return job, nil
}

// MarkProcessing claims a PENDING job for execution. It fails with
// ErrInvalidState when the job was cancelled or claimed elsewhere.
func (s *Service) MarkProcessing(ctx context.Context, jobID string) (*domain.GenerationJob, error) {
	return s.mutate(ctx, jobID, func(job *domain.GenerationJob) error {
		return job.TransitionTo(domain.JobStatusProcessing, s.now())
	})
}

// MarkAIStarted records that generation is about to consume tokens.
func (s *Service) MarkAIStarted(ctx context.Context, jobID string) error {
	_, err := s.mutate(ctx, jobID, func(job *domain.GenerationJob) error {
		if job.Status.IsTerminal() {
			return &domain.TerminalStateError{JobID: job.ID, Status: job.Status}
		}
		if job.HasStartedAICalls {
			return errUnchanged
		}
		job.HasStartedAICalls = true
		job.UpdatedAt = s.now()
		return nil
	})
	return err
}

// RecordChunkProgress adds the input tokens consumed by one chunk. It returns
// a TerminalStateError once the job has been cancelled so the engine can stop.
func (s *Service) RecordChunkProgress(ctx context.Context, jobID string, inputTokens int64) (*domain.GenerationJob, error) {
	return s.mutate(ctx, jobID, func(job *domain.GenerationJob) error {
		if job.Status.IsTerminal() {
			return &domain.TerminalStateError{JobID: job.ID, Status: job.Status}
		}
		if inputTokens > 0 {
			job.InputPromptTokens += inputTokens
		}
		if job.ProcessedChunks < job.TotalChunks {
			job.ProcessedChunks++
		}
		job.HasStartedAICalls = true
		job.UpdatedAt = s.now()
		return nil
	})
}

// errUnchanged aborts a locked section without saving.
var errUnchanged = errors.New("unchanged")

// mutate runs fn under the job lock and publishes the saved snapshot.
func (s *Service) mutate(ctx context.Context, jobID string, fn func(job *domain.GenerationJob) error) (*domain.GenerationJob, error) {
	var snapshot *domain.GenerationJob
	err := s.jobs.WithJobForUpdate(ctx, jobID, func(job *domain.GenerationJob) error {
		if err := fn(job); err != nil {
			if errors.Is(err, errUnchanged) {
				snapshot = job.Clone()
			}
			return err
		}
		snapshot = job.Clone()
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return snapshot, nil
	}
	if err != nil {
		return nil, err
	}
	s.notify(snapshot)
	return snapshot, nil
}

func (s *Service) notify(job *domain.GenerationJob) {
	if s.notifier == nil || job == nil {
		return
	}
	s.notifier.JobUpdated(job.Clone())
}
