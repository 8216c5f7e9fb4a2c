package domain

import (
	"time"

	"quizgen/internal/domain/jsoncfg"
)

// JobStatus enumerates generation job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCancelled  JobStatus = "CANCELLED"
)

// IsTerminal reports whether no further status transition is allowed.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo enforces PENDING -> PROCESSING -> {COMPLETED|FAILED} and
// {PENDING|PROCESSING} -> CANCELLED.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing || next == JobStatusCancelled
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed || next == JobStatusCancelled
	}
	return false
}

// BillingState tracks the reservation held for a job.
type BillingState string

const (
	BillingStateNone      BillingState = "NONE"
	BillingStateReserved  BillingState = "RESERVED"
	BillingStateCommitted BillingState = "COMMITTED"
	BillingStateReleased  BillingState = "RELEASED"
)

// IsTerminal reports whether the billing state is settled.
func (s BillingState) IsTerminal() bool {
	return s == BillingStateCommitted || s == BillingStateReleased
}

// CanTransitionTo enforces NONE -> RESERVED -> {COMMITTED|RELEASED}.
func (s BillingState) CanTransitionTo(next BillingState) bool {
	switch s {
	case BillingStateNone:
		return next == BillingStateReserved
	case BillingStateReserved:
		return next == BillingStateCommitted || next == BillingStateReleased
	}
	return false
}

// Operation names used as keys of GenerationJob.BillingIdempotencyKeys.
const (
	BillingOpCommit  = "commit"
	BillingOpRelease = "release"
)

// GenerationJob is the aggregate root for a quiz generation request and the
// token reservation attached to it.
type GenerationJob struct {
	ID                   string
	DocumentID           string
	UserID               string
	Status               JobStatus
	Params               jsoncfg.GenerationParams
	TotalChunks          int
	ProcessedChunks      int
	EstimatedTimeSeconds int
	ErrorMessage         string
	ResultQuizIDs        []string

	BillingState           BillingState
	BillingReservationID   string
	BillingEstimatedTokens int64
	// BillingCommittedTokens is the amount sent under the commit key. It is
	// final only once BillingState is COMMITTED.
	BillingCommittedTokens int64
	ActualTokens           int64
	WasCappedAtReserved    bool
	InputPromptTokens      int64
	ReservationExpiresAt   *time.Time
	BillingIdempotencyKeys map[string]string
	HasStartedAICalls      bool
	LastBillingError       string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// BillingEnabled reports whether a ledger reservation backs the job.
func (j *GenerationJob) BillingEnabled() bool {
	return j.BillingReservationID != ""
}

// IdempotencyKey returns the key already recorded for op, if any.
func (j *GenerationJob) IdempotencyKey(op string) (string, bool) {
	if j.BillingIdempotencyKeys == nil {
		return "", false
	}
	key, ok := j.BillingIdempotencyKeys[op]
	return key, ok && key != ""
}

// SetIdempotencyKey records the key sent to the ledger for op.
func (j *GenerationJob) SetIdempotencyKey(op, key string) {
	if j.BillingIdempotencyKeys == nil {
		j.BillingIdempotencyKeys = make(map[string]string, 2)
	}
	j.BillingIdempotencyKeys[op] = key
}

// ReservationExpired reports whether the reservation deadline has passed at now.
func (j *GenerationJob) ReservationExpired(now time.Time) bool {
	return j.ReservationExpiresAt != nil && !now.Before(*j.ReservationExpiresAt)
}

// TransitionTo moves the job to next, rejecting illegal edges.
func (j *GenerationJob) TransitionTo(next JobStatus, now time.Time) error {
	if !j.Status.CanTransitionTo(next) {
		if j.Status.IsTerminal() {
			return &TerminalStateError{JobID: j.ID, Status: j.Status}
		}
		return &TransitionError{JobID: j.ID, Field: "status", From: string(j.Status), To: string(next)}
	}
	j.Status = next
	j.UpdatedAt = now
	if next.IsTerminal() {
		t := now
		j.CompletedAt = &t
	}
	return nil
}

// TransitionBilling moves the billing state to next, rejecting illegal edges.
func (j *GenerationJob) TransitionBilling(next BillingState) error {
	if !j.BillingState.CanTransitionTo(next) {
		return &TransitionError{JobID: j.ID, Field: "billing_state", From: string(j.BillingState), To: string(next)}
	}
	j.BillingState = next
	return nil
}

// Clone returns a deep copy so stores never hand out shared state.
func (j *GenerationJob) Clone() *GenerationJob {
	if j == nil {
		return nil
	}
	c := *j
	c.Params = j.Params.Clone()
	if j.ResultQuizIDs != nil {
		c.ResultQuizIDs = append([]string(nil), j.ResultQuizIDs...)
	}
	if j.BillingIdempotencyKeys != nil {
		c.BillingIdempotencyKeys = make(map[string]string, len(j.BillingIdempotencyKeys))
		for k, v := range j.BillingIdempotencyKeys {
			c.BillingIdempotencyKeys[k] = v
		}
	}
	if j.ReservationExpiresAt != nil {
		t := *j.ReservationExpiresAt
		c.ReservationExpiresAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
