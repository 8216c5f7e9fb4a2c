package domain

import (
	"context"
	"time"

	"quizgen/internal/domain/jsoncfg"
)

// JobStore persists generation jobs. Every mutation of an existing job goes
// through WithJobForUpdate, which holds a row lock for the duration of fn.
type JobStore interface {
	Create(ctx context.Context, job *GenerationJob) error
	Get(ctx context.Context, jobID string) (*GenerationJob, error)
	// WithJobForUpdate loads the job under a pessimistic lock, runs fn and
	// saves the job when fn returns nil. It returns ErrNotFound without
	// calling fn when the job does not exist.
	WithJobForUpdate(ctx context.Context, jobID string, fn func(job *GenerationJob) error) error
	// ClaimNextPending moves the oldest PENDING job created before
	// now-staleAfter to PROCESSING, skipping rows locked by other workers.
	ClaimNextPending(ctx context.Context, staleAfter time.Duration) (*GenerationJob, error)
	// ListBillingStuck returns terminal jobs whose reservation is still held,
	// or whose commit left a failed remainder release behind.
	ListBillingStuck(ctx context.Context, limit int) ([]*GenerationJob, error)
}

// Reservation is a ledger-side hold of tokens.
type Reservation struct {
	ID        string
	Amount    int64
	ExpiresAt time.Time
}

type ReserveRequest struct {
	UserID  string
	Amount  int64
	Purpose string
}

type CommitRequest struct {
	ReservationID  string
	Amount         int64
	Purpose        string
	IdempotencyKey string
}

// CommitResult reports what the ledger charged and whether it already
// returned the remainder of the reservation.
type CommitResult struct {
	Committed int64
	Released  int64
}

type ReleaseRequest struct {
	ReservationID string
	// Amount is informational; the ledger releases whatever remains held.
	Amount         int64
	Reason         string
	Purpose        string
	IdempotencyKey string
}

type ReleaseResult struct {
	Released int64
}

// BillingLedger is the external token ledger. It deduplicates commit and
// release calls by idempotency key.
type BillingLedger interface {
	Reserve(ctx context.Context, req ReserveRequest) (*Reservation, error)
	Commit(ctx context.Context, req CommitRequest) (*CommitResult, error)
	Release(ctx context.Context, req ReleaseRequest) (*ReleaseResult, error)
}

// Estimate is the planning output for a request.
type Estimate struct {
	Tokens      int64
	InputTokens int64
	Seconds     int
}

// Estimator prices requests up front and measures actual usage afterwards.
type Estimator interface {
	Estimate(ctx context.Context, doc DocumentRef, params jsoncfg.GenerationParams) (Estimate, error)
	ActualTokens(questions []Question, difficulty jsoncfg.Difficulty, inputTokens int64) int64
}

// DocumentSource exposes chunked documents.
type DocumentSource interface {
	CountChunks(ctx context.Context, documentID string) (int, error)
	ListChunks(ctx context.Context, documentID string) ([]Chunk, error)
}

// ChunkWriter stores chunks produced by document ingestion.
type ChunkWriter interface {
	PutChunks(ctx context.Context, chunks []Chunk) error
}

// QuizWriter persists assembled quizzes.
type QuizWriter interface {
	SaveQuizzes(ctx context.Context, quizzes []Quiz) error
}

type GenerateRequest struct {
	JobID  string
	Chunk  Chunk
	Params jsoncfg.GenerationParams
}

type GenerateResponse struct {
	Questions   []Question
	InputTokens int64
	Provider    string
}

// Generator produces questions for a single chunk.
type Generator interface {
	GenerateQuestions(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// Dispatcher hands a freshly created job to the asynchronous generation engine.
// It must not block on generation.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// JobNotifier receives a snapshot after every persisted job change.
type JobNotifier interface {
	JobUpdated(job *GenerationJob)
}
