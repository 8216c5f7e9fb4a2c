package repo

import (
	"context"
	"errors"
	"time"

	"quizgen/internal/domain"
	"quizgen/internal/infra"
	"quizgen/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobStore on PostgreSQL. Row locks are
// taken with SELECT ... FOR NO KEY UPDATE inside a transaction, which still
// lets quiz rows referencing the job be inserted while the lock is held.
type JobRepositoryPG struct {
	sql infra.TxExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(sql infra.TxExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.GenerationJob) error {
	enc, err := encodeJobJSON(job)
	if err != nil {
		return err
	}
	_, err = r.sql.Exec(ctx, sqlinline.QInsertGenerationJob,
		job.ID,
		job.UserID,
		job.DocumentID,
		string(job.Status),
		enc.params,
		job.TotalChunks,
		job.ProcessedChunks,
		job.EstimatedTimeSeconds,
		job.ErrorMessage,
		enc.quizIDs,
		string(job.BillingState),
		job.BillingReservationID,
		job.BillingEstimatedTokens,
		job.BillingCommittedTokens,
		job.ActualTokens,
		job.WasCappedAtReserved,
		job.InputPromptTokens,
		job.ReservationExpiresAt,
		enc.keys,
		job.HasStartedAICalls,
		job.LastBillingError,
		job.CreatedAt,
		job.UpdatedAt,
		job.CompletedAt,
	)
	return err
}

// Get fetches a job without locking it.
func (r *JobRepositoryPG) Get(ctx context.Context, jobID string) (*domain.GenerationJob, error) {
	job, err := scanPGJob(r.sql.QueryRow(ctx, sqlinline.QSelectGenerationJob, jobID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// WithJobForUpdate locks the job row, runs fn and persists the result in the
// same transaction.
func (r *JobRepositoryPG) WithJobForUpdate(ctx context.Context, jobID string, fn func(job *domain.GenerationJob) error) error {
	return r.sql.InTx(ctx, func(tx infra.SQLExecutor) error {
		job, err := scanPGJob(tx.QueryRow(ctx, sqlinline.QSelectGenerationJobForUpdate, jobID))
		if err != nil {
			if infra.IsNoRows(err) {
				return domain.ErrNotFound
			}
			return err
		}
		if err := fn(job); err != nil {
			return err
		}
		return savePGJob(ctx, tx, job)
	})
}

// ClaimNextPending moves the oldest stale PENDING job to PROCESSING.
func (r *JobRepositoryPG) ClaimNextPending(ctx context.Context, staleAfter time.Duration) (*domain.GenerationJob, error) {
	cutoff := time.Now().UTC().Add(-staleAfter)
	job, err := scanPGJob(r.sql.QueryRow(ctx, sqlinline.QClaimNextPendingJob, cutoff))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// ListBillingStuck returns terminal jobs with an unsettled billing tail.
func (r *JobRepositoryPG) ListBillingStuck(ctx context.Context, limit int) ([]*domain.GenerationJob, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListBillingStuckJobs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.GenerationJob
	for rows.Next() {
		job, err := scanPGJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func savePGJob(ctx context.Context, tx infra.SQLExecutor, job *domain.GenerationJob) error {
	enc, err := encodeJobJSON(job)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, sqlinline.QUpdateGenerationJob,
		job.ID,
		string(job.Status),
		job.ProcessedChunks,
		job.ErrorMessage,
		enc.quizIDs,
		string(job.BillingState),
		job.BillingCommittedTokens,
		job.ActualTokens,
		job.WasCappedAtReserved,
		job.InputPromptTokens,
		enc.keys,
		job.HasStartedAICalls,
		job.LastBillingError,
		job.UpdatedAt,
		job.CompletedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("update generation job: no rows affected")
	}
	return nil
}

func scanPGJob(row scanner) (*domain.GenerationJob, error) {
	var (
		job           domain.GenerationJob
		enc           jobJSON
		status        string
		billingState  string
		reservationID *string
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.DocumentID,
		&status,
		&enc.params,
		&job.TotalChunks,
		&job.ProcessedChunks,
		&job.EstimatedTimeSeconds,
		&job.ErrorMessage,
		&enc.quizIDs,
		&billingState,
		&reservationID,
		&job.BillingEstimatedTokens,
		&job.BillingCommittedTokens,
		&job.ActualTokens,
		&job.WasCappedAtReserved,
		&job.InputPromptTokens,
		&job.ReservationExpiresAt,
		&enc.keys,
		&job.HasStartedAICalls,
		&job.LastBillingError,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.BillingState = domain.BillingState(billingState)
	if reservationID != nil {
		job.BillingReservationID = *reservationID
	}
	if err := enc.decodeInto(&job); err != nil {
		return nil, err
	}
	return &job, nil
}

var _ domain.JobStore = (*JobRepositoryPG)(nil)
