package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"quizgen/internal/domain"
)

// JobRepositorySQLite implements domain.JobStore on a single SQLite file.
// Transactions are opened with BEGIN IMMEDIATE, which takes the database
// write lock up front; that lock stands in for the row lock Postgres provides.
type JobRepositorySQLite struct {
	db *sql.DB
}

// NewSQLiteJobRepository opens (or creates) the database at path.
func NewSQLiteJobRepository(path string) (*JobRepositorySQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	repo := &JobRepositorySQLite{db: db}
	if err := repo.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return repo, nil
}

// Close closes the database connection.
func (r *JobRepositorySQLite) Close() error {
	return r.db.Close()
}

func (r *JobRepositorySQLite) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *JobRepositorySQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS generation_jobs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		status TEXT NOT NULL,
		params_json TEXT NOT NULL DEFAULT '{}',
		total_chunks INTEGER NOT NULL DEFAULT 0,
		processed_chunks INTEGER NOT NULL DEFAULT 0,
		estimated_time_seconds INTEGER NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		result_quiz_ids TEXT NOT NULL DEFAULT '[]',
		billing_state TEXT NOT NULL DEFAULT 'NONE',
		billing_reservation_id TEXT,
		billing_estimated_tokens INTEGER NOT NULL DEFAULT 0,
		billing_committed_tokens INTEGER NOT NULL DEFAULT 0,
		actual_tokens INTEGER NOT NULL DEFAULT 0,
		was_capped_at_reserved INTEGER NOT NULL DEFAULT 0,
		input_prompt_tokens INTEGER NOT NULL DEFAULT 0,
		reservation_expires_at INTEGER,
		billing_idempotency_keys TEXT NOT NULL DEFAULT '{}',
		has_started_ai_calls INTEGER NOT NULL DEFAULT 0,
		last_billing_error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		completed_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_generation_jobs_status ON generation_jobs(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_generation_jobs_billing_state ON generation_jobs(billing_state);
	`
	_, err := r.db.Exec(schema)
	return err
}

const sqliteJobColumns = `id, user_id, document_id, status, params_json, total_chunks, processed_chunks,
		estimated_time_seconds, error_message, result_quiz_ids, billing_state, billing_reservation_id,
		billing_estimated_tokens, billing_committed_tokens, actual_tokens, was_capped_at_reserved,
		input_prompt_tokens, reservation_expires_at, billing_idempotency_keys, has_started_ai_calls,
		last_billing_error, created_at, updated_at, completed_at`

// Create inserts a new job record.
func (r *JobRepositorySQLite) Create(ctx context.Context, job *domain.GenerationJob) error {
	enc, err := encodeJobJSON(job)
	if err != nil {
		return err
	}
	query := `INSERT INTO generation_jobs (` + sqliteJobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		job.ID,
		job.UserID,
		job.DocumentID,
		string(job.Status),
		string(enc.params),
		job.TotalChunks,
		job.ProcessedChunks,
		job.EstimatedTimeSeconds,
		job.ErrorMessage,
		string(enc.quizIDs),
		string(job.BillingState),
		nullString(job.BillingReservationID),
		job.BillingEstimatedTokens,
		job.BillingCommittedTokens,
		job.ActualTokens,
		job.WasCappedAtReserved,
		job.InputPromptTokens,
		nullUnixNano(job.ReservationExpiresAt),
		string(enc.keys),
		job.HasStartedAICalls,
		job.LastBillingError,
		job.CreatedAt.UnixNano(),
		job.UpdatedAt.UnixNano(),
		nullUnixNano(job.CompletedAt),
	)
	return err
}

// Get fetches a job by its identifier.
func (r *JobRepositorySQLite) Get(ctx context.Context, jobID string) (*domain.GenerationJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sqliteJobColumns+` FROM generation_jobs WHERE id = ?`, jobID)
	job, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return job, err
}

// WithJobForUpdate runs fn inside an immediate transaction and saves the job.
func (r *JobRepositorySQLite) WithJobForUpdate(ctx context.Context, jobID string, fn func(job *domain.GenerationJob) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, `SELECT `+sqliteJobColumns+` FROM generation_jobs WHERE id = ?`, jobID)
	job, err := scanSQLiteJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		return err
	}
	if err := fn(job); err != nil {
		return err
	}
	if err := saveSQLiteJob(ctx, tx, job); err != nil {
		return err
	}
	return tx.Commit()
}

// ClaimNextPending moves the oldest stale PENDING job to PROCESSING.
func (r *JobRepositorySQLite) ClaimNextPending(ctx context.Context, staleAfter time.Duration) (*domain.GenerationJob, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	cutoff := time.Now().UTC().Add(-staleAfter).UnixNano()
	row := tx.QueryRowContext(ctx, `SELECT `+sqliteJobColumns+` FROM generation_jobs
		WHERE status = 'PENDING' AND created_at <= ?
		ORDER BY created_at ASC LIMIT 1`, cutoff)
	job, err := scanSQLiteJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE generation_jobs SET status = 'PROCESSING', updated_at = ? WHERE id = ?`, now.UnixNano(), job.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatusProcessing
	job.UpdatedAt = now
	return job, nil
}

// ListBillingStuck returns terminal jobs with an unsettled billing tail.
func (r *JobRepositorySQLite) ListBillingStuck(ctx context.Context, limit int) ([]*domain.GenerationJob, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sqliteJobColumns+` FROM generation_jobs
		WHERE status IN ('COMPLETED', 'FAILED', 'CANCELLED')
		AND (billing_state = 'RESERVED' OR (billing_state = 'COMMITTED' AND last_billing_error <> ''))
		ORDER BY updated_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.GenerationJob
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func saveSQLiteJob(ctx context.Context, tx *sql.Tx, job *domain.GenerationJob) error {
	enc, err := encodeJobJSON(job)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE generation_jobs SET
		status = ?, processed_chunks = ?, error_message = ?, result_quiz_ids = ?,
		billing_state = ?, billing_committed_tokens = ?, actual_tokens = ?,
		was_capped_at_reserved = ?, input_prompt_tokens = ?, billing_idempotency_keys = ?,
		has_started_ai_calls = ?, last_billing_error = ?, updated_at = ?, completed_at = ?
		WHERE id = ?`,
		string(job.Status),
		job.ProcessedChunks,
		job.ErrorMessage,
		string(enc.quizIDs),
		string(job.BillingState),
		job.BillingCommittedTokens,
		job.ActualTokens,
		job.WasCappedAtReserved,
		job.InputPromptTokens,
		string(enc.keys),
		job.HasStartedAICalls,
		job.LastBillingError,
		job.UpdatedAt.UnixNano(),
		nullUnixNano(job.CompletedAt),
		job.ID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.New("update generation job: no rows affected")
	}
	return nil
}

func scanSQLiteJob(row scanner) (*domain.GenerationJob, error) {
	var (
		job           domain.GenerationJob
		status        string
		billingState  string
		params        string
		quizIDs       string
		keys          string
		reservationID sql.NullString
		expiresAt     sql.NullInt64
		completedAt   sql.NullInt64
		createdAt     int64
		updatedAt     int64
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.DocumentID,
		&status,
		&params,
		&job.TotalChunks,
		&job.ProcessedChunks,
		&job.EstimatedTimeSeconds,
		&job.ErrorMessage,
		&quizIDs,
		&billingState,
		&reservationID,
		&job.BillingEstimatedTokens,
		&job.BillingCommittedTokens,
		&job.ActualTokens,
		&job.WasCappedAtReserved,
		&job.InputPromptTokens,
		&expiresAt,
		&keys,
		&job.HasStartedAICalls,
		&job.LastBillingError,
		&createdAt,
		&updatedAt,
		&completedAt,
	); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.BillingState = domain.BillingState(billingState)
	job.BillingReservationID = reservationID.String
	job.ReservationExpiresAt = timeFromNull(expiresAt)
	job.CompletedAt = timeFromNull(completedAt)
	job.CreatedAt = time.Unix(0, createdAt).UTC()
	job.UpdatedAt = time.Unix(0, updatedAt).UTC()
	enc := jobJSON{params: []byte(params), quizIDs: []byte(quizIDs), keys: []byte(keys)}
	if err := enc.decodeInto(&job); err != nil {
		return nil, err
	}
	return &job, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullUnixNano(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func timeFromNull(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

var _ domain.JobStore = (*JobRepositorySQLite)(nil)
