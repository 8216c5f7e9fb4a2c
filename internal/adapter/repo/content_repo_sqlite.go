package repo

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"quizgen/internal/domain"
	"quizgen/internal/domain/jsoncfg"
)

// ContentRepositorySQLite serves document chunks and stores generated quizzes
// for single-node deployments. It lives in its own database file: quizzes are
// written while the job database is write-locked by WithJobForUpdate.
type ContentRepositorySQLite struct {
	db *sql.DB
}

func NewSQLiteContentRepository(path string) (*ContentRepositorySQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	repo := &ContentRepositorySQLite{db: db}
	if err := repo.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return repo, nil
}

func (r *ContentRepositorySQLite) Close() error {
	return r.db.Close()
}

func (r *ContentRepositorySQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS document_chunks (
		document_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		PRIMARY KEY (document_id, chunk_index)
	);

	CREATE TABLE IF NOT EXISTS quizzes (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		title TEXT NOT NULL,
		chunk_index INTEGER,
		difficulty TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS quiz_questions (
		quiz_id TEXT NOT NULL REFERENCES quizzes(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		type TEXT NOT NULL,
		difficulty TEXT NOT NULL,
		text TEXT NOT NULL,
		options TEXT NOT NULL DEFAULT '[]',
		answers TEXT NOT NULL DEFAULT '[]',
		explanation TEXT NOT NULL DEFAULT '',
		chunk_index INTEGER NOT NULL,
		PRIMARY KEY (quiz_id, position)
	);

	CREATE INDEX IF NOT EXISTS idx_quizzes_job ON quizzes(job_id);
	`
	_, err := r.db.Exec(schema)
	return err
}

func (r *ContentRepositorySQLite) CountChunks(ctx context.Context, documentID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_chunks WHERE document_id = ?`, documentID).Scan(&n)
	return n, err
}

func (r *ContentRepositorySQLite) ListChunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT document_id, chunk_index, title, content
		FROM document_chunks WHERE document_id = ? ORDER BY chunk_index ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		if err := rows.Scan(&c.DocumentID, &c.Index, &c.Title, &c.Content); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// PutChunks upserts chunks for a document. The chunking pipeline writes
// through it when running against SQLite.
func (r *ContentRepositorySQLite) PutChunks(ctx context.Context, chunks []domain.Chunk) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()
	for _, c := range chunks {
		if _, err := tx.ExecContext(ctx, `INSERT INTO document_chunks (document_id, chunk_index, title, content)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (document_id, chunk_index) DO UPDATE SET title = excluded.title, content = excluded.content`,
			c.DocumentID, c.Index, c.Title, c.Content); err != nil {
			return fmt.Errorf("upsert chunk %d of %s: %w", c.Index, c.DocumentID, err)
		}
	}
	return tx.Commit()
}

func (r *ContentRepositorySQLite) SaveQuizzes(ctx context.Context, quizzes []domain.Quiz) error {
	if len(quizzes) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()
	for _, q := range quizzes {
		if _, err := tx.ExecContext(ctx, `INSERT INTO quizzes (id, job_id, user_id, document_id, title, chunk_index, difficulty, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			q.ID, q.JobID, q.UserID, q.DocumentID, q.Title, nullChunkIndex(q.ChunkIndex), string(q.Difficulty), q.CreatedAt.UnixNano()); err != nil {
			return fmt.Errorf("insert quiz %s: %w", q.ID, err)
		}
		for pos, question := range q.Questions {
			if _, err := tx.ExecContext(ctx, `INSERT INTO quiz_questions
				(quiz_id, position, type, difficulty, text, options, answers, explanation, chunk_index)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				q.ID,
				pos,
				string(question.Type),
				string(question.Difficulty),
				question.Text,
				string(jsoncfg.MustMarshal(nonNil(question.Options))),
				string(jsoncfg.MustMarshal(nonNil(question.Answers))),
				question.Explanation,
				question.ChunkIndex,
			); err != nil {
				return fmt.Errorf("insert question %d of quiz %s: %w", pos, q.ID, err)
			}
		}
	}
	return tx.Commit()
}

func nullChunkIndex(idx *int) any {
	if idx == nil {
		return nil
	}
	return *idx
}

var (
	_ domain.DocumentSource = (*ContentRepositorySQLite)(nil)
	_ domain.QuizWriter     = (*ContentRepositorySQLite)(nil)
	_ domain.ChunkWriter    = (*ContentRepositorySQLite)(nil)
)
