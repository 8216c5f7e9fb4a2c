package repo

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"quizgen/internal/domain"
	"quizgen/internal/domain/jsoncfg"
)

func newContentRepo(t *testing.T) *ContentRepositorySQLite {
	t.Helper()
	r, err := NewSQLiteContentRepository(filepath.Join(t.TempDir(), "content.db"))
	if err != nil {
		t.Fatalf("NewSQLiteContentRepository: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestContentRepositoryChunks(t *testing.T) {
	ctx := context.Background()
	r := newContentRepo(t)
	err := r.PutChunks(ctx, []domain.Chunk{
		{DocumentID: "doc-1", Index: 1, Content: "second"},
		{DocumentID: "doc-1", Index: 0, Title: "Intro", Content: "first"},
		{DocumentID: "doc-2", Index: 0, Content: "other"},
	})
	if err != nil {
		t.Fatalf("PutChunks: %v", err)
	}
	if err := r.PutChunks(ctx, []domain.Chunk{{DocumentID: "doc-1", Index: 1, Content: "second, revised"}}); err != nil {
		t.Fatalf("PutChunks upsert: %v", err)
	}

	n, err := r.CountChunks(ctx, "doc-1")
	if err != nil || n != 2 {
		t.Fatalf("CountChunks = %d, %v", n, err)
	}
	if n, _ := r.CountChunks(ctx, "missing"); n != 0 {
		t.Fatalf("CountChunks(missing) = %d", n)
	}
	chunks, err := r.ListChunks(ctx, "doc-1")
	if err != nil {
		t.Fatalf("ListChunks: %v", err)
	}
	if len(chunks) != 2 || chunks[0].Title != "Intro" || chunks[1].Content != "second, revised" {
		t.Fatalf("chunks = %+v", chunks)
	}
}

func TestContentRepositorySaveQuizzes(t *testing.T) {
	ctx := context.Background()
	r := newContentRepo(t)
	idx := 1
	quizzes := []domain.Quiz{
		{
			ID: "quiz-1", JobID: "job-1", UserID: "user-1", DocumentID: "doc-1", Title: "Generated quiz",
			Difficulty: jsoncfg.DifficultyEasy, CreatedAt: time.Now(),
			Questions: []domain.Question{
				{Type: jsoncfg.QuestionTypeTrueFalse, Difficulty: jsoncfg.DifficultyEasy, Text: "Sky is blue", Answers: []string{"true"}},
				{Type: jsoncfg.QuestionTypeOpen, Difficulty: jsoncfg.DifficultyEasy, Text: "Why?", Answers: []string{"light"}, ChunkIndex: 1},
			},
		},
		{ID: "quiz-2", JobID: "job-1", UserID: "user-1", DocumentID: "doc-1", Title: "part", ChunkIndex: &idx, Difficulty: jsoncfg.DifficultyEasy, CreatedAt: time.Now()},
	}
	if err := r.SaveQuizzes(ctx, quizzes); err != nil {
		t.Fatalf("SaveQuizzes: %v", err)
	}

	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM quiz_questions WHERE quiz_id = 'quiz-1'`).Scan(&n); err != nil || n != 2 {
		t.Fatalf("questions = %d, %v", n, err)
	}
	var options string
	if err := r.db.QueryRow(`SELECT options FROM quiz_questions WHERE quiz_id = 'quiz-1' AND position = 0`).Scan(&options); err != nil || options != "[]" {
		t.Fatalf("options = %q, %v", options, err)
	}

	// A duplicate id rolls back the whole batch.
	err := r.SaveQuizzes(ctx, []domain.Quiz{{ID: "quiz-3", JobID: "job-2", Title: "t", CreatedAt: time.Now()}, {ID: "quiz-1", JobID: "job-2", Title: "t", CreatedAt: time.Now()}})
	if err == nil {
		t.Fatal("expected duplicate id error")
	}
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM quizzes WHERE job_id = 'job-2'`).Scan(&n); err != nil || n != 0 {
		t.Fatalf("partial batch persisted: %d, %v", n, err)
	}
}

func TestSQLiteSaveQuizzesWhileJobLocked(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	jobs, err := NewSQLiteJobRepository(filepath.Join(dir, "jobs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteJobRepository: %v", err)
	}
	t.Cleanup(func() { _ = jobs.Close() })
	content := newContentRepo(t)

	if err := jobs.Create(ctx, newTestJob("job-1", time.Now().UTC())); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err = jobs.WithJobForUpdate(ctx, "job-1", func(job *domain.GenerationJob) error {
		return content.SaveQuizzes(ctx, []domain.Quiz{{ID: "quiz-1", JobID: job.ID, Title: "t", CreatedAt: time.Now()}})
	})
	if err != nil {
		t.Fatalf("SaveQuizzes under job lock: %v", err)
	}
}
