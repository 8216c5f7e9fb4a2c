package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"quizgen/internal/domain"
	"quizgen/internal/domain/jsoncfg"
	"quizgen/internal/infra"
	"quizgen/internal/sqlinline"
)

type execCall struct {
	query string
	args  []any
}

// recordingSQL is an infra.TxExecutor that records statements. failOn makes
// Exec fail for the n-th call (1-based).
type recordingSQL struct {
	calls    []execCall
	failOn   int
	txOpened int
	txErr    error
}

func (r *recordingSQL) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	r.calls = append(r.calls, execCall{query: query, args: args})
	if r.failOn == len(r.calls) {
		return pgconn.CommandTag{}, errors.New("constraint violated")
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *recordingSQL) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("QueryRow not expected")
}

func (r *recordingSQL) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("Query not expected")
}

func (r *recordingSQL) InTx(_ context.Context, fn func(tx infra.SQLExecutor) error) error {
	r.txOpened++
	r.txErr = fn(r)
	return r.txErr
}

func TestChunkRepositoryPutChunks(t *testing.T) {
	sql := &recordingSQL{}
	repo := NewChunkRepository(sql)
	ctx := context.Background()

	if err := repo.PutChunks(ctx, nil); err != nil || sql.txOpened != 0 {
		t.Fatalf("empty PutChunks: err=%v tx=%d", err, sql.txOpened)
	}
	chunks := []domain.Chunk{
		{DocumentID: "doc-1", Index: 0, Title: "Water", Content: "Water boils."},
		{DocumentID: "doc-1", Index: 1, Content: "Ice melts."},
	}
	if err := repo.PutChunks(ctx, chunks); err != nil {
		t.Fatalf("PutChunks: %v", err)
	}
	if sql.txOpened != 1 || len(sql.calls) != 2 {
		t.Fatalf("tx=%d calls=%d", sql.txOpened, len(sql.calls))
	}
	if sql.calls[1].query != sqlinline.QUpsertDocumentChunk || sql.calls[1].args[1] != 1 {
		t.Fatalf("unexpected call: %+v", sql.calls[1])
	}

	failing := &recordingSQL{failOn: 2}
	err := NewChunkRepository(failing).PutChunks(ctx, chunks)
	if err == nil || !strings.Contains(err.Error(), "upsert chunk 1 of doc-1") {
		t.Fatalf("err = %v", err)
	}
	if failing.txErr == nil {
		t.Fatal("transaction should see the error and roll back")
	}
}

func TestQuizRepositorySaveQuizzes(t *testing.T) {
	sql := &recordingSQL{}
	idx := 2
	quizzes := []domain.Quiz{{
		ID:         "quiz-1",
		JobID:      "job-1",
		UserID:     "user-1",
		DocumentID: "doc-1",
		Title:      "Water",
		ChunkIndex: &idx,
		Difficulty: jsoncfg.DifficultyEasy,
		CreatedAt:  time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		Questions: []domain.Question{
			{Type: jsoncfg.QuestionTypeMCQSingle, Text: "Boiling point?", Options: []string{"90", "100"}, Answers: []string{"100"}, ChunkIndex: 2},
			{Type: jsoncfg.QuestionTypeMCQSingle, Text: "Melting point?", Answers: []string{"0"}, ChunkIndex: 2},
		},
	}}
	if err := NewQuizRepository(sql).SaveQuizzes(context.Background(), quizzes); err != nil {
		t.Fatalf("SaveQuizzes: %v", err)
	}
	if len(sql.calls) != 3 || sql.calls[0].query != sqlinline.QInsertQuiz {
		t.Fatalf("calls = %+v", sql.calls)
	}
	// Options are stored as a JSON array even when absent.
	if got := fmt.Sprintf("%s", sql.calls[2].args[5]); got != "[]" {
		t.Fatalf("options arg = %v", got)
	}

	failing := &recordingSQL{failOn: 3}
	err := NewQuizRepository(failing).SaveQuizzes(context.Background(), quizzes)
	if err == nil || !strings.Contains(err.Error(), "insert question 1 of quiz quiz-1") {
		t.Fatalf("err = %v", err)
	}
}
