package generation

import (
	"fmt"
	"testing"
	"time"

	"quizgen/internal/domain"
	"quizgen/internal/domain/jsoncfg"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("quiz-%d", n)
	}
}

func TestAssembleQuizzes(t *testing.T) {
	job := &domain.GenerationJob{ID: "job-1", UserID: "user-1", DocumentID: "doc-1"}
	results := domain.ChunkResults{
		2: {{Text: "c"}},
		0: {{Text: "a"}, {Text: "b"}},
		1: nil,
		3: {},
	}
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		scope      jsoncfg.QuizScope
		title      string
		wantTitles []string
		wantCounts []int
	}{
		{
			name:       "consolidated",
			scope:      jsoncfg.QuizScopeConsolidated,
			title:      "Biology",
			wantTitles: []string{"Biology"},
			wantCounts: []int{3},
		},
		{
			name:       "per chunk",
			scope:      jsoncfg.QuizScopePerChunk,
			wantTitles: []string{"Generated quiz (part 1)", "Generated quiz (part 3)"},
			wantCounts: []int{2, 1},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			params := jsoncfg.GenerationParams{Scope: tc.scope, Title: tc.title, Difficulty: jsoncfg.DifficultyHard}
			quizzes := assembleQuizzes(job, results, params, now, sequentialIDs())
			if len(quizzes) != len(tc.wantTitles) {
				t.Fatalf("got %d quizzes, want %d", len(quizzes), len(tc.wantTitles))
			}
			for i, q := range quizzes {
				if q.Title != tc.wantTitles[i] || len(q.Questions) != tc.wantCounts[i] {
					t.Fatalf("quiz %d: title=%q questions=%d", i, q.Title, len(q.Questions))
				}
				if q.JobID != "job-1" || q.UserID != "user-1" || q.Difficulty != jsoncfg.DifficultyHard || !q.CreatedAt.Equal(now) {
					t.Fatalf("quiz %d: unexpected metadata %+v", i, q)
				}
			}
		})
	}
}

func TestAssembleQuizzesKeepsChunkOrder(t *testing.T) {
	job := &domain.GenerationJob{ID: "job-1"}
	results := domain.ChunkResults{
		1: {{Text: "second"}},
		0: {{Text: "first"}},
	}
	quizzes := assembleQuizzes(job, results, jsoncfg.GenerationParams{Scope: jsoncfg.QuizScopeConsolidated}, time.Now(), sequentialIDs())
	qs := quizzes[0].Questions
	if qs[0].Text != "first" || qs[0].ChunkIndex != 0 || qs[1].Text != "second" || qs[1].ChunkIndex != 1 {
		t.Fatalf("unexpected order %+v", qs)
	}
	if results[1][0].ChunkIndex != 0 {
		t.Fatal("assembly must not mutate the input results")
	}
}

func TestAssembleQuizzesPerChunkIndex(t *testing.T) {
	job := &domain.GenerationJob{ID: "job-1"}
	quizzes := assembleQuizzes(job, domain.ChunkResults{4: {{Text: "x"}}}, jsoncfg.GenerationParams{Scope: jsoncfg.QuizScopePerChunk}, time.Now(), sequentialIDs())
	if len(quizzes) != 1 || quizzes[0].ChunkIndex == nil || *quizzes[0].ChunkIndex != 4 {
		t.Fatalf("unexpected quizzes %+v", quizzes)
	}
}

func TestAssembleQuizzesEmpty(t *testing.T) {
	job := &domain.GenerationJob{ID: "job-1"}
	if got := assembleQuizzes(job, domain.ChunkResults{0: nil}, jsoncfg.GenerationParams{}, time.Now(), sequentialIDs()); got != nil {
		t.Fatalf("expected no quizzes, got %+v", got)
	}
}
