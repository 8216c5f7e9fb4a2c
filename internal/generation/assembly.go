package generation

import (
	"fmt"
	"time"

	"quizgen/internal/domain"
	"quizgen/internal/domain/jsoncfg"
)

const defaultQuizTitle = "Generated quiz"

// assembleQuizzes turns chunk results into quizzes. Chunks without questions
// are dropped; the remaining ones form either one consolidated quiz or one
// quiz per chunk.
func assembleQuizzes(job *domain.GenerationJob, results domain.ChunkResults, params jsoncfg.GenerationParams, now time.Time, newID func() string) []domain.Quiz {
	var surviving []int
	for _, idx := range results.SortedIndexes() {
		if len(results[idx]) > 0 {
			surviving = append(surviving, idx)
		}
	}
	if len(surviving) == 0 {
		return nil
	}

	title := params.Title
	if title == "" {
		title = defaultQuizTitle
	}
	base := domain.Quiz{
		JobID:      job.ID,
		UserID:     job.UserID,
		DocumentID: job.DocumentID,
		Difficulty: params.Difficulty,
		CreatedAt:  now,
	}

	if params.Scope == jsoncfg.QuizScopePerChunk {
		quizzes := make([]domain.Quiz, 0, len(surviving))
		for _, idx := range surviving {
			q := base
			q.ID = newID()
			q.Title = fmt.Sprintf("%s (part %d)", title, idx+1)
			chunk := idx
			q.ChunkIndex = &chunk
			q.Questions = withChunkIndex(results[idx], idx)
			quizzes = append(quizzes, q)
		}
		return quizzes
	}

	q := base
	q.ID = newID()
	q.Title = title
	for _, idx := range surviving {
		q.Questions = append(q.Questions, withChunkIndex(results[idx], idx)...)
	}
	return []domain.Quiz{q}
}

func withChunkIndex(questions []domain.Question, idx int) []domain.Question {
	out := make([]domain.Question, len(questions))
	copy(out, questions)
	for i := range out {
		out[i].ChunkIndex = idx
	}
	return out
}
