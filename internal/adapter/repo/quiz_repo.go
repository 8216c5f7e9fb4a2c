package repo

import (
	"context"
	"fmt"

	"quizgen/internal/domain"
	"quizgen/internal/domain/jsoncfg"
	"quizgen/internal/infra"
	"quizgen/internal/sqlinline"
)

// QuizRepositoryPG implements domain.QuizWriter using PostgreSQL.
type QuizRepositoryPG struct {
	sql infra.TxExecutor
}

// NewQuizRepository constructs a new quiz repository instance.
func NewQuizRepository(sql infra.TxExecutor) *QuizRepositoryPG {
	return &QuizRepositoryPG{sql: sql}
}

// SaveQuizzes persists quizzes and their questions in one transaction.
func (r *QuizRepositoryPG) SaveQuizzes(ctx context.Context, quizzes []domain.Quiz) error {
	if len(quizzes) == 0 {
		return nil
	}
	return r.sql.InTx(ctx, func(tx infra.SQLExecutor) error {
		for _, quiz := range quizzes {
			q := quiz
			if _, err := tx.Exec(ctx, sqlinline.QInsertQuiz, q.ID, q.JobID, q.UserID, q.DocumentID, q.Title, q.ChunkIndex, string(q.Difficulty), q.CreatedAt); err != nil {
				return fmt.Errorf("insert quiz %s: %w", q.ID, err)
			}
			for pos, question := range q.Questions {
				if _, err := tx.Exec(ctx, sqlinline.QInsertQuizQuestion,
					q.ID,
					pos,
					string(question.Type),
					string(question.Difficulty),
					question.Text,
					jsoncfg.MustMarshal(nonNil(question.Options)),
					jsoncfg.MustMarshal(nonNil(question.Answers)),
					question.Explanation,
					question.ChunkIndex,
				); err != nil {
					return fmt.Errorf("insert question %d of quiz %s: %w", pos, q.ID, err)
				}
			}
		}
		return nil
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ domain.QuizWriter = (*QuizRepositoryPG)(nil)
