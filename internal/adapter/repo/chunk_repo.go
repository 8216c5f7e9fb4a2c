package repo

import (
	"context"
	"fmt"

	"quizgen/internal/domain"
	"quizgen/internal/infra"
	"quizgen/internal/sqlinline"
)

// ChunkRepositoryPG stores the chunks of ingested documents.
type ChunkRepositoryPG struct {
	sql infra.TxExecutor
}

func NewChunkRepository(sql infra.TxExecutor) *ChunkRepositoryPG {
	return &ChunkRepositoryPG{sql: sql}
}

func (r *ChunkRepositoryPG) CountChunks(ctx context.Context, documentID string) (int, error) {
	var n int
	if err := r.sql.QueryRow(ctx, sqlinline.QCountDocumentChunks, documentID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *ChunkRepositoryPG) ListChunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListDocumentChunks, documentID)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return chunks, nil
}

// PutChunks upserts chunks by (document_id, chunk_index) in one transaction.
func (r *ChunkRepositoryPG) PutChunks(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.sql.InTx(ctx, func(tx infra.SQLExecutor) error {
		for _, c := range chunks {
			if _, err := tx.Exec(ctx, sqlinline.QUpsertDocumentChunk, c.DocumentID, c.Index, c.Title, c.Content); err != nil {
				return fmt.Errorf("upsert chunk %d of %s: %w", c.Index, c.DocumentID, err)
			}
		}
		return nil
	})
}

var (
	_ domain.DocumentSource = (*ChunkRepositoryPG)(nil)
	_ domain.ChunkWriter    = (*ChunkRepositoryPG)(nil)
)
