package domain

import (
	"sort"
	"time"

	"quizgen/internal/domain/jsoncfg"
)

// Chunk is one slice of a source document as produced by the chunker.
type Chunk struct {
	DocumentID string
	Index      int
	Title      string
	Content    string
}

// DocumentRef identifies a document together with its chunk count.
type DocumentRef struct {
	ID         string
	ChunkCount int
}

// Question is a single generated question prior to persistence.
type Question struct {
	Type        jsoncfg.QuestionType `json:"type"`
	Difficulty  jsoncfg.Difficulty   `json:"difficulty"`
	Text        string               `json:"text"`
	Options     []string             `json:"options,omitempty"`
	Answers     []string             `json:"answers"`
	Explanation string               `json:"explanation,omitempty"`
	ChunkIndex  int                  `json:"chunk_index"`
}

// ChunkResults maps a chunk index to the questions generated for it. A nil or
// empty entry means the chunk produced nothing.
type ChunkResults map[int][]Question

// Questions flattens all results in chunk order.
func (r ChunkResults) Questions() []Question {
	var out []Question
	for _, idx := range r.SortedIndexes() {
		out = append(out, r[idx]...)
	}
	return out
}

// SortedIndexes returns the chunk indexes in ascending order.
func (r ChunkResults) SortedIndexes() []int {
	idx := make([]int, 0, len(r))
	for i := range r {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

// Quiz is an assembled output quiz.
type Quiz struct {
	ID         string
	JobID      string
	UserID     string
	DocumentID string
	Title      string
	ChunkIndex *int
	Difficulty jsoncfg.Difficulty
	Questions  []Question
	CreatedAt  time.Time
}
