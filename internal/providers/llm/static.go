package llm

import (
	"context"
	"fmt"
	"strings"

	"quizgen/internal/domain"
	"quizgen/internal/domain/jsoncfg"
)

// StaticGenerator builds deterministic questions from the chunk text itself.
// It is used when no model is configured.
type StaticGenerator struct{}

func NewStaticGenerator() *StaticGenerator {
	return &StaticGenerator{}
}

func (s *StaticGenerator) GenerateQuestions(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sentences := splitSentences(req.Chunk.Content)
	if len(sentences) == 0 {
		return &domain.GenerateResponse{Provider: staticProviderName}, nil
	}

	var questions []domain.Question
	n := 0
	for _, qt := range req.Params.SortedTypes() {
		for i := 0; i < req.Params.QuestionCounts[qt]; i++ {
			sentence := sentences[n%len(sentences)]
			n++
			questions = append(questions, staticQuestion(qt, sentence, req))
		}
	}
	return &domain.GenerateResponse{
		Questions:   questions,
		InputTokens: approxTokens(req.Chunk.Content),
		Provider:    staticProviderName,
	}, nil
}

func staticQuestion(qt jsoncfg.QuestionType, sentence string, req domain.GenerateRequest) domain.Question {
	q := domain.Question{
		Type:        qt,
		Difficulty:  req.Params.Difficulty,
		ChunkIndex:  req.Chunk.Index,
		Explanation: sentence,
	}
	words := strings.Fields(sentence)
	key := longestWord(words)
	switch qt {
	case jsoncfg.QuestionTypeTrueFalse:
		q.Text = fmt.Sprintf("True or false: %s", sentence)
		q.Options = []string{"true", "false"}
		q.Answers = []string{"true"}
	case jsoncfg.QuestionTypeFillGap:
		q.Text = strings.Replace(sentence, key, "____", 1)
		q.Answers = []string{key}
	case jsoncfg.QuestionTypeOpen:
		q.Text = fmt.Sprintf("Explain in your own words: %s", sentence)
		q.Answers = []string{sentence}
	case jsoncfg.QuestionTypeOrdering:
		q.Text = "Put the words back in order."
		q.Options = reversed(words)
		q.Answers = words
	default:
		q.Text = fmt.Sprintf("Which word completes the statement: %s", strings.Replace(sentence, key, "____", 1))
		q.Options = distinctOptions(key, words)
		q.Answers = []string{key}
	}
	return q
}

func splitSentences(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
	var out []string
	for _, f := range fields {
		if f = strings.TrimSpace(f); len(strings.Fields(f)) >= 2 {
			out = append(out, f)
		}
	}
	return out
}

func longestWord(words []string) string {
	best := ""
	for _, w := range words {
		if len(w) > len(best) {
			best = w
		}
	}
	return best
}

func reversed(words []string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[len(words)-1-i] = w
	}
	return out
}

func distinctOptions(answer string, words []string) []string {
	options := []string{answer}
	seen := map[string]struct{}{answer: {}}
	for _, w := range words {
		if len(options) == 4 {
			break
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		options = append(options, w)
	}
	return options
}

var _ domain.Generator = (*StaticGenerator)(nil)
