package estimation

import (
	"context"
	"fmt"

	"quizgen/internal/domain"
	"quizgen/internal/domain/jsoncfg"
)

// charsPerToken approximates tokenizer output for latin text.
const charsPerToken = 4

// Output token weight of a single question, before the difficulty multiplier.
var questionTokenWeights = map[jsoncfg.QuestionType]int64{
	jsoncfg.QuestionTypeMCQSingle: 120,
	jsoncfg.QuestionTypeMCQMulti:  140,
	jsoncfg.QuestionTypeTrueFalse: 60,
	jsoncfg.QuestionTypeOpen:      160,
	jsoncfg.QuestionTypeFillGap:   80,
	jsoncfg.QuestionTypeOrdering:  130,
}

const defaultQuestionWeight = 120

// Multipliers are expressed in percent.
var difficultyMultipliers = map[jsoncfg.Difficulty]int64{
	jsoncfg.DifficultyEasy:   90,
	jsoncfg.DifficultyMedium: 100,
	jsoncfg.DifficultyHard:   125,
}

// Config holds the tunables of the estimator.
type Config struct {
	TokensPerChunk  int
	SecondsPerChunk int
	SafetyPercent   int
}

// Estimator prices generation requests from question counts and chunk size.
type Estimator struct {
	cfg Config
}

func New(cfg Config) *Estimator {
	if cfg.TokensPerChunk <= 0 {
		cfg.TokensPerChunk = 800
	}
	if cfg.SecondsPerChunk <= 0 {
		cfg.SecondsPerChunk = 12
	}
	if cfg.SafetyPercent < 0 {
		cfg.SafetyPercent = 0
	}
	return &Estimator{cfg: cfg}
}

// Estimate returns the token ceiling to reserve and the expected duration.
func (e *Estimator) Estimate(_ context.Context, doc domain.DocumentRef, params jsoncfg.GenerationParams) (domain.Estimate, error) {
	if doc.ChunkCount < 1 {
		return domain.Estimate{}, domain.ErrNoChunks
	}
	if err := params.Validate(); err != nil {
		return domain.Estimate{}, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	chunks := int64(doc.ChunkCount)

	var outputPerChunk int64
	for _, qt := range params.SortedTypes() {
		outputPerChunk += int64(params.QuestionCounts[qt]) * questionWeight(qt)
	}
	outputPerChunk = applyDifficulty(outputPerChunk, params.Difficulty)

	input := chunks * int64(e.cfg.TokensPerChunk)
	base := input + chunks*outputPerChunk
	tokens := base + base*int64(e.cfg.SafetyPercent)/100

	return domain.Estimate{
		Tokens:      tokens,
		InputTokens: input,
		Seconds:     doc.ChunkCount * e.cfg.SecondsPerChunk,
	}, nil
}

// ActualTokens measures what was consumed: the recorded input tokens plus the
// generated output at roughly four characters per token.
func (e *Estimator) ActualTokens(questions []domain.Question, difficulty jsoncfg.Difficulty, inputTokens int64) int64 {
	if inputTokens < 0 {
		inputTokens = 0
	}
	var chars int
	for _, q := range questions {
		chars += len(q.Text) + len(q.Explanation)
		for _, o := range q.Options {
			chars += len(o)
		}
		for _, a := range q.Answers {
			chars += len(a)
		}
	}
	output := int64((chars + charsPerToken - 1) / charsPerToken)
	return inputTokens + applyDifficulty(output, difficulty)
}

func questionWeight(qt jsoncfg.QuestionType) int64 {
	if w, ok := questionTokenWeights[qt]; ok {
		return w
	}
	return defaultQuestionWeight
}

func applyDifficulty(tokens int64, d jsoncfg.Difficulty) int64 {
	m, ok := difficultyMultipliers[d]
	if !ok {
		m = 100
	}
	return tokens * m / 100
}

var _ domain.Estimator = (*Estimator)(nil)
