package jsoncfg

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// QuestionType enumerates the question formats the generator can produce.
type QuestionType string

const (
	QuestionTypeMCQSingle QuestionType = "MCQ_SINGLE"
	QuestionTypeMCQMulti  QuestionType = "MCQ_MULTI"
	QuestionTypeTrueFalse QuestionType = "TRUE_FALSE"
	QuestionTypeOpen      QuestionType = "OPEN"
	QuestionTypeFillGap   QuestionType = "FILL_GAP"
	QuestionTypeOrdering  QuestionType = "ORDERING"
)

// Difficulty drives prompt wording and token weighting.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
)

// QuizScope selects how chunk results are assembled into quizzes.
type QuizScope string

const (
	// QuizScopeConsolidated merges every surviving chunk into one quiz.
	QuizScopeConsolidated QuizScope = "CONSOLIDATED"
	// QuizScopePerChunk emits one quiz per surviving chunk.
	QuizScopePerChunk QuizScope = "PER_CHUNK"
)

var allowedQuestionTypes = map[QuestionType]struct{}{
	QuestionTypeMCQSingle: {},
	QuestionTypeMCQMulti:  {},
	QuestionTypeTrueFalse: {},
	QuestionTypeOpen:      {},
	QuestionTypeFillGap:   {},
	QuestionTypeOrdering:  {},
}

const (
	// DefaultParamsVersion is the schema version persisted with each job.
	DefaultParamsVersion = "2024-06"
	// DefaultQuestionsPerChunk is used when the request omits question counts.
	DefaultQuestionsPerChunk = 3
	// MaxQuestionsPerTypePerChunk caps a single type's count per chunk.
	MaxQuestionsPerTypePerChunk = 10
	// DefaultLocale is applied when no language preference is provided.
	DefaultLocale = "en"
)

// GenerationParams is the caller-supplied shape of a quiz generation request.
// It is persisted as JSON alongside the job.
type GenerationParams struct {
	Version        string               `json:"version"`
	QuestionCounts map[QuestionType]int `json:"question_counts"`
	Difficulty     Difficulty           `json:"difficulty"`
	Scope          QuizScope            `json:"scope"`
	Title          string               `json:"title"`
	Locale         string               `json:"locale"`
}

// Normalize applies server defaults and limits.
func (p *GenerationParams) Normalize(preferredLocale string) {
	if p == nil {
		return
	}
	if p.Version == "" {
		p.Version = DefaultParamsVersion
	}
	if len(p.QuestionCounts) == 0 {
		p.QuestionCounts = map[QuestionType]int{QuestionTypeMCQSingle: DefaultQuestionsPerChunk}
	}
	for qt, n := range p.QuestionCounts {
		switch {
		case n <= 0:
			delete(p.QuestionCounts, qt)
		case n > MaxQuestionsPerTypePerChunk:
			p.QuestionCounts[qt] = MaxQuestionsPerTypePerChunk
		}
	}
	p.Difficulty = Difficulty(strings.ToUpper(strings.TrimSpace(string(p.Difficulty))))
	if p.Difficulty == "" {
		p.Difficulty = DifficultyMedium
	}
	p.Scope = QuizScope(strings.ToUpper(strings.TrimSpace(string(p.Scope))))
	if p.Scope == "" {
		p.Scope = QuizScopeConsolidated
	}
	if p.Locale == "" {
		if preferredLocale != "" {
			p.Locale = preferredLocale
		} else {
			p.Locale = DefaultLocale
		}
	}
	p.Title = strings.TrimSpace(p.Title)
}

// Validate ensures the parameters satisfy the generation contract.
func (p GenerationParams) Validate() error {
	if len(p.QuestionCounts) == 0 {
		return fmt.Errorf("question_counts must request at least one question")
	}
	for qt := range p.QuestionCounts {
		if _, ok := allowedQuestionTypes[qt]; !ok {
			return fmt.Errorf("unsupported question type %q", qt)
		}
	}
	switch p.Difficulty {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
	default:
		return fmt.Errorf("difficulty must be one of EASY, MEDIUM, HARD")
	}
	switch p.Scope {
	case QuizScopeConsolidated, QuizScopePerChunk:
	default:
		return fmt.Errorf("scope must be one of CONSOLIDATED, PER_CHUNK")
	}
	return nil
}

// QuestionsPerChunk sums the requested counts across types.
func (p GenerationParams) QuestionsPerChunk() int {
	total := 0
	for _, n := range p.QuestionCounts {
		total += n
	}
	return total
}

// SortedTypes returns the requested question types in a stable order.
func (p GenerationParams) SortedTypes() []QuestionType {
	types := make([]QuestionType, 0, len(p.QuestionCounts))
	for qt := range p.QuestionCounts {
		types = append(types, qt)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Clone returns a copy that shares no map with p.
func (p GenerationParams) Clone() GenerationParams {
	c := p
	if p.QuestionCounts != nil {
		c.QuestionCounts = make(map[QuestionType]int, len(p.QuestionCounts))
		for k, v := range p.QuestionCounts {
			c.QuestionCounts[k] = v
		}
	}
	return c
}

func MustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("json marshal: %w", err))
	}
	return b
}
