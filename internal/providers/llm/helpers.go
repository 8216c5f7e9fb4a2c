package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"quizgen/internal/domain"
	"quizgen/internal/domain/jsoncfg"
)

const (
	staticProviderName = "static"
	openAIProviderName = "openai"
)

// charsPerToken approximates prompt size when the provider does not report usage.
const charsPerToken = 4

type modelQuestionsPayload struct {
	Questions []modelQuestion `json:"questions"`
}

type modelQuestion struct {
	Type        string   `json:"type"`
	Text        string   `json:"text"`
	Options     []string `json:"options"`
	Answers     []string `json:"answers"`
	Explanation string   `json:"explanation"`
}

func buildQuestionPrompt(req domain.GenerateRequest) string {
	p := req.Params
	sb := &strings.Builder{}
	sb.WriteString("Write quiz questions about the source text below. Respond strictly with JSON matching this schema: ")
	sb.WriteString(`{"questions":[{"type":string,"text":string,"options":string[],"answers":string[],"explanation":string}]}`)
	fmt.Fprintf(sb, ". Use locale '%s'. Difficulty: %s. Produce exactly:", coalesce(p.Locale, jsoncfg.DefaultLocale), p.Difficulty)
	for _, qt := range p.SortedTypes() {
		fmt.Fprintf(sb, " %d of type %s;", p.QuestionCounts[qt], qt)
	}
	sb.WriteString(" TRUE_FALSE answers are \"true\" or \"false\"; OPEN questions have no options; ORDERING answers list the options in correct order.")
	if title := strings.TrimSpace(req.Chunk.Title); title != "" {
		fmt.Fprintf(sb, "\nSection: %s", title)
	}
	sb.WriteString("\nSource text:\n")
	sb.WriteString(req.Chunk.Content)
	return sb.String()
}

// toQuestions keeps the well-formed questions of a requested type.
func toQuestions(payload modelQuestionsPayload, req domain.GenerateRequest) []domain.Question {
	var out []domain.Question
	for _, mq := range payload.Questions {
		qt := jsoncfg.QuestionType(strings.ToUpper(strings.TrimSpace(mq.Type)))
		if _, ok := req.Params.QuestionCounts[qt]; !ok {
			continue
		}
		text := strings.TrimSpace(mq.Text)
		answers := trimAll(mq.Answers)
		if text == "" || len(answers) == 0 {
			continue
		}
		out = append(out, domain.Question{
			Type:        qt,
			Difficulty:  req.Params.Difficulty,
			Text:        text,
			Options:     trimAll(mq.Options),
			Answers:     answers,
			Explanation: strings.TrimSpace(mq.Explanation),
			ChunkIndex:  req.Chunk.Index,
		})
	}
	return out
}

func trimAll(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func approxTokens(text string) int64 {
	return int64((len(text) + charsPerToken - 1) / charsPerToken)
}

func coalesce(values ...string) string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}

func parseModelPayload[T any](raw string) (T, error) {
	var zero T
	cleaned := extractJSONFragment(raw)
	if cleaned == "" {
		return zero, errors.New("empty payload")
	}
	var decoded T
	if err := json.Unmarshal([]byte(cleaned), &decoded); err != nil {
		return zero, err
	}
	return decoded, nil
}

func extractJSONFragment(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	text = trimCodeFence(text)
	start := strings.IndexAny(text, "{[")
	end := strings.LastIndexAny(text, "]}")
	if start >= 0 && end >= start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```JSON")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
