package storage

import (
	"strings"
	"unicode/utf8"

	"quizgen/internal/domain"
)

// DefaultChunkChars is the chunk size used when none is configured.
const DefaultChunkChars = 4000

// SplitDocument cuts text into chunks of at most maxChars runes. Paragraphs
// are kept whole unless a single paragraph is longer than maxChars. A
// markdown heading starts a new chunk and becomes its title.
func SplitDocument(documentID, text string, maxChars int) []domain.Chunk {
	if maxChars <= 0 {
		maxChars = DefaultChunkChars
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var (
		chunks []domain.Chunk
		title  string
		buf    strings.Builder
	)
	flush := func() {
		content := strings.TrimSpace(buf.String())
		buf.Reset()
		if content == "" {
			return
		}
		chunks = append(chunks, domain.Chunk{
			DocumentID: documentID,
			Index:      len(chunks),
			Title:      title,
			Content:    content,
		})
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if heading, rest, ok := splitHeading(para); ok {
			flush()
			title = heading
			para = rest
			if para == "" {
				continue
			}
		}
		for _, piece := range splitRunes(para, maxChars) {
			if buf.Len() > 0 && utf8.RuneCountInString(buf.String())+2+utf8.RuneCountInString(piece) > maxChars {
				flush()
			}
			if buf.Len() > 0 {
				buf.WriteString("\n\n")
			}
			buf.WriteString(piece)
		}
	}
	flush()
	return chunks
}

func splitHeading(para string) (string, string, bool) {
	if !strings.HasPrefix(para, "#") {
		return "", "", false
	}
	line, rest, _ := strings.Cut(para, "\n")
	heading := strings.TrimSpace(strings.TrimLeft(line, "#"))
	if heading == "" {
		return "", "", false
	}
	return heading, strings.TrimSpace(rest), true
}

// splitRunes breaks s on word boundaries into pieces of at most n runes.
func splitRunes(s string, n int) []string {
	if utf8.RuneCountInString(s) <= n {
		return []string{s}
	}
	var (
		out []string
		cur []string
		l   int
	)
	for _, word := range strings.Fields(s) {
		wl := utf8.RuneCountInString(word)
		if l > 0 && l+1+wl > n {
			out = append(out, strings.Join(cur, " "))
			cur, l = nil, 0
		}
		for wl > n {
			r := []rune(word)
			out = append(out, string(r[:n]))
			word = string(r[n:])
			wl -= n
		}
		if l > 0 {
			l++
		}
		cur = append(cur, word)
		l += wl
	}
	if len(cur) > 0 {
		out = append(out, strings.Join(cur, " "))
	}
	return out
}
