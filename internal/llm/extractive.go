package llm

import (
	"context"
	"slices"
	"strings"
	"unicode"
)

// NoAnswer is returned when the context holds nothing relevant.
const NoAnswer = "I could not find anything about that in the document."

// ExtractiveGenerator answers offline by quoting the context sentences that
// share the most words with the question. It never calls a model, which
// makes it the backend for --offline and for tests.
type ExtractiveGenerator struct {
	// MaxSentences caps the quoted sentences. Defaults to 2.
	MaxSentences int
}

var _ Generator = (*ExtractiveGenerator)(nil)

// Model returns "extractive".
func (g *ExtractiveGenerator) Model() string {
	return "extractive"
}

// Generate quotes the best-matching context sentences in document order.
func (g *ExtractiveGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	passage, question, ok := ParsePrompt(prompt)
	if !ok {
		passage, question = prompt, prompt
	}
	if strings.TrimSpace(passage) == NoContextPlaceholder {
		return NoAnswer, nil
	}

	limit := g.MaxSentences
	if limit <= 0 {
		limit = 2
	}

	terms := wordSet(question)
	type scored struct {
		text  string
		pos   int
		score int
	}
	var candidates []scored
	for i, s := range sentences(passage) {
		score := 0
		for w := range wordSet(s) {
			if terms[w] {
				score++
			}
		}
		if score > 0 {
			candidates = append(candidates, scored{text: s, pos: i, score: score})
		}
	}
	if len(candidates) == 0 {
		return NoAnswer, nil
	}

	slices.SortStableFunc(candidates, func(a, b scored) int { return b.score - a.score })
	candidates = candidates[:min(limit, len(candidates))]
	slices.SortFunc(candidates, func(a, b scored) int { return a.pos - b.pos })

	parts := make([]string, len(candidates))
	for i, c := range candidates {
		parts[i] = c.text
	}
	return strings.Join(parts, " "), nil
}

// sentences splits text at sentence-ending punctuation and blank lines.
func sentences(text string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if s := strings.Join(strings.Fields(cur.String()), " "); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}

	runes := []rune(text)
	for i, r := range runes {
		cur.WriteRune(r)
		switch r {
		case '.', '!', '?':
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				flush()
			}
		case '\n':
			if i > 0 && runes[i-1] == '\n' {
				flush()
			}
		}
	}
	flush()
	return out
}

// wordSet returns the lowercased words of s longer than two letters.
func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(w)) > 2 && !stopWords[w] {
			set[w] = true
		}
	}
	return set
}

var stopWords = map[string]bool{
	"the": true, "and": true, "what": true, "which": true, "who": true,
	"how": true, "why": true, "when": true, "where": true, "does": true,
	"are": true, "was": true, "were": true, "this": true, "that": true,
	"with": true, "for": true, "from": true,
}
