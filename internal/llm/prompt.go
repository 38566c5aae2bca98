package llm

import (
	"strings"
)

// NoContextPlaceholder stands in for an empty retrieval result so the model
// is told explicitly that the document had nothing relevant.
const NoContextPlaceholder = "No relevant context found."

const (
	promptHeader   = "Answer the question based ONLY on the following context:\n"
	questionMarker = "\n\nQuestion: "
)

// BuildPrompt renders the retrieval-augmented prompt.
func BuildPrompt(question, context string) string {
	if strings.TrimSpace(context) == "" {
		context = NoContextPlaceholder
	}

	var sb strings.Builder
	sb.Grow(len(promptHeader) + len(context) + len(questionMarker) + len(question) + 1)
	sb.WriteString(promptHeader)
	sb.WriteString(context)
	sb.WriteString(questionMarker)
	sb.WriteString(strings.TrimSpace(question))
	sb.WriteString("\n")
	return sb.String()
}

// ParsePrompt recovers the context and question from a BuildPrompt result.
func ParsePrompt(prompt string) (context, question string, ok bool) {
	rest, found := strings.CutPrefix(prompt, promptHeader)
	if !found {
		return "", "", false
	}
	i := strings.LastIndex(rest, questionMarker)
	if i < 0 {
		return "", "", false
	}
	return rest[:i], strings.TrimSpace(rest[i+len(questionMarker):]), true
}
