package session

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// wordAssembler regroups arbitrary text fragments into whole words. Each
// emitted token is a word followed by the whitespace after it, so the
// tokens concatenate back to the exact input.
type wordAssembler struct {
	pending strings.Builder
}

// push adds a fragment and returns the words it completed.
func (a *wordAssembler) push(fragment string) []string {
	a.pending.WriteString(fragment)
	text := a.pending.String()

	var words []string
	for {
		cut := wordEnd(text)
		if cut < 0 {
			break
		}
		words = append(words, text[:cut])
		text = text[cut:]
	}

	a.pending.Reset()
	a.pending.WriteString(text)
	return words
}

// flush returns whatever is left as a final token.
func (a *wordAssembler) flush() []string {
	rest := a.pending.String()
	a.pending.Reset()
	if rest == "" {
		return nil
	}
	return []string{rest}
}

// wordEnd returns the end of the first complete word in text: the offset
// just past the whitespace run that follows a non-space rune. It returns -1
// when no word is complete yet.
func wordEnd(text string) int {
	seenWord := false
	for i, r := range text {
		if !unicode.IsSpace(r) {
			seenWord = true
			continue
		}
		if !seenWord {
			continue
		}
		end := i
		for end < len(text) {
			r, size := utf8.DecodeRuneInString(text[end:])
			if !unicode.IsSpace(r) {
				break
			}
			end += size
		}
		return end
	}
	return -1
}
