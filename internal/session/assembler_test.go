package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWordAssembler_RegroupsFragments(t *testing.T) {
	var a wordAssembler

	assert.Empty(t, a.push("Hel"))
	assert.Equal(t, []string{"Hello "}, a.push("lo wor"))
	assert.Empty(t, a.push("ld"))
	assert.Equal(t, []string{"world"}, a.flush())
	assert.Empty(t, a.flush())
}

func TestWordAssembler_KeepsWhitespaceWithWord(t *testing.T) {
	var a wordAssembler

	got := a.push("  Grass is\n\ngreen. ")

	assert.Equal(t, []string{"  Grass ", "is\n\n", "green. "}, got)
	assert.Empty(t, a.flush())
}

func TestWordAssembler_MultibyteText(t *testing.T) {
	var a wordAssembler

	got := a.push("Der Himmel ist blau und")
	got = append(got, a.flush()...)

	assert.Equal(t, []string{"Der ", "Himmel ", "ist ", "blau ", "und"}, got)
}

func TestWordAssembler_ConcatenationIsLossless(t *testing.T) {
	text := "The sky is blue.  Grass is green.\nSnow\tis white. "
	for size := 1; size <= len(text); size++ {
		var a wordAssembler
		var tokens []string
		for i := 0; i < len(text); i += size {
			tokens = append(tokens, a.push(text[i:min(i+size, len(text))])...)
		}
		tokens = append(tokens, a.flush()...)

		assert.Equal(t, text, strings.Join(tokens, ""), "fragment size %d", size)
		for _, tok := range tokens[:len(tokens)-1] {
			assert.NotEqual(t, strings.TrimSpace(tok), "", "fragment size %d produced a blank token", size)
		}
	}
}
