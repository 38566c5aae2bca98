package chunk

import (
	"fmt"
	"unicode"

	dcerrors "github.com/Aman-CERP/docchat/internal/errors"
)

// Splitter cuts document text into overlapping chunks.
//
// Each chunk holds at most Size runes. Cuts prefer a paragraph break, then
// a sentence end, then a line break, then any whitespace; without one the
// chunk is a plain Size-rune window. The last Overlap runes of every chunk
// open the next one, so the text is recovered exactly by appending each
// chunk after the first with its leading Overlap runes removed.
type Splitter struct {
	size    int
	overlap int
}

// NewSplitter validates the window parameters.
func NewSplitter(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, dcerrors.InvalidConfiguration(fmt.Sprintf("chunk size must be positive, got %d", size))
	}
	if overlap < 0 || overlap >= size {
		return nil, dcerrors.InvalidConfiguration(
			fmt.Sprintf("chunk overlap must be in [0, %d), got %d", size, overlap))
	}
	return &Splitter{size: size, overlap: overlap}, nil
}

// Split is shorthand for NewSplitter followed by Splitter.Split.
func Split(text string, size, overlap int) ([]Chunk, error) {
	s, err := NewSplitter(size, overlap)
	if err != nil {
		return nil, err
	}
	return s.Split(text), nil
}

// Size returns the maximum chunk length in runes.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the number of runes shared by adjacent chunks.
func (s *Splitter) Overlap() int { return s.overlap }

// Split returns the chunks of text in document order. Empty text yields none.
func (s *Splitter) Split(text string) []Chunk {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	// A boundary cut must keep more than this many runes so the window
	// always advances past the overlap.
	floor := max(s.overlap, s.size/2)

	var chunks []Chunk
	pos := 0
	for {
		end := min(pos+s.size, n)
		if end < n {
			if cut, ok := findCut(runes, pos+floor+1, end); ok {
				end = cut
			}
		}

		chunks = append(chunks, Chunk{Text: string(runes[pos:end]), Order: len(chunks)})
		if end == n {
			return chunks
		}
		pos = end - s.overlap
	}
}

// findCut returns the latest cut in [lo, hi] of the strongest boundary class
// present. A cut i ends the chunk before runes[i].
func findCut(runes []rune, lo, hi int) (int, bool) {
	if lo < 1 {
		lo = 1
	}
	for _, b := range boundaries {
		for i := hi; i >= lo; i-- {
			if isBoundary(runes, i, b) {
				return i, true
			}
		}
	}
	return 0, false
}

func isBoundary(runes []rune, i int, b boundary) bool {
	prev := runes[i-1]
	switch b {
	case boundaryParagraph:
		return prev == '\n' && i >= 2 && runes[i-2] == '\n'
	case boundarySentence:
		if !unicode.IsSpace(prev) || i < 2 {
			return false
		}
		switch runes[i-2] {
		case '.', '!', '?':
			return true
		}
		return false
	case boundaryLine:
		return prev == '\n'
	default:
		return unicode.IsSpace(prev)
	}
}
