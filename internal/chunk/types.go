package chunk

// Default sizes, in runes.
const (
	DefaultChunkSize    = 7500
	DefaultChunkOverlap = 100
)

// Chunk is a retrievable unit of document text.
type Chunk struct {
	// Text is the chunk content, including the overlap carried over from
	// the previous chunk.
	Text string `json:"text"`
	// Order is the chunk's position within the source document.
	Order int `json:"order"`
}

// boundary is a preferred cut point class, strongest first.
type boundary int

const (
	boundaryParagraph boundary = iota
	boundarySentence
	boundaryLine
	boundarySpace
)

var boundaries = []boundary{boundaryParagraph, boundarySentence, boundaryLine, boundarySpace}
