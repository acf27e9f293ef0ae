package source

import (
	"strings"
)

// Chunk is a window of words cut from a file's text.
type Chunk struct {
	Index int
	Text  string
}

// Chunker splits text into overlapping word-based chunks.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker with the given size and overlap, in words. A size <= 0
// keeps the whole text in one chunk.
func NewChunker(size, overlap int) *Chunker {
	return &Chunker{size: size, overlap: overlap}
}

// Chunk splits text into windows of whitespace-separated words joined by single spaces.
// Blank text yields nil.
func (c *Chunker) Chunk(text string) []Chunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	size := c.size
	if size <= 0 {
		size = len(words)
	}
	step := size - c.overlap
	if step <= 0 {
		step = 1
	}
	var chunks []Chunk
	for start := 0; ; start += step {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Text: strings.Join(words[start:end], " ")})
		if end == len(words) {
			return chunks
		}
	}
}
