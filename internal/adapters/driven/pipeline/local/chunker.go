package local

import (
	"context"
	"strings"
	"unicode"

	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// Ensure Chunker implements the interface.
var _ driven.Chunker = (*Chunker)(nil)

const (
	// DefaultChunkSize is the number of characters per chunk.
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is the number of characters shared by neighbours.
	DefaultChunkOverlap = 200

	summaryLen = 120
)

// Chunker splits text into fixed-size overlapping chunks. Boundaries are
// moved back to the nearest whitespace so words are not cut.
type Chunker struct {
	size    int
	overlap int
}

// Option configures the chunker.
type Option func(*Chunker)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.size = size
		}
	}
}

// WithOverlap sets the overlap between chunks in characters.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// NewChunker creates a chunker.
func NewChunker(opts ...Option) *Chunker {
	c := &Chunker{size: DefaultChunkSize, overlap: DefaultChunkOverlap}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.size {
		c.overlap = c.size / 4
	}
	return c
}

// Chunk splits req.NormalizedText. Empty text yields no chunks.
func (c *Chunker) Chunk(ctx context.Context, req driven.ChunkRequest) ([]driven.ChunkPiece, error) {
	text := []rune(strings.TrimSpace(req.NormalizedText))
	if len(text) == 0 {
		return nil, nil
	}

	var pieces []driven.ChunkPiece
	for start := 0; start < len(text); {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + c.size
		if end >= len(text) {
			end = len(text)
		} else {
			end = wordBoundary(text, start, end)
		}

		piece := strings.TrimSpace(string(text[start:end]))
		if piece != "" {
			pieces = append(pieces, driven.ChunkPiece{
				Index:      len(pieces),
				Text:       piece,
				TokenCount: len(strings.Fields(piece)),
				Summary:    summarise(piece),
			})
		}
		if end == len(text) {
			break
		}

		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return pieces, nil
}

// wordBoundary moves end back to just after the last whitespace in the
// second half of the window, keeping end when there is none.
func wordBoundary(text []rune, start, end int) int {
	for i := end; i > start+(end-start)/2; i-- {
		if unicode.IsSpace(text[i-1]) {
			return i
		}
	}
	return end
}

// summarise returns the first line of a chunk, shortened.
func summarise(piece string) string {
	line, _, _ := strings.Cut(piece, "\n")
	line = strings.TrimSpace(line)
	if r := []rune(line); len(r) > summaryLen {
		return string(r[:summaryLen]) + "…"
	}
	return line
}
