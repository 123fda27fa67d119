package pipeline

import (
	"context"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// Ensure Chunker implements the interface.
var _ driven.Chunker = (*Chunker)(nil)

// Chunker calls POST /chunk.
type Chunker struct {
	c *client
}

type chunkRequest struct {
	NormalizedText string            `json:"normalizedText"`
	SourceMeta     map[string]string `json:"sourceMeta,omitempty"`
}

type wireChunk struct {
	Index      int    `json:"index"`
	Text       string `json:"text"`
	TokenCount int    `json:"tokenCount"`
	Summary    string `json:"summary,omitempty"`
}

type chunkResponse struct {
	Chunks []wireChunk `json:"chunks"`
}

// NewChunker creates a chunk service client.
func NewChunker(cfg Config) *Chunker {
	return &Chunker{c: newClient(domain.StageChunk, cfg)}
}

// Chunk splits normalised text into chunks.
func (c *Chunker) Chunk(ctx context.Context, req driven.ChunkRequest) ([]driven.ChunkPiece, error) {
	var out chunkResponse
	if err := c.c.post(ctx, "/chunk", chunkRequest(req), &out); err != nil {
		return nil, err
	}
	pieces := make([]driven.ChunkPiece, len(out.Chunks))
	for i, ch := range out.Chunks {
		pieces[i] = driven.ChunkPiece(ch)
	}
	return pieces, nil
}
