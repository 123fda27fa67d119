package pipeline

import (
	"context"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// Ensure Embedder implements the interface.
var _ driven.Embedder = (*Embedder)(nil)

// Embedder calls POST /embed.
type Embedder struct {
	c *client
}

type embedRequest struct {
	Chunks []wireChunk `json:"chunks"`
}

type embedResponse struct {
	Vectors [][]float32 `json:"vectors"`
}

// NewEmbedder creates an embed service client.
func NewEmbedder(cfg Config) *Embedder {
	return &Embedder{c: newClient(domain.StageEmbed, cfg)}
}

// Embed returns one vector per chunk, in order.
func (e *Embedder) Embed(ctx context.Context, chunks []driven.ChunkPiece) ([][]float32, error) {
	req := embedRequest{Chunks: make([]wireChunk, len(chunks))}
	for i, ch := range chunks {
		req.Chunks[i] = wireChunk(ch)
	}
	var out embedResponse
	if err := e.c.post(ctx, "/embed", req, &out); err != nil {
		return nil, err
	}
	if len(out.Vectors) != len(chunks) {
		return nil, mismatch(domain.StageEmbed, "vectors", len(out.Vectors), len(chunks))
	}
	return out.Vectors, nil
}
