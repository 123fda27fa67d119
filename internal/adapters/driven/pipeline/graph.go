package pipeline

import (
	"context"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// Ensure GraphWriter implements the interface.
var _ driven.GraphWriter = (*GraphWriter)(nil)

// GraphWriter calls POST /graph/chunks.
type GraphWriter struct {
	c *client
}

type graphChunk struct {
	ChunkID     string `json:"chunkId"`
	SourceID    string `json:"sourceId"`
	FilePath    string `json:"filePath"`
	ChunkIndex  int    `json:"chunkIndex"`
	ContentHash string `json:"contentHash"`
	Text        string `json:"text"`
	Summary     string `json:"summary,omitempty"`
}

type graphRequest struct {
	Chunks  []graphChunk `json:"chunks"`
	Vectors [][]float32  `json:"vectors"`
}

type graphResponse struct {
	GraphNodeIDs []string `json:"graphNodeIds"`
}

// NewGraphWriter creates a graph-store service client.
func NewGraphWriter(cfg Config) *GraphWriter {
	return &GraphWriter{c: newClient(domain.StageGraph, cfg)}
}

// Store writes embedded chunks and returns one node id per chunk.
func (g *GraphWriter) Store(ctx context.Context, chunks []driven.GraphChunk, vectors [][]float32) ([]string, error) {
	req := graphRequest{Chunks: make([]graphChunk, len(chunks)), Vectors: vectors}
	for i, ch := range chunks {
		req.Chunks[i] = graphChunk(ch)
	}
	var out graphResponse
	if err := g.c.post(ctx, "/graph/chunks", req, &out); err != nil {
		return nil, err
	}
	if len(out.GraphNodeIDs) != len(chunks) {
		return nil, mismatch(domain.StageGraph, "node ids", len(out.GraphNodeIDs), len(chunks))
	}
	return out.GraphNodeIDs, nil
}
