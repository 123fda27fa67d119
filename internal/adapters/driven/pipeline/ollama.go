package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// Ensure OllamaEmbedder implements the interface.
var _ driven.Embedder = (*OllamaEmbedder)(nil)

// Ollama defaults.
const (
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "nomic-embed-text"
)

// OllamaConfig configures the Ollama embedding backend.
type OllamaConfig struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434).
	BaseURL string

	// Model is the embedding model (default: nomic-embed-text).
	Model string

	// Timeout bounds each request (default: 60s).
	Timeout time.Duration
}

// OllamaEmbedder embeds chunks with a local Ollama server instead of the
// embed service. Used for development without the hosted pipeline.
type OllamaEmbedder struct {
	c     *client
	model string
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float64 `json:"embedding"`
}

// NewOllamaEmbedder creates an Ollama embedding backend.
func NewOllamaEmbedder(cfg OllamaConfig) *OllamaEmbedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	return &OllamaEmbedder{
		c:     newClient(domain.StageEmbed, Config{BaseURL: cfg.BaseURL, Timeout: cfg.Timeout}),
		model: cfg.Model,
	}
}

// Embed calls /api/embeddings once per chunk: Ollama has no batch endpoint.
func (o *OllamaEmbedder) Embed(ctx context.Context, chunks []driven.ChunkPiece) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))
	for i, ch := range chunks {
		var out ollamaResponse
		if err := o.c.post(ctx, "/api/embeddings", ollamaRequest{Model: o.model, Prompt: ch.Text}, &out); err != nil {
			return nil, fmt.Errorf("embed chunk %d: %w", ch.Index, err)
		}
		if len(out.Embedding) == 0 {
			return nil, &domain.PipelineError{Stage: domain.StageEmbed, Message: "ollama returned an empty embedding"}
		}
		vec := make([]float32, len(out.Embedding))
		for j, v := range out.Embedding {
			vec[j] = float32(v)
		}
		vectors[i] = vec
	}
	return vectors, nil
}
