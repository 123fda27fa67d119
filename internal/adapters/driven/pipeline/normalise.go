package pipeline

import (
	"context"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// Ensure Normaliser implements the interface.
var _ driven.Normaliser = (*Normaliser)(nil)

// Normaliser calls POST /normalize.
type Normaliser struct {
	c *client
}

type normaliseRequest struct {
	Content  string `json:"content"`
	Language string `json:"language"`
	Path     string `json:"path,omitempty"`
}

type normaliseResponse struct {
	Entities       []driven.Entity `json:"entities"`
	NormalizedText string          `json:"normalizedText"`
}

// NewNormaliser creates a normalize service client.
func NewNormaliser(cfg Config) *Normaliser {
	return &Normaliser{c: newClient(domain.StageNormalize, cfg)}
}

// Normalise extracts entities and normalised text from file content.
func (n *Normaliser) Normalise(ctx context.Context, req driven.NormaliseRequest) (*driven.NormaliseResult, error) {
	var out normaliseResponse
	if err := n.c.post(ctx, "/normalize", normaliseRequest(req), &out); err != nil {
		return nil, err
	}
	return &driven.NormaliseResult{Entities: out.Entities, NormalizedText: out.NormalizedText}, nil
}
