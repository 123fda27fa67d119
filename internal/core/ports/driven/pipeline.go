package driven

import "context"

// NormaliseRequest is the input of the normaliser service.
type NormaliseRequest struct {
	Content  string
	Language string
	Path     string
}

// Entity is a named element extracted by the normaliser.
type Entity struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
}

// NormaliseResult is the output of the normaliser service.
type NormaliseResult struct {
	Entities       []Entity
	NormalizedText string
}

// Normaliser extracts entities and produces normalised text.
type Normaliser interface {
	Normalise(ctx context.Context, req NormaliseRequest) (*NormaliseResult, error)
}

// ChunkRequest is the input of the chunker service.
type ChunkRequest struct {
	NormalizedText string
	SourceMeta     map[string]string
}

// ChunkPiece is one chunk produced by the chunker.
type ChunkPiece struct {
	Index      int    `json:"index"`
	Text       string `json:"text"`
	TokenCount int    `json:"token_count"`
	Summary    string `json:"summary,omitempty"`
}

// Chunker splits normalised text into chunks.
type Chunker interface {
	Chunk(ctx context.Context, req ChunkRequest) ([]ChunkPiece, error)
}

// Embedder returns one vector per chunk, in order.
type Embedder interface {
	Embed(ctx context.Context, chunks []ChunkPiece) ([][]float32, error)
}

// GraphChunk is a chunk ready to be written to the knowledge graph.
type GraphChunk struct {
	ChunkID     string
	SourceID    string
	FilePath    string
	ChunkIndex  int
	ContentHash string
	Text        string
	Summary     string
}

// GraphWriter stores embedded chunks and returns one node id per chunk.
type GraphWriter interface {
	Store(ctx context.Context, chunks []GraphChunk, vectors [][]float32) ([]string, error)
}
