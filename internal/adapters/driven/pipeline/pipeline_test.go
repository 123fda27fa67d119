package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

func serve(t *testing.T, route string, fn func(body map[string]any) (int, any)) (Config, *http.Header) {
	t.Helper()
	var seen http.Header
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+route, func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		code, out := fn(body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(out)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return Config{BaseURL: srv.URL + "/", APIKey: "internal", Timeout: 5 * time.Second}, &seen
}

func TestNormaliser(t *testing.T) {
	cfg, seen := serve(t, "/normalize", func(body map[string]any) (int, any) {
		assert.Equal(t, "package main", body["content"])
		assert.Equal(t, "go", body["language"])
		return http.StatusOK, map[string]any{
			"entities":       []map[string]any{{"name": "main", "kind": "function"}},
			"normalizedText": "package main",
		}
	})

	out, err := NewNormaliser(cfg).Normalise(context.Background(), driven.NormaliseRequest{
		Content: "package main", Language: "go", Path: "main.go",
	})
	require.NoError(t, err)
	assert.Equal(t, "package main", out.NormalizedText)
	assert.Equal(t, []driven.Entity{{Name: "main", Kind: "function"}}, out.Entities)
	assert.Equal(t, "internal", seen.Get("X-Internal-Api-Key"))
}

func TestChunker(t *testing.T) {
	cfg, _ := serve(t, "/chunk", func(body map[string]any) (int, any) {
		assert.Equal(t, "alpha beta", body["normalizedText"])
		return http.StatusOK, map[string]any{"chunks": []map[string]any{
			{"index": 0, "text": "alpha", "tokenCount": 1},
			{"index": 1, "text": "beta", "tokenCount": 1, "summary": "b"},
		}}
	})

	pieces, err := NewChunker(cfg).Chunk(context.Background(), driven.ChunkRequest{
		NormalizedText: "alpha beta",
		SourceMeta:     map[string]string{"path": "a.md"},
	})
	require.NoError(t, err)
	assert.Equal(t, []driven.ChunkPiece{
		{Index: 0, Text: "alpha", TokenCount: 1},
		{Index: 1, Text: "beta", TokenCount: 1, Summary: "b"},
	}, pieces)
}

func TestEmbedder(t *testing.T) {
	t.Run("vectors in order", func(t *testing.T) {
		cfg, _ := serve(t, "/embed", func(body map[string]any) (int, any) {
			assert.Len(t, body["chunks"], 2)
			return http.StatusOK, map[string]any{"vectors": [][]float32{{0.1, 0.2}, {0.3, 0.4}}}
		})
		vecs, err := NewEmbedder(cfg).Embed(context.Background(), []driven.ChunkPiece{{Text: "a"}, {Index: 1, Text: "b"}})
		require.NoError(t, err)
		assert.Equal(t, [][]float32{{0.1, 0.2}, {0.3, 0.4}}, vecs)
	})

	t.Run("server error is retryable", func(t *testing.T) {
		cfg, _ := serve(t, "/embed", func(map[string]any) (int, any) {
			return http.StatusServiceUnavailable, map[string]string{"detail": "model loading"}
		})
		_, err := NewEmbedder(cfg).Embed(context.Background(), []driven.ChunkPiece{{Text: "a"}})
		var pe *domain.PipelineError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, domain.StageEmbed, pe.Stage)
		assert.Equal(t, http.StatusServiceUnavailable, pe.StatusCode)
		assert.Equal(t, "model loading", pe.Message)
		assert.ErrorIs(t, err, domain.ErrPipeline)
		assert.True(t, domain.IsRetryable(err))
	})

	t.Run("count mismatch", func(t *testing.T) {
		cfg, _ := serve(t, "/embed", func(map[string]any) (int, any) {
			return http.StatusOK, map[string]any{"vectors": [][]float32{{0.1}}}
		})
		_, err := NewEmbedder(cfg).Embed(context.Background(), []driven.ChunkPiece{{Text: "a"}, {Text: "b"}})
		assert.ErrorIs(t, err, domain.ErrPipeline)
	})
}

func TestGraphWriter(t *testing.T) {
	cfg, _ := serve(t, "/graph/chunks", func(body map[string]any) (int, any) {
		chunks := body["chunks"].([]any)
		require.Len(t, chunks, 1)
		assert.Equal(t, "c1", chunks[0].(map[string]any)["chunkId"])
		return http.StatusOK, map[string]any{"graphNodeIds": []string{"node-1"}}
	})

	ids, err := NewGraphWriter(cfg).Store(context.Background(),
		[]driven.GraphChunk{{ChunkID: "c1", SourceID: "s1", FilePath: "a.go", ContentHash: "h"}},
		[][]float32{{0.5}})
	require.NoError(t, err)
	assert.Equal(t, []string{"node-1"}, ids)
}

func TestClientErrors(t *testing.T) {
	t.Run("rejected input is not retried", func(t *testing.T) {
		cfg, _ := serve(t, "/normalize", func(map[string]any) (int, any) {
			return http.StatusUnprocessableEntity, map[string]string{"message": "unsupported language"}
		})
		_, err := NewNormaliser(cfg).Normalise(context.Background(), driven.NormaliseRequest{Content: "x"})
		var pe *domain.PipelineError
		require.ErrorAs(t, err, &pe)
		assert.True(t, pe.IsClientError())
		assert.False(t, domain.IsRetryable(err))
	})

	t.Run("unreachable service", func(t *testing.T) {
		_, err := NewChunker(Config{BaseURL: "http://127.0.0.1:1", Timeout: time.Second}).
			Chunk(context.Background(), driven.ChunkRequest{NormalizedText: "x"})
		var pe *domain.PipelineError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, domain.StageChunk, pe.Stage)
		assert.True(t, domain.IsRetryable(err))
	})

	t.Run("cancelled", func(t *testing.T) {
		cfg, _ := serve(t, "/chunk", func(map[string]any) (int, any) {
			return http.StatusOK, map[string]any{"chunks": []any{}}
		})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewChunker(cfg).Chunk(ctx, driven.ChunkRequest{NormalizedText: "x"})
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestOllamaEmbedder(t *testing.T) {
	var calls int
	cfg, _ := serve(t, "/api/embeddings", func(body map[string]any) (int, any) {
		calls++
		assert.Equal(t, DefaultOllamaModel, body["model"])
		return http.StatusOK, map[string]any{"embedding": []float64{1, 2}}
	})

	vecs, err := NewOllamaEmbedder(OllamaConfig{BaseURL: cfg.BaseURL}).
		Embed(context.Background(), []driven.ChunkPiece{{Text: "a"}, {Index: 1, Text: "b"}})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2}, {1, 2}}, vecs)
	assert.Equal(t, 2, calls)
}
