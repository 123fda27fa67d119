package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-sync/internal/logger"
)

// RetentionConfig configures chunk retention.
type RetentionConfig struct {
	// Mode selects where bodies live.
	Mode domain.RetentionMode

	// TTL is how long ttl-store bodies are kept.
	TTL time.Duration

	// StaleAfter is how long a chunk may stay pending before it is failed.
	StaleAfter time.Duration
}

// DefaultRetentionConfig returns the ephemeral tier with a 7 day ttl.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		Mode:       domain.RetentionEphemeral,
		TTL:        7 * 24 * time.Hour,
		StaleAfter: 24 * time.Hour,
	}
}

// RetentionSelector persists chunk metadata, deduplicates embeddings and
// writes bodies to the configured tier.
type RetentionSelector struct {
	cfg      RetentionConfig
	chunks   driven.ChunkStore
	bodies   driven.BodyStore
	embedder driven.Embedder
	graph    driven.GraphWriter
	group    singleflight.Group
	now      func() time.Time
}

// NewRetentionSelector creates a selector. bodies may be nil for the
// ephemeral tier and is ignored there.
func NewRetentionSelector(
	cfg RetentionConfig,
	chunks driven.ChunkStore,
	bodies driven.BodyStore,
	embedder driven.Embedder,
	graph driven.GraphWriter,
) (*RetentionSelector, error) {
	if cfg.Mode == "" {
		cfg.Mode = domain.RetentionEphemeral
	}
	if cfg.Mode == domain.RetentionEphemeral {
		bodies = nil
	} else if bodies == nil {
		return nil, fmt.Errorf("%w: retention mode %s needs a body store", domain.ErrInvalidInput, cfg.Mode)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultRetentionConfig().TTL
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultRetentionConfig().StaleAfter
	}
	return &RetentionSelector{
		cfg:      cfg,
		chunks:   chunks,
		bodies:   bodies,
		embedder: embedder,
		graph:    graph,
		now:      time.Now,
	}, nil
}

// Mode returns the configured tier.
func (r *RetentionSelector) Mode() domain.RetentionMode {
	return r.cfg.Mode
}

// StoreChunks records the chunks of one file. Chunks whose text is
// unchanged keep their record; identical text elsewhere in the tenant reuses
// the embedded graph node; the rest are embedded. Previous chunks that are
// no longer present are marked removed. Returns the number of embed calls.
func (r *RetentionSelector) StoreChunks(
	ctx context.Context,
	source *domain.Source,
	path string,
	pieces []driven.ChunkPiece,
) (int, error) {
	previous, err := r.chunks.ListByFile(ctx, source.ID, path)
	if err != nil {
		return 0, fmt.Errorf("list chunks: %w", err)
	}
	byHash := make(map[string]domain.ChunkRecord, len(previous))
	for _, c := range previous {
		if c.IsEmbedded() {
			byHash[c.ContentHash] = c
		}
	}
	kept := make(map[string]bool, len(previous))

	embeds := 0
	for _, piece := range pieces {
		hash := domain.HashContent([]byte(piece.Text))

		if old, ok := byHash[hash]; ok && !kept[old.ID] {
			kept[old.ID] = true
			old.ChunkIndex = piece.Index
			old.Summary = piece.Summary
			old.TokenCount = piece.TokenCount
			if err := r.chunks.Save(ctx, old); err != nil {
				return embeds, fmt.Errorf("save chunk: %w", err)
			}
			continue
		}

		record := domain.ChunkRecord{
			ID:             uuid.New().String(),
			TenantID:       source.TenantID,
			SourceID:       source.ID,
			FilePath:       path,
			ChunkIndex:     piece.Index,
			ContentHash:    hash,
			EmbeddingState: domain.EmbeddingPending,
			Summary:        piece.Summary,
			TokenCount:     piece.TokenCount,
			CreatedAt:      r.now(),
		}
		// Metadata first so a crash never leaves an unreferenced body.
		if err := r.chunks.Save(ctx, record); err != nil {
			return embeds, fmt.Errorf("save chunk: %w", err)
		}
		if err := r.storeBody(ctx, &record, piece.Text); err != nil {
			return embeds, err
		}

		called, err := r.embed(ctx, &record, piece)
		if called {
			embeds++
		}
		if err != nil {
			return embeds, err
		}
	}

	now := r.now()
	for _, old := range previous {
		if kept[old.ID] {
			continue
		}
		old.RemovedAt = &now
		if err := r.chunks.Save(ctx, old); err != nil {
			return embeds, fmt.Errorf("mark chunk removed: %w", err)
		}
	}
	return embeds, nil
}

func (r *RetentionSelector) storeBody(ctx context.Context, record *domain.ChunkRecord, text string) error {
	if r.bodies == nil {
		return nil
	}
	body := domain.ChunkBody{
		TenantID:    record.TenantID,
		ContentHash: record.ContentHash,
		Text:        text,
	}
	if r.cfg.Mode == domain.RetentionTTLStore {
		body.PurgeAt = r.now().Add(r.cfg.TTL)
	}
	key, err := r.bodies.Put(ctx, body)
	if err != nil {
		return fmt.Errorf("store body: %w", err)
	}
	record.BodyKey = key
	record.PurgeAt = body.PurgeAt
	if err := r.chunks.Save(ctx, *record); err != nil {
		return fmt.Errorf("save chunk: %w", err)
	}
	return nil
}

// embed assigns a graph node to record, reusing an embedded chunk with the
// same tenant and hash. Concurrent callers for one hash share a single
// embed call. Reports whether this caller triggered the embed request.
func (r *RetentionSelector) embed(ctx context.Context, record *domain.ChunkRecord, piece driven.ChunkPiece) (bool, error) {
	key := record.TenantID + "/" + record.ContentHash
	called := false

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		existing, err := r.chunks.FindEmbedded(ctx, record.TenantID, record.ContentHash)
		if err == nil {
			return existing.GraphNodeID, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("find embedded chunk: %w", err)
		}

		called = true
		nodeID, err := r.embedAndStore(ctx, record, piece)
		if err != nil {
			return nil, err
		}
		return nodeID, nil
	})
	if err != nil {
		record.EmbeddingState = domain.EmbeddingFailed
		if saveErr := r.chunks.Save(ctx, *record); saveErr != nil {
			logger.CtxWarn(ctx, "failed to mark chunk %s failed: %v", record.ID, saveErr)
		}
		return called, err
	}

	record.GraphNodeID = v.(string)
	record.EmbeddingState = domain.EmbeddingEmbedded
	record.EmbeddedAt = r.now()
	if err := r.chunks.Save(ctx, *record); err != nil {
		return called, fmt.Errorf("save chunk: %w", err)
	}
	return called, nil
}

// embedAndStore embeds one chunk and writes it to the graph. The record is
// saved as embedded before returning so later lookups find it.
func (r *RetentionSelector) embedAndStore(ctx context.Context, record *domain.ChunkRecord, piece driven.ChunkPiece) (string, error) {
	record.EmbeddingState = domain.EmbeddingProcessing
	if err := r.chunks.Save(ctx, *record); err != nil {
		return "", fmt.Errorf("save chunk: %w", err)
	}

	vectors, err := r.embedder.Embed(ctx, []driven.ChunkPiece{piece})
	if err != nil {
		return "", err
	}
	if len(vectors) != 1 {
		return "", &domain.PipelineError{Stage: domain.StageEmbed,
			Err: fmt.Errorf("expected 1 vector, got %d", len(vectors))}
	}

	ids, err := r.graph.Store(ctx, []driven.GraphChunk{{
		ChunkID:     record.ID,
		SourceID:    record.SourceID,
		FilePath:    record.FilePath,
		ChunkIndex:  record.ChunkIndex,
		ContentHash: record.ContentHash,
		Text:        piece.Text,
		Summary:     piece.Summary,
	}}, vectors)
	if err != nil {
		return "", err
	}
	if len(ids) != 1 || ids[0] == "" {
		return "", &domain.PipelineError{Stage: domain.StageGraph,
			Err: fmt.Errorf("expected 1 graph node id, got %d", len(ids))}
	}

	record.GraphNodeID = ids[0]
	record.EmbeddingState = domain.EmbeddingEmbedded
	record.EmbeddedAt = r.now()
	if err := r.chunks.Save(ctx, *record); err != nil {
		return "", fmt.Errorf("save chunk: %w", err)
	}
	return ids[0], nil
}

// Reembed embeds a chunk again from its stored body. Fails with
// domain.ErrBodyUnavailable when no body is retained.
func (r *RetentionSelector) Reembed(ctx context.Context, chunkID string) error {
	record, err := r.chunks.Get(ctx, chunkID)
	if err != nil {
		return fmt.Errorf("get chunk: %w", err)
	}
	text, err := r.ReadBody(ctx, record)
	if err != nil {
		return err
	}
	piece := driven.ChunkPiece{
		Index:      record.ChunkIndex,
		Text:       text,
		TokenCount: record.TokenCount,
		Summary:    record.Summary,
	}
	if _, err := r.embedAndStore(ctx, record, piece); err != nil {
		record.EmbeddingState = domain.EmbeddingFailed
		_ = r.chunks.Save(ctx, *record)
		return err
	}
	return nil
}

// Chunk returns a chunk record.
func (r *RetentionSelector) Chunk(ctx context.Context, id string) (*domain.ChunkRecord, error) {
	return r.chunks.Get(ctx, id)
}

// ReadBody returns a chunk's text or domain.ErrBodyUnavailable.
func (r *RetentionSelector) ReadBody(ctx context.Context, chunk *domain.ChunkRecord) (string, error) {
	if r.bodies == nil || chunk.BodyKey == "" {
		return "", domain.ErrBodyUnavailable
	}
	body, err := r.bodies.Get(ctx, chunk.BodyKey)
	if err != nil {
		return "", err
	}
	return body.Text, nil
}

// RemoveFile marks the chunks of a file for downstream removal.
func (r *RetentionSelector) RemoveFile(ctx context.Context, sourceID, path string) (int, error) {
	return r.chunks.MarkRemovedByFile(ctx, sourceID, path, r.now())
}

// RemoveSource marks all chunks of a source for downstream removal.
func (r *RetentionSelector) RemoveSource(ctx context.Context, sourceID string) (int, error) {
	return r.chunks.MarkRemovedBySource(ctx, sourceID, r.now())
}

// RetireTenant marks every chunk of a tenant removed and deletes the
// retained bodies. Bodies shared by key are deleted once.
func (r *RetentionSelector) RetireTenant(ctx context.Context, tenantID string) (int, error) {
	keys, err := r.chunks.MarkRemovedByTenant(ctx, tenantID, r.now())
	if err != nil {
		return 0, fmt.Errorf("mark tenant chunks removed: %w", err)
	}
	if r.bodies == nil {
		return len(keys), nil
	}
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if err := r.bodies.Delete(ctx, key); err != nil {
			return len(keys), fmt.Errorf("delete body %s: %w", key, err)
		}
	}
	return len(keys), nil
}

// SweepExpired deletes bodies past their purge time.
func (r *RetentionSelector) SweepExpired(ctx context.Context) (int, error) {
	if r.bodies == nil {
		return 0, nil
	}
	return r.bodies.DeleteExpired(ctx, r.now())
}

// FailStalePending fails chunks pending for longer than StaleAfter.
func (r *RetentionSelector) FailStalePending(ctx context.Context) (int, error) {
	return r.chunks.FailStalePending(ctx, r.now().Add(-r.cfg.StaleAfter))
}

// Stats summarises chunk storage for a tenant.
func (r *RetentionSelector) Stats(ctx context.Context, tenantID string) (*domain.StorageStats, error) {
	return r.chunks.Stats(ctx, tenantID)
}
