package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-sync/internal/logger"
)

// fileOutcome is what happened to one file.
type fileOutcome int

const (
	outcomeProcessed fileOutcome = iota
	outcomeUnchanged
	outcomeSkipped
	outcomeDeleted
)

// FileProcessor runs one file through fetch, normalise, chunk and
// retention, then records it.
type FileProcessor struct {
	files      driven.FileStore
	retention  *RetentionSelector
	normaliser driven.Normaliser
	chunker    driven.Chunker
	now        func() time.Time
}

// NewFileProcessor creates a file processor.
func NewFileProcessor(
	files driven.FileStore,
	retention *RetentionSelector,
	normaliser driven.Normaliser,
	chunker driven.Chunker,
) *FileProcessor {
	return &FileProcessor{
		files:      files,
		retention:  retention,
		normaliser: normaliser,
		chunker:    chunker,
		now:        time.Now,
	}
}

// Process fetches and indexes one file. seq is the change ordinal to record,
// zero for full syncs. Unless force is set, files whose content hash is
// unchanged make no pipeline calls. A file that disappeared upstream is
// deleted.
func (p *FileProcessor) Process(
	ctx context.Context,
	source *domain.Source,
	conn driven.Connector,
	info domain.FileInfo,
	seq int64,
	force bool,
) (fileOutcome, error) {
	existing, err := p.files.Get(ctx, source.ID, info.Path)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return 0, fmt.Errorf("get file record: %w", err)
	}

	// Provider hashes (git blob SHA, Dropbox content hash) let unchanged
	// files skip the download.
	if !force && existing != nil && info.ContentHash != "" && existing.ProviderHash == info.ContentHash {
		return outcomeUnchanged, p.recordSequence(ctx, source.ID, info.Path, seq)
	}

	content, err := conn.GetFileContent(ctx, info.Path)
	if errors.Is(err, domain.ErrNotFound) {
		return outcomeDeleted, p.Delete(ctx, source.ID, info.Path, seq)
	}
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", info.Path, err)
	}

	hash := domain.HashContent(content)
	language := domain.LanguageForPath(info.Path)
	record := domain.FileRecord{
		SourceID:      source.ID,
		Path:          info.Path,
		ContentHash:   hash,
		ProviderHash:  info.ContentHash,
		SizeBytes:     int64(len(content)),
		Language:      language,
		LastModified:  info.LastModified,
		LastIndexedAt: p.now(),
		Sequence:      seq,
	}
	if !force && existing != nil && existing.ContentHash == hash {
		if err := p.files.Upsert(ctx, record); err != nil {
			return 0, fmt.Errorf("update file record: %w", err)
		}
		return outcomeUnchanged, p.recordSequence(ctx, source.ID, info.Path, seq)
	}

	normalised, err := p.normaliser.Normalise(ctx, driven.NormaliseRequest{
		Content:  string(content),
		Language: language,
		Path:     info.Path,
	})
	if err != nil {
		return 0, fmt.Errorf("normalise %s: %w", info.Path, err)
	}

	pieces, err := p.chunker.Chunk(ctx, driven.ChunkRequest{
		NormalizedText: normalised.NormalizedText,
		SourceMeta: map[string]string{
			"source_id": source.ID,
			"tenant_id": source.TenantID,
			"provider":  string(source.Provider),
			"path":      info.Path,
			"language":  language,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("chunk %s: %w", info.Path, err)
	}

	embeds, err := p.retention.StoreChunks(ctx, source, info.Path, pieces)
	if err != nil {
		return 0, fmt.Errorf("store chunks for %s: %w", info.Path, err)
	}

	if err := p.files.Upsert(ctx, record); err != nil {
		return 0, fmt.Errorf("save file record: %w", err)
	}
	logger.CtxDebug(ctx, "indexed %s: %d chunks, %d embedded", info.Path, len(pieces), embeds)
	return outcomeProcessed, p.recordSequence(ctx, source.ID, info.Path, seq)
}

// Delete removes a file record and marks its chunks for removal.
func (p *FileProcessor) Delete(ctx context.Context, sourceID, path string, seq int64) error {
	if err := p.files.Delete(ctx, sourceID, path); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("delete file record: %w", err)
	}
	if _, err := p.retention.RemoveFile(ctx, sourceID, path); err != nil {
		return fmt.Errorf("remove chunks: %w", err)
	}
	return p.recordSequence(ctx, sourceID, path, seq)
}

func (p *FileProcessor) recordSequence(ctx context.Context, sourceID, path string, seq int64) error {
	if seq <= 0 {
		return nil
	}
	if err := p.files.SetSequence(ctx, sourceID, path, seq); err != nil {
		return fmt.Errorf("record sequence: %w", err)
	}
	return nil
}
