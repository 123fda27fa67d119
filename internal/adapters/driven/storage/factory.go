// Package storage selects storage backends from configuration.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/custodia-labs/sercha-sync/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/sercha-sync/internal/adapters/driven/storage/object"
	"github.com/custodia-labs/sercha-sync/internal/adapters/driven/storage/postgres"
	"github.com/custodia-labs/sercha-sync/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// BuildJobQueue returns the queue named by dsn.
// An empty dsn, "sqlite" or "sqlite://" uses the local store.
func BuildJobQueue(dsn string, opts driven.QueueOptions, local *sqlite.Store) (driven.JobQueue, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return localQueue(local, opts)
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: queue dsn: %v", domain.ErrInvalidInput, err)
	}

	switch scheme := strings.ToLower(parsed.Scheme); scheme {
	case "memory", "mem", "inmem":
		return memory.NewJobQueue(opts), nil
	case "", "sqlite", "file":
		path := dsnPath(parsed, dsn)
		if path == "" || (local != nil && path == local.Path()) {
			return localQueue(local, opts)
		}
		store, err := sqlite.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening queue database: %w", err)
		}
		return &ownedQueue{JobQueue: store.JobQueue(opts), store: store}, nil
	case "postgres", "postgresql":
		return postgres.NewJobQueue(dsn, opts)
	default:
		return nil, fmt.Errorf("%w: queue scheme %q", domain.ErrUnsupportedType, scheme)
	}
}

func localQueue(local *sqlite.Store, opts driven.QueueOptions) (driven.JobQueue, error) {
	if local == nil {
		return nil, fmt.Errorf("%w: no local store for sqlite queue", domain.ErrInvalidInput)
	}
	return local.JobQueue(opts), nil
}

// ownedQueue closes the database it opened for the queue.
type ownedQueue struct {
	*sqlite.JobQueue
	store *sqlite.Store
}

func (q *ownedQueue) Close() error {
	_ = q.JobQueue.Close()
	return q.store.Close()
}

func dsnPath(parsed *url.URL, raw string) string {
	if parsed.Scheme == "" {
		return raw
	}
	path := parsed.Opaque
	if path == "" {
		path = parsed.Host + parsed.Path
	}
	return strings.TrimSpace(path)
}

// BodyStoreConfig selects the body store of a retention tier.
type BodyStoreConfig struct {
	Mode domain.RetentionMode

	// TTL applies to ttl-store bodies.
	TTL time.Duration

	// Backend is minio, s3 or memory for ttl-store; sqlite or postgres for
	// full-persistence.
	Backend string

	MinIO       object.MinIOConfig
	S3          object.S3Config
	PostgresDSN string
}

// BuildBodyStore returns the body store for the configured tier.
// The ephemeral tier has no store and returns nil.
func BuildBodyStore(ctx context.Context, cfg BodyStoreConfig, local *sqlite.Store) (driven.BodyStore, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))

	switch cfg.Mode {
	case domain.RetentionEphemeral, "":
		return nil, nil

	case domain.RetentionTTLStore:
		var b object.Backend
		switch backend {
		case "", "minio":
			mb, err := object.NewMinIOBackend(cfg.MinIO)
			if err != nil {
				return nil, err
			}
			b = mb
		case "s3", "aws":
			sb, err := object.NewS3Backend(ctx, cfg.S3)
			if err != nil {
				return nil, err
			}
			b = sb
		case "memory":
			store := memory.NewBodyStore()
			return &ttlMemory{BodyStore: store, ttl: cfg.TTL}, nil
		default:
			return nil, fmt.Errorf("%w: ttl-store backend %q", domain.ErrUnsupportedType, backend)
		}
		store := object.NewTTLBodyStore(b, cfg.TTL)
		if err := store.Init(ctx); err != nil {
			return nil, fmt.Errorf("initialising body bucket: %w", err)
		}
		return store, nil

	case domain.RetentionFullPersistence:
		switch backend {
		case "", "sqlite":
			if local == nil {
				return nil, fmt.Errorf("%w: no local store for body persistence", domain.ErrInvalidInput)
			}
			return local.BodyStore(), nil
		case "postgres", "postgresql":
			return postgres.NewBodyStore(cfg.PostgresDSN)
		case "memory":
			return memory.NewBodyStore(), nil
		default:
			return nil, fmt.Errorf("%w: full-persistence backend %q", domain.ErrUnsupportedType, backend)
		}

	default:
		return nil, fmt.Errorf("%w: retention mode %q", domain.ErrInvalidInput, cfg.Mode)
	}
}

// ttlMemory stamps a purge time on bodies written to the in-memory store.
type ttlMemory struct {
	*memory.BodyStore
	ttl time.Duration
}

func (s *ttlMemory) Put(ctx context.Context, body domain.ChunkBody) (string, error) {
	if body.PurgeAt.IsZero() && s.ttl > 0 {
		body.PurgeAt = time.Now().Add(s.ttl)
	}
	return s.BodyStore.Put(ctx, body)
}
