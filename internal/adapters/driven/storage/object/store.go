package object

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

const (
	hourLayout    = "20060102T15"
	metaTenant    = "tenant"
	metaHash      = "content-hash"
	metaPurgeAt   = "purge-at"
	lifecycleID   = "sercha-sync-chunk-ttl"
	lifecycleSlop = 24 * time.Hour
)

// errObjectNotFound is returned by backends for missing keys.
var errObjectNotFound = errors.New("object not found")

// Backend is the subset of an S3 API the body store needs.
type Backend interface {
	// EnsureBucket creates the bucket and installs an expiration rule.
	EnsureBucket(ctx context.Context, expireAfterDays int) error

	// Put writes an object with user metadata.
	Put(ctx context.Context, key string, data []byte, meta map[string]string) error

	// Get reads an object and its user metadata.
	Get(ctx context.Context, key string) ([]byte, map[string]string, error)

	// Stat reads user metadata only.
	Stat(ctx context.Context, key string) (map[string]string, error)

	// Remove deletes an object. Missing objects are not an error.
	Remove(ctx context.Context, key string) error

	// ListPrefixes returns the common prefixes directly under prefix.
	ListPrefixes(ctx context.Context, prefix string) ([]string, error)

	// ListKeys returns every key under prefix.
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// TTLBodyStore implements driven.BodyStore on top of a Backend.
type TTLBodyStore struct {
	backend Backend
	ttl     time.Duration
	now     func() time.Time
}

var _ driven.BodyStore = (*TTLBodyStore)(nil)

// NewTTLBodyStore creates a body store. Bodies without a purge time get now+ttl.
func NewTTLBodyStore(backend Backend, ttl time.Duration) *TTLBodyStore {
	return &TTLBodyStore{backend: backend, ttl: ttl, now: time.Now}
}

// Init ensures the bucket exists with a lifecycle rule a day past the ttl.
func (s *TTLBodyStore) Init(ctx context.Context) error {
	days := int(math.Ceil((s.ttl + lifecycleSlop).Hours() / 24))
	return s.backend.EnsureBucket(ctx, days)
}

// Put writes a body under its purge-hour prefix and returns the object key.
func (s *TTLBodyStore) Put(ctx context.Context, body domain.ChunkBody) (string, error) {
	if body.PurgeAt.IsZero() {
		body.PurgeAt = s.now().Add(s.ttl)
	}
	key := body.Key
	if key == "" {
		key = objectKey(body.PurgeAt, body.TenantID, body.ContentHash)
	}
	meta := map[string]string{
		metaTenant:  body.TenantID,
		metaHash:    body.ContentHash,
		metaPurgeAt: body.PurgeAt.UTC().Format(time.RFC3339Nano),
	}
	if err := s.backend.Put(ctx, key, []byte(body.Text), meta); err != nil {
		return "", fmt.Errorf("writing chunk body: %w", err)
	}
	return key, nil
}

// Get reads a body. Missing and expired objects are unavailable.
func (s *TTLBodyStore) Get(ctx context.Context, key string) (*domain.ChunkBody, error) {
	data, meta, err := s.backend.Get(ctx, key)
	if errors.Is(err, errObjectNotFound) {
		return nil, domain.ErrBodyUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("reading chunk body: %w", err)
	}
	purgeAt := parsePurgeAt(meta)
	if !purgeAt.IsZero() && !s.now().Before(purgeAt) {
		return nil, domain.ErrBodyUnavailable
	}
	return &domain.ChunkBody{
		Key:         key,
		TenantID:    metaValue(meta, metaTenant),
		ContentHash: metaValue(meta, metaHash),
		Text:        string(data),
		PurgeAt:     purgeAt,
	}, nil
}

// Delete removes a body.
func (s *TTLBodyStore) Delete(ctx context.Context, key string) error {
	if err := s.backend.Remove(ctx, key); err != nil && !errors.Is(err, errObjectNotFound) {
		return fmt.Errorf("deleting chunk body: %w", err)
	}
	return nil
}

// DeleteExpired removes every object whose purge time is not after now.
func (s *TTLBodyStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	prefixes, err := s.backend.ListPrefixes(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("listing body prefixes: %w", err)
	}

	deleted := 0
	for _, prefix := range prefixes {
		hour, err := time.Parse(hourLayout, strings.TrimSuffix(prefix, "/"))
		if err != nil {
			continue
		}
		if hour.After(now) {
			continue
		}
		wholeHour := !hour.Add(time.Hour).After(now)

		keys, err := s.backend.ListKeys(ctx, prefix)
		if err != nil {
			return deleted, fmt.Errorf("listing bodies under %s: %w", prefix, err)
		}
		for _, key := range keys {
			if !wholeHour {
				meta, err := s.backend.Stat(ctx, key)
				if err != nil {
					continue
				}
				if purgeAt := parsePurgeAt(meta); purgeAt.After(now) {
					continue
				}
			}
			if err := s.backend.Remove(ctx, key); err != nil && !errors.Is(err, errObjectNotFound) {
				return deleted, fmt.Errorf("deleting expired body %s: %w", key, err)
			}
			deleted++
		}
	}
	return deleted, nil
}

func objectKey(purgeAt time.Time, tenantID, hash string) string {
	return purgeAt.UTC().Format(hourLayout) + "/" + tenantID + "/" + hash
}

// metaValue looks a key up case-insensitively, ignoring the x-amz-meta- prefix
// some clients keep.
func metaValue(meta map[string]string, key string) string {
	for k, v := range meta {
		k = strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-")
		if k == key {
			return v
		}
	}
	return ""
}

func parsePurgeAt(meta map[string]string) time.Time {
	raw := metaValue(meta, metaPurgeAt)
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
