package object

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
)

// MinIOConfig holds configuration for the MinIO backend.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// MinIOBackend implements Backend with minio-go.
type MinIOBackend struct {
	client *minio.Client
	bucket string
}

var _ Backend = (*MinIOBackend)(nil)

// NewMinIOBackend creates a MinIO client. No request is made until first use.
func NewMinIOBackend(cfg MinIOConfig) (*MinIOBackend, error) {
	client, err := minio.New(normalizeEndpoint(cfg.Endpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &MinIOBackend{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket if needed and sets the expiration rule.
func (b *MinIOBackend) EnsureBucket(ctx context.Context, expireAfterDays int) error {
	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	cfg := lifecycle.NewConfiguration()
	cfg.Rules = []lifecycle.Rule{{
		ID:         lifecycleID,
		Status:     "Enabled",
		RuleFilter: lifecycle.Filter{Prefix: ""},
		Expiration: lifecycle.Expiration{Days: lifecycle.ExpirationDays(expireAfterDays)},
	}}
	if err := b.client.SetBucketLifecycle(ctx, b.bucket, cfg); err != nil {
		return fmt.Errorf("failed to set bucket lifecycle: %w", err)
	}
	return nil
}

// Put uploads an object.
func (b *MinIOBackend) Put(ctx context.Context, key string, data []byte, meta map[string]string) error {
	_, err := b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  "text/plain; charset=utf-8",
		UserMetadata: meta,
	})
	if err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}
	return nil
}

// Get downloads an object.
func (b *MinIOBackend) Get(ctx context.Context, key string) ([]byte, map[string]string, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, classifyMinioError(err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, nil, classifyMinioError(err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, nil, classifyMinioError(err)
	}
	return data, info.UserMetadata, nil
}

// Stat returns an object's user metadata.
func (b *MinIOBackend) Stat(ctx context.Context, key string) (map[string]string, error) {
	info, err := b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, classifyMinioError(err)
	}
	return info.UserMetadata, nil
}

// Remove deletes an object.
func (b *MinIOBackend) Remove(ctx context.Context, key string) error {
	if err := b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return classifyMinioError(err)
	}
	return nil
}

// ListPrefixes lists common prefixes one level below prefix.
func (b *MinIOBackend) ListPrefixes(ctx context.Context, prefix string) ([]string, error) {
	return b.list(ctx, prefix, false)
}

// ListKeys lists all keys under prefix.
func (b *MinIOBackend) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	return b.list(ctx, prefix, true)
}

func (b *MinIOBackend) list(ctx context.Context, prefix string, recursive bool) ([]string, error) {
	var keys []string
	for info := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: recursive,
	}) {
		if info.Err != nil {
			return nil, classifyMinioError(info.Err)
		}
		keys = append(keys, info.Key)
	}
	return keys, nil
}

func classifyMinioError(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject":
		return fmt.Errorf("%w: %v", errObjectNotFound, err)
	default:
		return err
	}
}
