package connectors

import (
	"context"
	"fmt"
	"io"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

// ReadCapped reads r up to limit bytes. It reads one byte past the limit so
// an oversized body fails with domain.ErrTooLarge instead of being truncated.
func ReadCapped(r io.Reader, limit int64, path string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", domain.ErrTooLarge, path, limit)
	}
	return data, nil
}

// Emit sends info on files unless ctx is done first.
func Emit(ctx context.Context, files chan<- domain.FileInfo, info domain.FileInfo) bool {
	select {
	case <-ctx.Done():
		return false
	case files <- info:
		return true
	}
}

// Listing creates the channel pair returned by ListFiles. The error channel
// is buffered so the final result never blocks the producer.
func Listing() (chan domain.FileInfo, chan error) {
	return make(chan domain.FileInfo), make(chan error, 1)
}
