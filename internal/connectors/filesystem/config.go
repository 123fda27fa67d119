package filesystem

import (
	"fmt"
	"path/filepath"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

// Config holds the parsed configuration for a local source.
type Config struct {
	// RootPath is the absolute, cleaned directory that is synced.
	RootPath string

	// MaxFileSize caps read content.
	MaxFileSize int64
}

// ParseConfig reads a source's settings into a Config.
func ParseConfig(source domain.Source) (*Config, error) {
	root := source.Setting("root_path", source.Setting("path", ""))
	if root == "" {
		return nil, fmt.Errorf("%w: local root_path is required", domain.ErrInvalidInput)
	}
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("%w: local root_path %q must be absolute", domain.ErrInvalidInput, root)
	}
	return &Config{
		RootPath:    filepath.Clean(root),
		MaxFileSize: source.Config.EffectiveMaxFileSize(),
	}, nil
}
