package driven

import "github.com/custodia-labs/sercha-sync/internal/core/domain"

// SourceManifest provides sources declared in configuration.
// Declared sources are connected at startup when they do not exist yet.
type SourceManifest interface {
	// Load reads the declared sources.
	Load() ([]domain.Source, error)

	// Path returns the manifest file path.
	Path() string
}
