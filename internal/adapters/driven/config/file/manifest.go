package file

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// Ensure SourceManifest implements the interface.
var _ driven.SourceManifest = (*SourceManifest)(nil)

// SourceManifest reads declared sources from a TOML or YAML file.
// The format is chosen by extension.
type SourceManifest struct {
	filePath string
}

// NewSourceManifest creates a manifest reader for path.
func NewSourceManifest(path string) *SourceManifest {
	return &SourceManifest{filePath: path}
}

// manifestFile is the on-disk layout:
//
//	[[sources]]
//	id = "api"
//	provider = "github"
//	exclude = ["vendor/**"]
//	[sources.settings]
//	repository = "acme/api"
type manifestFile struct {
	Sources []manifestSource `toml:"sources" yaml:"sources"`
}

type manifestSource struct {
	ID            string            `toml:"id" yaml:"id"`
	Name          string            `toml:"name" yaml:"name"`
	Provider      string            `toml:"provider" yaml:"provider"`
	TenantID      string            `toml:"tenant_id" yaml:"tenant_id"`
	UserID        string            `toml:"user_id" yaml:"user_id"`
	Branch        string            `toml:"branch" yaml:"branch"`
	Include       []string          `toml:"include" yaml:"include"`
	Exclude       []string          `toml:"exclude" yaml:"exclude"`
	Languages     []string          `toml:"languages" yaml:"languages"`
	MaxFileSizeMB int64             `toml:"max_file_size_mb" yaml:"max_file_size_mb"`
	WebhookSecret string            `toml:"webhook_secret" yaml:"webhook_secret"`
	Settings      map[string]string `toml:"settings" yaml:"settings"`
}

// Load reads and validates the declared sources. A missing file declares
// nothing.
func (m *SourceManifest) Load() ([]domain.Source, error) {
	data, err := os.ReadFile(m.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var file manifestFile
	switch ext := strings.ToLower(filepath.Ext(m.filePath)); ext {
	case ".toml":
		err = toml.Unmarshal(data, &file)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	default:
		return nil, fmt.Errorf("%w: manifest format %q", domain.ErrUnsupportedType, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parse manifest %s: %v", domain.ErrInvalidInput, m.filePath, err)
	}

	seen := make(map[string]bool, len(file.Sources))
	sources := make([]domain.Source, 0, len(file.Sources))
	for i, entry := range file.Sources {
		src, err := entry.source()
		if err != nil {
			return nil, fmt.Errorf("manifest source %d: %w", i+1, err)
		}
		if seen[src.ID] {
			return nil, fmt.Errorf("%w: duplicate source id %q", domain.ErrInvalidInput, src.ID)
		}
		seen[src.ID] = true
		sources = append(sources, src)
	}
	return sources, nil
}

// Path returns the manifest file path.
func (m *SourceManifest) Path() string {
	return m.filePath
}

func (e manifestSource) source() (domain.Source, error) {
	if e.ID == "" {
		return domain.Source{}, fmt.Errorf("%w: id is required", domain.ErrInvalidInput)
	}
	provider, err := domain.ParseProviderType(e.Provider)
	if err != nil {
		return domain.Source{}, err
	}
	name := e.Name
	if name == "" {
		name = e.ID
	}
	return domain.Source{
		ID:       e.ID,
		Name:     name,
		Provider: provider,
		TenantID: e.TenantID,
		UserID:   e.UserID,
		Config: domain.SourceConfig{
			IncludePaths:     e.Include,
			ExcludePaths:     e.Exclude,
			Languages:        e.Languages,
			Branch:           e.Branch,
			MaxFileSizeBytes: e.MaxFileSizeMB * 1024 * 1024,
			WebhookSecret:    e.WebhookSecret,
			Settings:         e.Settings,
		},
	}, nil
}
