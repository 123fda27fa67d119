package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-sync/internal/connectors"
	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// Ensure Connector implements the interfaces.
var (
	_ driven.Connector          = (*Connector)(nil)
	_ driven.Watcher            = (*Connector)(nil)
	_ driven.ExternalIdentifier = (*Connector)(nil)
)

// Connector syncs the files below one local directory.
type Connector struct {
	sourceID string
	config   *Config
	filter   *domain.FileFilter
	now      func() time.Time

	mu     sync.Mutex
	seq    int
	closed bool
}

// New creates a local connector.
func New(source domain.Source, cfg *Config) *Connector {
	return &Connector{
		sourceID: source.ID,
		config:   cfg,
		filter:   domain.NewFileFilter(source.Config),
		now:      time.Now,
	}
}

// Type returns the provider type.
func (c *Connector) Type() domain.ProviderType {
	return domain.ProviderLocal
}

// SourceID returns the source identifier.
func (c *Connector) SourceID() string {
	return c.sourceID
}

// ExternalID returns the root path.
func (c *Connector) ExternalID() string {
	return c.config.RootPath
}

// Capabilities returns the connector's capabilities.
func (c *Connector) Capabilities() driven.ConnectorCapabilities {
	return driven.ConnectorCapabilities{
		SupportsWatch: true,
	}
}

func (c *Connector) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%w: local connector closed", domain.ErrConnectorClosed)
	}
	return nil
}

// Validate checks that the root exists and is a directory.
func (c *Connector) Validate(_ context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.checkRoot()
}

func (c *Connector) checkRoot() error {
	info, err := os.Stat(c.config.RootPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: root path error: %s does not exist", domain.ErrNotFound, c.config.RootPath)
		}
		return fmt.Errorf("root path error: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: root path error: %s is not a directory", domain.ErrInvalidInput, c.config.RootPath)
	}
	return nil
}

// ListFiles walks the tree below the root. Hidden entries and symlinks are
// skipped. The walk start time is reported as the cursor.
func (c *Connector) ListFiles(ctx context.Context, opts driven.ListOptions) (<-chan domain.FileInfo, <-chan error) {
	files, errs := connectors.Listing()

	go func() {
		defer close(files)
		defer close(errs)

		if err := c.checkOpen(); err != nil {
			errs <- err
			return
		}
		if err := c.checkRoot(); err != nil {
			errs <- err
			return
		}

		started := c.now()
		start, err := c.abs(opts.PathPrefix)
		if err != nil {
			errs <- err
			return
		}

		walkErr := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if p == start {
					return err
				}
				// Unreadable entries are skipped, not fatal.
				return nil
			}
			if p != start && isHidden(d.Name()) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				if p != start && !opts.Recursive {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			rel := c.rel(p)
			if !c.filter.Allows(rel, info.Size()) {
				return nil
			}
			if !connectors.Emit(ctx, files, domain.FileInfo{
				Path:         rel,
				SizeBytes:    info.Size(),
				LastModified: info.ModTime(),
			}) {
				return ctx.Err()
			}
			return nil
		})
		if walkErr != nil {
			if ctx.Err() == nil {
				errs <- fmt.Errorf("walk %s: %w", start, walkErr)
			}
			return
		}

		errs <- &driven.SyncComplete{NewCursor: started.UTC().Format(time.RFC3339Nano)}
	}()

	return files, errs
}

// abs resolves a source-relative path. Paths escaping the root are rejected.
func (c *Connector) abs(rel string) (string, error) {
	rel = filepath.FromSlash(strings.TrimPrefix(rel, "/"))
	p := filepath.Join(c.config.RootPath, rel)
	if p != c.config.RootPath && !strings.HasPrefix(p, c.config.RootPath+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s escapes the root", domain.ErrInvalidInput, rel)
	}
	return p, nil
}

// rel returns the slash-separated path of p relative to the root.
func (c *Connector) rel(p string) string {
	r, err := filepath.Rel(c.config.RootPath, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(r)
}

// GetFileContent reads one file, capped at the source's maximum file size.
func (c *Connector) GetFileContent(_ context.Context, path string) ([]byte, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	p, err := c.abs(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, path)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", domain.ErrNotFound, path)
	}
	if info.Size() > c.config.MaxFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", domain.ErrTooLarge, path, info.Size())
	}
	return connectors.ReadCapped(f, c.config.MaxFileSize, path)
}

// SetupWebhook returns a watch handle. Changes arrive through Watch.
func (c *Connector) SetupWebhook(_ context.Context, _ string) (*domain.WebhookHandle, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return &domain.WebhookHandle{
		ID:        c.config.RootPath,
		Kind:      domain.WebhookWatch,
		CreatedAt: c.now(),
	}, nil
}

// ValidateWebhook rejects every request: local sources receive none.
func (c *Connector) ValidateWebhook(*domain.WebhookRequest) bool {
	return false
}

// ParseWebhook returns no changes.
func (c *Connector) ParseWebhook(*domain.WebhookRequest) []domain.FileChange {
	return nil
}

// Close releases resources. Running watches stop when their context ends.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// isHidden reports whether a path has a component starting with a dot.
// "." and ".." are not hidden.
func isHidden(p string) bool {
	for _, part := range strings.Split(filepath.ToSlash(p), "/") {
		if len(part) > 1 && part[0] == '.' && part != ".." {
			return true
		}
	}
	return false
}

// Builder returns a driven.ConnectorBuilder for local sources. The token
// provider is ignored.
func Builder() driven.ConnectorBuilder {
	return func(source domain.Source, _ driven.TokenProvider) (driven.Connector, error) {
		cfg, err := ParseConfig(source)
		if err != nil {
			return nil, err
		}
		return New(source, cfg), nil
	}
}
