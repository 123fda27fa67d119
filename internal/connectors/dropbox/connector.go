package dropbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"

	"github.com/custodia-labs/sercha-sync/internal/connectors"
	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// Ensure Connector implements the interfaces.
var (
	_ driven.Connector          = (*Connector)(nil)
	_ driven.ChangeLister       = (*Connector)(nil)
	_ driven.ExternalIdentifier = (*Connector)(nil)
)

// Connector syncs the files of one Dropbox account, optionally below a
// root folder.
type Connector struct {
	sourceID string
	config   *Config
	filter   *domain.FileFilter
	client   *Client
	now      func() time.Time

	mu        sync.Mutex
	accountID string
	closed    bool
}

// New creates a Dropbox connector.
func New(source domain.Source, cfg *Config, client *Client) *Connector {
	return &Connector{
		sourceID:  source.ID,
		config:    cfg,
		filter:    domain.NewFileFilter(source.Config),
		client:    client,
		accountID: cfg.AccountID,
		now:       time.Now,
	}
}

// Type returns the provider type.
func (c *Connector) Type() domain.ProviderType {
	return domain.ProviderDropbox
}

// SourceID returns the source identifier.
func (c *Connector) SourceID() string {
	return c.sourceID
}

// ExternalID returns the Dropbox account id.
func (c *Connector) ExternalID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accountID
}

// Capabilities returns the connector's capabilities.
func (c *Connector) Capabilities() driven.ConnectorCapabilities {
	return driven.ConnectorCapabilities{
		SupportsWebhooks:     true,
		SupportsPolling:      true,
		SupportsChangeFeed:   true,
		RequiresAuth:         true,
		SupportsRateLimiting: true,
	}
}

func (c *Connector) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrConnectorClosed
	}
	return nil
}

// Validate checks the token, records the account id and confirms the root
// folder exists.
func (c *Connector) Validate(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if _, err := c.account(ctx); err != nil {
		return err
	}
	if c.config.RootPath == "" {
		return nil
	}
	if _, err := c.client.ListFolder(ctx, c.config.RootPath, false); err != nil {
		return fmt.Errorf("root folder %s: %w", c.config.RootPath, err)
	}
	return nil
}

func (c *Connector) account(ctx context.Context) (string, error) {
	id, err := c.client.AccountID(ctx)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.accountID = id
	c.mu.Unlock()
	return id, nil
}

// ListFiles lists files below the root. The cursor of the last page is
// reported as the change feed cursor.
func (c *Connector) ListFiles(ctx context.Context, opts driven.ListOptions) (<-chan domain.FileInfo, <-chan error) {
	files, errs := connectors.Listing()

	go func() {
		defer close(files)
		defer close(errs)

		if err := c.checkOpen(); err != nil {
			errs <- err
			return
		}

		res, err := c.client.ListFolder(ctx, c.config.fullPath(opts.PathPrefix), opts.Recursive)
		for {
			if err != nil {
				errs <- err
				return
			}
			for _, entry := range res.Entries {
				info, ok := c.fileInfo(entry)
				if !ok || !c.filter.Allows(info.Path, info.SizeBytes) {
					continue
				}
				if !connectors.Emit(ctx, files, info) {
					return
				}
			}
			if !res.HasMore {
				break
			}
			res, err = c.client.ListFolderContinue(ctx, res.Cursor)
		}

		errs <- &driven.SyncComplete{NewCursor: res.Cursor}
	}()

	return files, errs
}

func (c *Connector) fileInfo(entry files.IsMetadata) (domain.FileInfo, bool) {
	file, ok := entry.(*files.FileMetadata)
	if !ok {
		return domain.FileInfo{}, false
	}
	path, ok := c.config.relPath(file.PathDisplay, file.PathLower)
	if !ok || path == "" {
		return domain.FileInfo{}, false
	}
	return domain.FileInfo{
		Path:         path,
		SizeBytes:    int64(file.Size),
		ContentHash:  file.ContentHash,
		LastModified: file.ServerModified,
	}, true
}

// GetFileContent downloads one file, capped at the source's maximum file
// size.
func (c *Connector) GetFileContent(ctx context.Context, path string) ([]byte, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	meta, body, err := c.client.Download(ctx, c.config.fullPath(path))
	if err != nil {
		return nil, err
	}
	defer body.Close()
	if meta != nil && int64(meta.Size) > c.config.MaxFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", domain.ErrTooLarge, path, meta.Size)
	}
	return connectors.ReadCapped(body, c.config.MaxFileSize, path)
}

// SetupWebhook returns a poll handle keyed by the account id. Dropbox
// webhooks are registered once per app, outside any source.
func (c *Connector) SetupWebhook(ctx context.Context, callbackURL string) (*domain.WebhookHandle, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	id := c.ExternalID()
	if id == "" {
		var err error
		if id, err = c.account(ctx); err != nil {
			return nil, err
		}
	}
	return &domain.WebhookHandle{
		ID:          id,
		Kind:        domain.WebhookPoll,
		CallbackURL: callbackURL,
		CreatedAt:   c.now(),
	}, nil
}

// ListChanges reads list_folder/continue from cursor until the feed is
// drained. A reset or malformed cursor fails with domain.ErrCursorInvalid.
// Deleting a folder reports only the folder path; the files below it are
// reconciled by the next full sync.
func (c *Connector) ListChanges(ctx context.Context, cursor string) ([]domain.FileChange, string, error) {
	if err := c.checkOpen(); err != nil {
		return nil, "", err
	}
	if cursor == "" {
		return nil, "", fmt.Errorf("%w: empty dropbox cursor", domain.ErrCursorInvalid)
	}

	at := c.now()
	var changes []domain.FileChange
	for {
		res, err := c.client.ListFolderContinue(ctx, cursor)
		if err != nil {
			var pe *domain.ProviderError
			if errors.As(err, &pe) && pe.StatusCode == http.StatusBadRequest {
				return nil, "", fmt.Errorf("%w: %w", domain.ErrCursorInvalid, err)
			}
			return nil, "", err
		}
		for _, entry := range res.Entries {
			if change, ok := c.change(entry); ok {
				change.Sequence = connectors.Sequence(at, len(changes))
				changes = append(changes, change)
			}
		}
		cursor = res.Cursor
		if !res.HasMore {
			break
		}
	}

	for i := range changes {
		changes[i].Cursor = cursor
	}
	return changes, cursor, nil
}

func (c *Connector) change(entry files.IsMetadata) (domain.FileChange, bool) {
	switch e := entry.(type) {
	case *files.FileMetadata:
		path, ok := c.config.relPath(e.PathDisplay, e.PathLower)
		if !ok || path == "" {
			return domain.FileChange{}, false
		}
		return domain.FileChange{Path: path, Kind: domain.ChangeModified}, true
	case *files.DeletedMetadata:
		path, ok := c.config.relPath(e.PathDisplay, e.PathLower)
		if !ok || path == "" {
			return domain.FileChange{}, false
		}
		return domain.FileChange{Path: path, Kind: domain.ChangeRemoved}, true
	}
	return domain.FileChange{}, false
}

// Close releases resources.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Builder returns a driven.ConnectorBuilder for Dropbox sources.
// timeout bounds each API request.
func Builder(timeout time.Duration) driven.ConnectorBuilder {
	return func(source domain.Source, tokenProvider driven.TokenProvider) (driven.Connector, error) {
		cfg, err := ParseConfig(source)
		if err != nil {
			return nil, err
		}
		if tokenProvider == nil {
			return nil, fmt.Errorf("%w: dropbox needs a credential", domain.ErrAuth)
		}
		ts := connectors.NewTokenSource(context.Background(), tokenProvider)
		return New(source, cfg, NewClient(ts, cfg.APIURL, timeout)), nil
	}
}
