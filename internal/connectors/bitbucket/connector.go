package bitbucket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-sync/internal/connectors"
	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

var (
	_ driven.Connector          = (*Connector)(nil)
	_ driven.ChangeLister       = (*Connector)(nil)
	_ driven.WebhookRemover     = (*Connector)(nil)
	_ driven.ExternalIdentifier = (*Connector)(nil)
)

// Connector syncs the files of one Bitbucket repository.
type Connector struct {
	sourceID string
	config   *Config
	filter   *domain.FileFilter
	client   *Client
	now      func() time.Time

	mu     sync.Mutex
	branch string
	closed bool
}

// New creates a Bitbucket connector.
func New(source domain.Source, cfg *Config, client *Client) *Connector {
	return &Connector{
		sourceID: source.ID,
		config:   cfg,
		filter:   domain.NewFileFilter(source.Config),
		client:   client,
		branch:   cfg.Branch,
		now:      time.Now,
	}
}

// Type returns the provider type.
func (c *Connector) Type() domain.ProviderType {
	return domain.ProviderBitbucket
}

// SourceID returns the source identifier.
func (c *Connector) SourceID() string {
	return c.sourceID
}

// ExternalID returns workspace/slug.
func (c *Connector) ExternalID() string {
	return c.config.FullName()
}

// Capabilities returns the connector's capabilities.
func (c *Connector) Capabilities() driven.ConnectorCapabilities {
	return driven.ConnectorCapabilities{
		SupportsWebhooks:     true,
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

// Validate checks the token, the repository and the branch.
func (c *Connector) Validate(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := c.client.CurrentUser(ctx); err != nil {
		return err
	}
	_, err := c.head(ctx)
	return err
}

func (c *Connector) resolveBranch(ctx context.Context) (string, error) {
	c.mu.Lock()
	branch := c.branch
	c.mu.Unlock()
	if branch != "" {
		return branch, nil
	}

	repo, err := c.client.GetRepository(ctx, c.config.Workspace, c.config.Repo)
	if err != nil {
		return "", fmt.Errorf("get repository %s: %w", c.config.FullName(), err)
	}
	branch = repo.MainBranch.Name
	if branch == "" {
		branch = "main"
	}

	c.mu.Lock()
	c.branch = branch
	c.mu.Unlock()
	return branch, nil
}

func (c *Connector) head(ctx context.Context) (*Commit, error) {
	branch, err := c.resolveBranch(ctx)
	if err != nil {
		return nil, err
	}
	commit, err := c.client.BranchHead(ctx, c.config.Workspace, c.config.Repo, branch)
	if err != nil {
		return nil, fmt.Errorf("branch %s: %w", branch, err)
	}
	return commit, nil
}

// ListFiles walks the src tree at the branch head, breadth first. The head
// commit hash is reported as the cursor.
func (c *Connector) ListFiles(ctx context.Context, opts driven.ListOptions) (<-chan domain.FileInfo, <-chan error) {
	files, errs := connectors.Listing()

	go func() {
		defer close(files)
		defer close(errs)

		if err := c.checkOpen(); err != nil {
			errs <- err
			return
		}
		head, err := c.head(ctx)
		if err != nil {
			errs <- err
			return
		}

		dirs := []string{strings.Trim(opts.PathPrefix, "/")}
		for len(dirs) > 0 {
			dir := dirs[0]
			dirs = dirs[1:]
			stopped := false
			err := c.client.ListDirectory(ctx, c.config.Workspace, c.config.Repo, head.Hash, dir, func(entries []SrcEntry) bool {
				for _, e := range entries {
					switch e.Type {
					case "commit_directory":
						if opts.Recursive {
							dirs = append(dirs, e.Path)
						}
					case "commit_file":
						if !c.filter.Allows(e.Path, e.Size) {
							continue
						}
						if !connectors.Emit(ctx, files, domain.FileInfo{Path: e.Path, SizeBytes: e.Size}) {
							stopped = true
							return false
						}
					}
				}
				return true
			})
			if err != nil {
				errs <- fmt.Errorf("list %q: %w", dir, err)
				return
			}
			if stopped {
				return
			}
		}

		errs <- &driven.SyncComplete{NewCursor: head.Hash}
	}()

	return files, errs
}

// GetFileContent downloads one file from the branch.
func (c *Connector) GetFileContent(ctx context.Context, path string) ([]byte, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	branch, err := c.resolveBranch(ctx)
	if err != nil {
		return nil, err
	}
	body, err := c.client.RawFile(ctx, c.config.Workspace, c.config.Repo, branch, path)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return connectors.ReadCapped(body, c.config.MaxFileSize, path)
}

// SetupWebhook registers a repo:push webhook, reusing one with the same URL.
func (c *Connector) SetupWebhook(ctx context.Context, callbackURL string) (*domain.WebhookHandle, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if callbackURL == "" {
		return nil, fmt.Errorf("%w: bitbucket webhooks need a callback url", domain.ErrInvalidInput)
	}
	if c.config.Secret == "" {
		return nil, fmt.Errorf("%w: bitbucket webhooks need a secret", domain.ErrInvalidInput)
	}

	hooks, err := c.client.ListHooks(ctx, c.config.Workspace, c.config.Repo)
	if err != nil {
		return nil, fmt.Errorf("list hooks: %w", err)
	}
	for i := range hooks {
		if hooks[i].URL == callbackURL {
			return c.handle(&hooks[i], callbackURL), nil
		}
	}

	hook, err := c.client.CreateHook(ctx, c.config.Workspace, c.config.Repo, callbackURL, c.config.Secret)
	if err != nil {
		return nil, fmt.Errorf("create hook: %w", err)
	}
	return c.handle(hook, callbackURL), nil
}

func (c *Connector) handle(hook *Hook, callbackURL string) *domain.WebhookHandle {
	created := hook.CreatedAt
	if created.IsZero() {
		created = c.now()
	}
	return &domain.WebhookHandle{
		ID:          hook.UUID,
		Kind:        domain.WebhookPush,
		CallbackURL: callbackURL,
		CreatedAt:   created,
	}
}

// RemoveWebhook deletes the hook. A hook that is already gone is not an error.
func (c *Connector) RemoveWebhook(ctx context.Context, handle domain.WebhookHandle) error {
	if handle.ID == "" {
		return fmt.Errorf("%w: bitbucket hook id is empty", domain.ErrInvalidInput)
	}
	err := c.client.DeleteHook(ctx, c.config.Workspace, c.config.Repo, handle.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("delete hook %s: %w", handle.ID, err)
	}
	return nil
}

// ListChanges reads the diffstat between cursor and the branch head.
func (c *Connector) ListChanges(ctx context.Context, cursor string) ([]domain.FileChange, string, error) {
	if err := c.checkOpen(); err != nil {
		return nil, "", err
	}
	head, err := c.head(ctx)
	if err != nil {
		return nil, "", err
	}
	if head.Hash == cursor {
		return nil, head.Hash, nil
	}

	stats, err := c.client.DiffStat(ctx, c.config.Workspace, c.config.Repo, cursor, head.Hash)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, "", fmt.Errorf("%w: commit %s: %w", domain.ErrCursorInvalid, cursor, err)
		}
		return nil, "", fmt.Errorf("diffstat %s..%s: %w", head.Hash, cursor, err)
	}

	changes := make([]domain.FileChange, 0, len(stats))
	add := func(path string, kind domain.ChangeKind) {
		if path == "" {
			return
		}
		changes = append(changes, domain.FileChange{
			Path:     path,
			Kind:     kind,
			Sequence: connectors.Sequence(head.Date, len(changes)),
			Cursor:   head.Hash,
		})
	}
	for _, s := range stats {
		oldPath, newPath := "", ""
		if s.Old != nil {
			oldPath = s.Old.Path
		}
		if s.New != nil {
			newPath = s.New.Path
		}
		switch s.Status {
		case "added":
			add(newPath, domain.ChangeAdded)
		case "removed":
			add(oldPath, domain.ChangeRemoved)
		case "renamed":
			add(oldPath, domain.ChangeRemoved)
			add(newPath, domain.ChangeAdded)
		default:
			add(newPath, domain.ChangeModified)
		}
	}
	return changes, head.Hash, nil
}

// Close releases resources.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Builder returns a driven.ConnectorBuilder for Bitbucket sources.
func Builder(timeout time.Duration) driven.ConnectorBuilder {
	return func(source domain.Source, tokenProvider driven.TokenProvider) (driven.Connector, error) {
		cfg, err := ParseConfig(source)
		if err != nil {
			return nil, err
		}
		return New(source, cfg, NewClient(tokenProvider, cfg.APIURL, cfg.Username, timeout)), nil
	}
}
