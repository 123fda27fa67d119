package gitlab

import (
	"context"
	"errors"
	"fmt"
	"strconv"
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

// Connector syncs the files of one GitLab project.
type Connector struct {
	sourceID string
	config   *Config
	filter   *domain.FileFilter
	client   *Client
	now      func() time.Time

	mu     sync.Mutex
	branch string
	path   string
	closed bool
}

// New creates a GitLab connector.
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
	return domain.ProviderGitLab
}

// SourceID returns the source identifier.
func (c *Connector) SourceID() string {
	return c.sourceID
}

// ExternalID returns the project path with namespace. A numeric project
// setting is resolved to its path by Validate.
func (c *Connector) ExternalID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.path != "" {
		return c.path
	}
	return c.config.Project
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

// Validate checks the token, the project and the branch.
func (c *Connector) Validate(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := c.client.CurrentUser(ctx); err != nil {
		return err
	}
	branch, err := c.resolveBranch(ctx)
	if err != nil {
		return err
	}
	if _, err := c.client.GetBranch(ctx, c.config.Project, branch); err != nil {
		return fmt.Errorf("branch %s: %w", branch, err)
	}
	return nil
}

// resolveBranch returns the configured branch or the project default. The
// project lookup also records the canonical project path.
func (c *Connector) resolveBranch(ctx context.Context) (string, error) {
	c.mu.Lock()
	branch, path := c.branch, c.path
	c.mu.Unlock()
	if branch != "" && path != "" {
		return branch, nil
	}

	project, err := c.client.GetProject(ctx, c.config.Project)
	if err != nil {
		return "", fmt.Errorf("get project %s: %w", c.config.Project, err)
	}
	if branch == "" {
		branch = project.DefaultBranch
	}
	if branch == "" {
		branch = "main"
	}

	c.mu.Lock()
	c.branch = branch
	c.path = project.PathWithNamespace
	c.mu.Unlock()
	return branch, nil
}

func (c *Connector) head(ctx context.Context) (string, error) {
	branch, err := c.resolveBranch(ctx)
	if err != nil {
		return "", err
	}
	b, err := c.client.GetBranch(ctx, c.config.Project, branch)
	if err != nil {
		return "", fmt.Errorf("resolve %s head: %w", branch, err)
	}
	return b.Commit.ID, nil
}

// ListFiles walks the repository tree at the branch head. The head commit
// id is reported as the cursor. The tree API carries no sizes, so the size
// cap is applied on download.
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

		prefix := strings.Trim(opts.PathPrefix, "/")
		stopped := false
		err = c.client.WalkTree(ctx, c.config.Project, head, prefix, opts.Recursive, func(entries []TreeEntry) bool {
			for _, entry := range entries {
				if entry.Type != "blob" || !c.filter.Allows(entry.Path, 0) {
					continue
				}
				if !connectors.Emit(ctx, files, domain.FileInfo{Path: entry.Path, ContentHash: entry.ID}) {
					stopped = true
					return false
				}
			}
			return true
		})
		if err != nil {
			errs <- fmt.Errorf("list tree: %w", err)
			return
		}
		if stopped {
			return
		}
		errs <- &driven.SyncComplete{NewCursor: head}
	}()

	return files, errs
}

// GetFileContent downloads the raw file from the branch.
func (c *Connector) GetFileContent(ctx context.Context, path string) ([]byte, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	branch, err := c.resolveBranch(ctx)
	if err != nil {
		return nil, err
	}
	body, err := c.client.RawFile(ctx, c.config.Project, path, branch)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return connectors.ReadCapped(body, c.config.MaxFileSize, path)
}

// SetupWebhook registers a push hook, reusing one with the same URL.
func (c *Connector) SetupWebhook(ctx context.Context, callbackURL string) (*domain.WebhookHandle, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if callbackURL == "" {
		return nil, fmt.Errorf("%w: gitlab webhooks need a callback url", domain.ErrInvalidInput)
	}
	if c.config.Secret == "" {
		return nil, fmt.Errorf("%w: gitlab webhooks need a secret token", domain.ErrInvalidInput)
	}

	hooks, err := c.client.ListHooks(ctx, c.config.Project)
	if err != nil {
		return nil, fmt.Errorf("list hooks: %w", err)
	}
	for i := range hooks {
		if hooks[i].URL == callbackURL {
			return c.handle(&hooks[i], callbackURL), nil
		}
	}

	hook, err := c.client.CreateHook(ctx, c.config.Project, callbackURL, c.config.Secret)
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
		ID:          strconv.FormatInt(hook.ID, 10),
		Kind:        domain.WebhookPush,
		CallbackURL: callbackURL,
		CreatedAt:   created,
	}
}

// RemoveWebhook deletes the hook. A hook that is already gone is not an error.
func (c *Connector) RemoveWebhook(ctx context.Context, handle domain.WebhookHandle) error {
	id, err := strconv.ParseInt(handle.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: gitlab hook id %q", domain.ErrInvalidInput, handle.ID)
	}
	if err := c.client.DeleteHook(ctx, c.config.Project, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("delete hook %d: %w", id, err)
	}
	return nil
}

// ListChanges diffs cursor against the branch head. A cursor the compare
// API cannot resolve fails with domain.ErrCursorInvalid.
func (c *Connector) ListChanges(ctx context.Context, cursor string) ([]domain.FileChange, string, error) {
	if err := c.checkOpen(); err != nil {
		return nil, "", err
	}
	head, err := c.head(ctx)
	if err != nil {
		return nil, "", err
	}
	if head == cursor {
		return nil, head, nil
	}

	cmp, err := c.client.Compare(ctx, c.config.Project, cursor, head)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, "", fmt.Errorf("%w: commit %s: %w", domain.ErrCursorInvalid, cursor, err)
		}
		return nil, "", fmt.Errorf("compare %s...%s: %w", cursor, head, err)
	}

	var at time.Time
	if n := len(cmp.Commits); n > 0 {
		at = cmp.Commits[n-1].CommittedDate
	}
	changes := make([]domain.FileChange, 0, len(cmp.Diffs))
	add := func(path string, kind domain.ChangeKind) {
		changes = append(changes, domain.FileChange{
			Path:     path,
			Kind:     kind,
			Sequence: connectors.Sequence(at, len(changes)),
			Cursor:   head,
		})
	}
	for _, d := range cmp.Diffs {
		switch {
		case d.DeletedFile:
			add(d.OldPath, domain.ChangeRemoved)
		case d.RenamedFile:
			add(d.OldPath, domain.ChangeRemoved)
			add(d.NewPath, domain.ChangeAdded)
		case d.NewFile:
			add(d.NewPath, domain.ChangeAdded)
		default:
			add(d.NewPath, domain.ChangeModified)
		}
	}
	return changes, head, nil
}

// Close releases resources.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Builder returns a driven.ConnectorBuilder for GitLab sources.
func Builder(timeout time.Duration) driven.ConnectorBuilder {
	return func(source domain.Source, tokenProvider driven.TokenProvider) (driven.Connector, error) {
		cfg, err := ParseConfig(source)
		if err != nil {
			return nil, err
		}
		return New(source, cfg, NewClient(tokenProvider, cfg.APIURL, timeout)), nil
	}
}
