package github

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	gh "github.com/google/go-github/v80/github"

	"github.com/custodia-labs/sercha-sync/internal/connectors"
	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-sync/internal/logger"
)

// Ensure Connector implements the interfaces.
var (
	_ driven.Connector          = (*Connector)(nil)
	_ driven.ChangeLister       = (*Connector)(nil)
	_ driven.WebhookRemover     = (*Connector)(nil)
	_ driven.ExternalIdentifier = (*Connector)(nil)
)

// Connector syncs the files of one GitHub repository.
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

// New creates a GitHub connector.
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
	return domain.ProviderGitHub
}

// SourceID returns the source identifier.
func (c *Connector) SourceID() string {
	return c.sourceID
}

// ExternalID returns owner/repo.
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

// Validate checks the token and that the repository and branch exist.
func (c *Connector) Validate(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := c.client.ValidateCredentials(ctx); err != nil {
		return err
	}
	branch, err := c.resolveBranch(ctx)
	if err != nil {
		return err
	}
	if _, err := c.client.HeadSHA(ctx, c.config.Owner, c.config.Repo, branch); err != nil {
		return fmt.Errorf("branch %s: %w", branch, err)
	}
	return nil
}

// resolveBranch returns the configured branch or the repository default.
func (c *Connector) resolveBranch(ctx context.Context) (string, error) {
	c.mu.Lock()
	branch := c.branch
	c.mu.Unlock()
	if branch != "" {
		return branch, nil
	}

	repo, err := c.client.GetRepository(ctx, c.config.Owner, c.config.Repo)
	if err != nil {
		return "", fmt.Errorf("get repository %s: %w", c.config.FullName(), err)
	}
	branch = repo.GetDefaultBranch()
	if branch == "" {
		branch = "main"
	}

	c.mu.Lock()
	c.branch = branch
	c.mu.Unlock()
	return branch, nil
}

// ListFiles lists the blobs of the branch head tree. The head commit SHA is
// reported as the cursor.
func (c *Connector) ListFiles(ctx context.Context, opts driven.ListOptions) (<-chan domain.FileInfo, <-chan error) {
	files, errs := connectors.Listing()

	go func() {
		defer close(files)
		defer close(errs)

		if err := c.checkOpen(); err != nil {
			errs <- err
			return
		}

		branch, err := c.resolveBranch(ctx)
		if err != nil {
			errs <- err
			return
		}
		head, err := c.client.HeadSHA(ctx, c.config.Owner, c.config.Repo, branch)
		if err != nil {
			errs <- fmt.Errorf("resolve %s head: %w", branch, err)
			return
		}
		tree, err := c.client.GetTree(ctx, c.config.Owner, c.config.Repo, head)
		if err != nil {
			errs <- fmt.Errorf("get tree: %w", err)
			return
		}
		if tree.GetTruncated() {
			logger.CtxWarn(ctx, "github tree for %s is truncated, some files will not be listed", c.config.FullName())
		}

		prefix := strings.Trim(opts.PathPrefix, "/")
		for _, entry := range tree.Entries {
			if entry.GetType() != "blob" {
				continue
			}
			path := entry.GetPath()
			if !underPrefix(path, prefix, opts.Recursive) {
				continue
			}
			size := int64(entry.GetSize())
			if !c.filter.Allows(path, size) {
				continue
			}
			if !connectors.Emit(ctx, files, domain.FileInfo{
				Path:        path,
				SizeBytes:   size,
				ContentHash: entry.GetSHA(),
			}) {
				return
			}
		}

		errs <- &driven.SyncComplete{NewCursor: head}
	}()

	return files, errs
}

// underPrefix reports whether path lies under prefix. Without recursion only
// direct children match.
func underPrefix(path, prefix string, recursive bool) bool {
	if prefix == "" {
		return recursive || !strings.Contains(path, "/")
	}
	if !strings.HasPrefix(path, prefix+"/") {
		return false
	}
	return recursive || !strings.Contains(strings.TrimPrefix(path, prefix+"/"), "/")
}

// GetFileContent downloads one file from the branch, capped at the source's
// maximum file size.
func (c *Connector) GetFileContent(ctx context.Context, path string) ([]byte, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	branch, err := c.resolveBranch(ctx)
	if err != nil {
		return nil, err
	}
	rc, err := c.client.DownloadContents(ctx, c.config.Owner, c.config.Repo, path, branch)
	if err != nil {
		if isMissingFile(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, path)
		}
		return nil, err
	}
	defer rc.Close()
	return connectors.ReadCapped(rc, c.config.MaxFileSize, path)
}

// isMissingFile matches the plain error DownloadContents returns when the
// parent directory lists no such file.
func isMissingFile(err error) bool {
	if errors.Is(err, domain.ErrNotFound) {
		return true
	}
	return strings.Contains(err.Error(), "no file named")
}

// SetupWebhook registers a push hook pointing at callbackURL, reusing an
// existing hook with the same URL.
func (c *Connector) SetupWebhook(ctx context.Context, callbackURL string) (*domain.WebhookHandle, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if callbackURL == "" {
		return nil, fmt.Errorf("%w: github webhooks need a callback url", domain.ErrInvalidInput)
	}
	if c.config.Secret == "" {
		return nil, fmt.Errorf("%w: github webhooks need a secret", domain.ErrInvalidInput)
	}

	hooks, err := c.client.ListHooks(ctx, c.config.Owner, c.config.Repo)
	if err != nil {
		return nil, fmt.Errorf("list hooks: %w", err)
	}
	for _, hook := range hooks {
		if hook.GetConfig().GetURL() == callbackURL {
			return c.handle(hook, callbackURL), nil
		}
	}

	hook, err := c.client.CreateHook(ctx, c.config.Owner, c.config.Repo, &gh.Hook{
		Name:   gh.Ptr("web"),
		Active: gh.Ptr(true),
		Events: []string{"push"},
		Config: &gh.HookConfig{
			URL:         gh.Ptr(callbackURL),
			ContentType: gh.Ptr("json"),
			Secret:      gh.Ptr(c.config.Secret),
			InsecureSSL: gh.Ptr("0"),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create hook: %w", err)
	}
	return c.handle(hook, callbackURL), nil
}

func (c *Connector) handle(hook *gh.Hook, callbackURL string) *domain.WebhookHandle {
	created := hook.GetCreatedAt().Time
	if created.IsZero() {
		created = c.now()
	}
	return &domain.WebhookHandle{
		ID:          strconv.FormatInt(hook.GetID(), 10),
		Kind:        domain.WebhookPush,
		CallbackURL: callbackURL,
		CreatedAt:   created,
	}
}

// RemoveWebhook deletes the hook. A hook that is already gone is not an error.
func (c *Connector) RemoveWebhook(ctx context.Context, handle domain.WebhookHandle) error {
	id, err := strconv.ParseInt(handle.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: github hook id %q", domain.ErrInvalidInput, handle.ID)
	}
	if err := c.client.DeleteHook(ctx, c.config.Owner, c.config.Repo, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("delete hook %d: %w", id, err)
	}
	return nil
}

// ListChanges compares cursor with the branch head. A cursor that is no
// longer an ancestor of the head (force push) fails with
// domain.ErrCursorInvalid.
func (c *Connector) ListChanges(ctx context.Context, cursor string) ([]domain.FileChange, string, error) {
	if err := c.checkOpen(); err != nil {
		return nil, "", err
	}
	branch, err := c.resolveBranch(ctx)
	if err != nil {
		return nil, "", err
	}
	head, err := c.client.HeadSHA(ctx, c.config.Owner, c.config.Repo, branch)
	if err != nil {
		return nil, "", fmt.Errorf("resolve %s head: %w", branch, err)
	}
	if head == cursor {
		return nil, head, nil
	}

	cmp, err := c.client.CompareCommits(ctx, c.config.Owner, c.config.Repo, cursor, head)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, "", fmt.Errorf("%w: commit %s: %w", domain.ErrCursorInvalid, cursor, err)
		}
		return nil, "", fmt.Errorf("compare %s...%s: %w", cursor, head, err)
	}
	if status := cmp.GetStatus(); status == "diverged" || status == "behind" {
		return nil, "", fmt.Errorf("%w: %s is %s %s", domain.ErrCursorInvalid, head, status, cursor)
	}

	var at time.Time
	if n := len(cmp.Commits); n > 0 {
		at = cmp.Commits[n-1].GetCommit().GetCommitter().GetDate().Time
	}
	return compareChanges(cmp.Files, at, head), head, nil
}

// compareChanges converts compare API files to changes. A rename becomes a
// removal of the old path followed by an addition of the new one.
func compareChanges(files []*gh.CommitFile, at time.Time, head string) []domain.FileChange {
	changes := make([]domain.FileChange, 0, len(files))
	add := func(path string, kind domain.ChangeKind) {
		changes = append(changes, domain.FileChange{
			Path:     path,
			Kind:     kind,
			Sequence: connectors.Sequence(at, len(changes)),
			Cursor:   head,
		})
	}
	for _, f := range files {
		switch f.GetStatus() {
		case "added", "copied":
			add(f.GetFilename(), domain.ChangeAdded)
		case "removed":
			add(f.GetFilename(), domain.ChangeRemoved)
		case "renamed":
			add(f.GetPreviousFilename(), domain.ChangeRemoved)
			add(f.GetFilename(), domain.ChangeAdded)
		default:
			add(f.GetFilename(), domain.ChangeModified)
		}
	}
	return changes
}

// Close releases resources.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Builder returns a driven.ConnectorBuilder for GitHub sources.
// timeout bounds each API request.
func Builder(timeout time.Duration) driven.ConnectorBuilder {
	return func(source domain.Source, tokenProvider driven.TokenProvider) (driven.Connector, error) {
		cfg, err := ParseConfig(source)
		if err != nil {
			return nil, err
		}
		return New(source, cfg, NewClient(tokenProvider, cfg.APIURL, timeout)), nil
	}
}
