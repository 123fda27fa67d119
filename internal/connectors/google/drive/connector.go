package drive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"github.com/custodia-labs/sercha-sync/internal/connectors"
	"github.com/custodia-labs/sercha-sync/internal/connectors/google"
	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-sync/internal/logger"
)

var (
	_ driven.Connector          = (*Connector)(nil)
	_ driven.ChangeLister       = (*Connector)(nil)
	_ driven.ExternalIdentifier = (*Connector)(nil)
)

// maxDepth bounds parent walks against cyclic or very deep hierarchies.
const maxDepth = 64

// folder is a cached folder node.
type folder struct {
	name   string
	parent string
}

// Connector syncs the sub-tree of one Google Drive folder. Files are keyed
// by their slash-joined name path below the folder.
type Connector struct {
	sourceID string
	config   *Config
	filter   *domain.FileFilter
	svc      *drive.Service
	limiter  *google.RateLimiter
	now      func() time.Time

	mu      sync.Mutex
	rootID  string
	folders map[string]folder
	closed  bool
}

// New creates a Drive connector using svc.
func New(source domain.Source, cfg *Config, svc *drive.Service, limiter *google.RateLimiter) *Connector {
	return &Connector{
		sourceID: source.ID,
		config:   cfg,
		filter:   domain.NewFileFilter(source.Config),
		svc:      svc,
		limiter:  limiter,
		now:      time.Now,
		folders:  make(map[string]folder),
	}
}

// Type returns the provider type.
func (c *Connector) Type() domain.ProviderType {
	return domain.ProviderGDrive
}

// SourceID returns the source identifier.
func (c *Connector) SourceID() string {
	return c.sourceID
}

// ExternalID returns the notification channel id.
func (c *Connector) ExternalID() string {
	return c.config.ChannelID
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

// call paces fn and maps its error. Quota errors extend the limiter's
// backoff window.
func (c *Connector) call(ctx context.Context, operation string, fn func() error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	err := google.WrapError(fn(), operation)
	var rl *domain.RateLimitError
	if errors.As(err, &rl) {
		c.limiter.Backoff(rl.ResetAt.Sub(c.now()))
	}
	return err
}

// Validate checks the credential and that the configured folder exists.
func (c *Connector) Validate(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := c.call(ctx, "get about", func() error {
		_, err := c.svc.About.Get().Fields("user").Context(ctx).Do()
		return err
	}); err != nil {
		return err
	}
	_, err := c.root(ctx)
	return err
}

// root resolves the configured folder to its id. "root" is an alias the
// API accepts but parents lists never contain.
func (c *Connector) root(ctx context.Context) (string, error) {
	c.mu.Lock()
	id := c.rootID
	c.mu.Unlock()
	if id != "" {
		return id, nil
	}

	var f *drive.File
	err := c.call(ctx, "get folder", func() error {
		var err error
		f, err = c.svc.Files.Get(c.config.FolderID).Fields("id, mimeType, trashed").
			SupportsAllDrives(true).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("folder %s: %w", c.config.FolderID, err)
	}
	if f.MimeType != MimeTypeFolder || f.Trashed {
		return "", fmt.Errorf("%w: %s is not a folder", domain.ErrInvalidInput, c.config.FolderID)
	}

	c.mu.Lock()
	c.rootID = f.Id
	c.mu.Unlock()
	return f.Id, nil
}

// startPageToken returns the current changes page token.
func (c *Connector) startPageToken(ctx context.Context) (string, error) {
	var token *drive.StartPageToken
	err := c.call(ctx, "get start page token", func() error {
		var err error
		token, err = c.svc.Changes.GetStartPageToken().SupportsAllDrives(true).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", err
	}
	return token.StartPageToken, nil
}

// children lists one page of the live children of a folder.
func (c *Connector) children(ctx context.Context, parentID, extra, pageToken string) (*drive.FileList, error) {
	q := fmt.Sprintf("'%s' in parents and trashed = false", escapeQuery(parentID))
	if extra != "" {
		q += " and " + extra
	}
	var list *drive.FileList
	err := c.call(ctx, "list files", func() error {
		call := c.svc.Files.List().Q(q).
			Fields(googleapi.Field("nextPageToken, files(" + fileFields + ")")).
			PageSize(c.config.PageSize).
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		var err error
		list, err = call.Do()
		return err
	})
	return list, err
}

// ListFiles walks the folder tree breadth first. The changes page token
// taken before the walk is reported as the cursor, so edits made during
// the walk are replayed by the next incremental sync.
func (c *Connector) ListFiles(ctx context.Context, opts driven.ListOptions) (<-chan domain.FileInfo, <-chan error) {
	files, errs := connectors.Listing()

	go func() {
		defer close(files)
		defer close(errs)

		if err := c.checkOpen(); err != nil {
			errs <- err
			return
		}
		token, err := c.startPageToken(ctx)
		if err != nil {
			errs <- err
			return
		}
		start, err := c.root(ctx)
		if err != nil {
			errs <- err
			return
		}
		prefix := strings.Trim(opts.PathPrefix, "/")
		if prefix != "" {
			f, err := c.resolve(ctx, prefix, true)
			if err != nil {
				errs <- fmt.Errorf("resolve %s: %w", prefix, err)
				return
			}
			start = f.Id
		}

		type dir struct{ id, path string }
		queue := []dir{{start, prefix}}
		for len(queue) > 0 {
			d := queue[0]
			queue = queue[1:]
			pageToken := ""
			for {
				list, err := c.children(ctx, d.id, "", pageToken)
				if err != nil {
					errs <- fmt.Errorf("list %q: %w", d.path, err)
					return
				}
				for _, f := range list.Files {
					p := path.Join(d.path, DisplayName(f))
					if f.MimeType == MimeTypeFolder {
						c.remember(f)
						if opts.Recursive {
							queue = append(queue, dir{f.Id, p})
						}
						continue
					}
					if !ShouldSyncFile(f, c.config) || !c.filter.Allows(p, f.Size) {
						continue
					}
					if !connectors.Emit(ctx, files, domain.FileInfo{
						Path:         p,
						SizeBytes:    f.Size,
						ContentHash:  ContentHash(f),
						LastModified: modifiedAt(f),
					}) {
						return
					}
				}
				if list.NextPageToken == "" {
					break
				}
				pageToken = list.NextPageToken
			}
		}

		errs <- &driven.SyncComplete{NewCursor: NewCursor(token).Encode()}
	}()

	return files, errs
}

func (c *Connector) remember(f *drive.File) {
	parent := ""
	if len(f.Parents) > 0 {
		parent = f.Parents[0]
	}
	c.mu.Lock()
	c.folders[f.Id] = folder{name: f.Name, parent: parent}
	c.mu.Unlock()
}

// resolve finds the file or folder at a name path below the root. The last
// segment may carry the export extension of a Workspace file. When names
// collide the first match wins.
func (c *Connector) resolve(ctx context.Context, p string, wantFolder bool) (*drive.File, error) {
	parent, err := c.root(ctx)
	if err != nil {
		return nil, err
	}
	segments := strings.Split(strings.Trim(p, "/"), "/")
	for i, seg := range segments {
		last := i == len(segments)-1
		isFolder := !last || wantFolder
		f, err := c.child(ctx, parent, seg, isFolder)
		if err != nil {
			return nil, err
		}
		if f == nil {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, p)
		}
		if last {
			return f, nil
		}
		c.remember(f)
		parent = f.Id
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, p)
}

// child finds a live child of parent whose synced name is name.
func (c *Connector) child(ctx context.Context, parent, name string, isFolder bool) (*drive.File, error) {
	candidates := []string{name}
	if !isFolder {
		if ext := path.Ext(name); ext != "" {
			candidates = append(candidates, strings.TrimSuffix(name, ext))
		}
	}
	for _, candidate := range candidates {
		extra := fmt.Sprintf("name = '%s'", escapeQuery(candidate))
		if isFolder {
			extra += fmt.Sprintf(" and mimeType = '%s'", MimeTypeFolder)
		} else {
			extra += fmt.Sprintf(" and mimeType != '%s'", MimeTypeFolder)
		}
		list, err := c.children(ctx, parent, extra, "")
		if err != nil {
			return nil, err
		}
		for _, f := range list.Files {
			if isFolder || DisplayName(f) == name {
				return f, nil
			}
		}
	}
	return nil, nil
}

// GetFileContent downloads a file, exporting Workspace files to text.
func (c *Connector) GetFileContent(ctx context.Context, p string) ([]byte, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	f, err := c.resolve(ctx, p, false)
	if err != nil {
		return nil, err
	}
	if f.Size > c.config.MaxFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", domain.ErrTooLarge, p, f.Size)
	}

	var resp *http.Response
	err = c.call(ctx, "download", func() error {
		var err error
		if format, ok := exportFormats[f.MimeType]; ok {
			resp, err = c.svc.Files.Export(f.Id, format.mimeType).Context(ctx).Download()
		} else {
			resp, err = c.svc.Files.Get(f.Id).SupportsAllDrives(true).Context(ctx).Download()
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", p, err)
	}
	defer resp.Body.Close()
	return connectors.ReadCapped(resp.Body, c.config.MaxFileSize, p)
}

// SetupWebhook returns a poll handle. Drive channels expire within a week
// and need an owned domain, so changes are polled on the change feed and
// channel notifications, where configured out of band, only speed it up.
func (c *Connector) SetupWebhook(_ context.Context, callbackURL string) (*domain.WebhookHandle, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return &domain.WebhookHandle{
		ID:          c.config.ChannelID,
		Kind:        domain.WebhookPoll,
		CallbackURL: callbackURL,
		CreatedAt:   c.now(),
	}, nil
}

// ListChanges reads the changes feed from cursor. Permanently deleted
// files carry no metadata and cannot be mapped to a path; they are removed
// by the next full sync.
func (c *Connector) ListChanges(ctx context.Context, cursor string) ([]domain.FileChange, string, error) {
	if err := c.checkOpen(); err != nil {
		return nil, "", err
	}
	cur, err := DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	var changes []domain.FileChange
	token := cur.PageToken
	for {
		var list *drive.ChangeList
		err := c.call(ctx, "list changes", func() error {
			var err error
			list, err = c.svc.Changes.List(token).
				Fields(googleapi.Field("nextPageToken, newStartPageToken, changes(fileId, removed, time, file(" + fileFields + "))")).
				IncludeRemoved(true).
				PageSize(c.config.PageSize).
				SupportsAllDrives(true).
				IncludeItemsFromAllDrives(true).
				Context(ctx).
				Do()
			return err
		})
		if err != nil {
			if isBadRequest(err) {
				return nil, "", fmt.Errorf("%w: page token %s: %w", domain.ErrCursorInvalid, token, err)
			}
			return nil, "", err
		}

		for _, ch := range list.Changes {
			change, ok, err := c.fileChange(ctx, ch)
			if err != nil {
				return nil, "", err
			}
			if ok {
				change.Sequence = connectors.Sequence(parseTime(ch.Time), len(changes))
				changes = append(changes, change)
			}
		}

		if list.NextPageToken != "" {
			token = list.NextPageToken
			continue
		}
		next := NewCursor(list.NewStartPageToken).Encode()
		for i := range changes {
			changes[i].Cursor = next
		}
		return changes, next, nil
	}
}

func isBadRequest(err error) bool {
	var pe *domain.ProviderError
	return errors.As(err, &pe) && pe.StatusCode == http.StatusBadRequest
}

// fileChange maps one feed entry. ok is false for entries outside the
// synced tree, folders, filtered files and permanent deletions.
func (c *Connector) fileChange(ctx context.Context, ch *drive.Change) (domain.FileChange, bool, error) {
	f := ch.File
	if ch.Removed || f == nil {
		logger.CtxDebug(ctx, "drive file %s was deleted, left to full sync", ch.FileId)
		return domain.FileChange{}, false, nil
	}
	if f.MimeType == MimeTypeFolder {
		return domain.FileChange{}, false, nil
	}
	p, ok, err := c.pathOf(ctx, f)
	if err != nil || !ok {
		return domain.FileChange{}, false, err
	}
	if f.Trashed {
		return domain.FileChange{Path: p, Kind: domain.ChangeRemoved}, true, nil
	}
	if !ShouldSyncFile(f, c.config) || !c.filter.Allows(p, f.Size) {
		return domain.FileChange{}, false, nil
	}
	return domain.FileChange{Path: p, Kind: domain.ChangeModified}, true, nil
}

// pathOf builds a file's name path by walking its first parent up to the
// root. ok is false when the file lies outside the synced tree.
func (c *Connector) pathOf(ctx context.Context, f *drive.File) (string, bool, error) {
	root, err := c.root(ctx)
	if err != nil {
		return "", false, err
	}
	if len(f.Parents) == 0 {
		return "", false, nil
	}

	parts := []string{DisplayName(f)}
	parent := f.Parents[0]
	for depth := 0; parent != root; depth++ {
		if depth >= maxDepth {
			return "", false, nil
		}
		node, err := c.folder(ctx, parent)
		if errors.Is(err, domain.ErrNotFound) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		if node.parent == "" {
			return "", false, nil
		}
		parts = append(parts, node.name)
		parent = node.parent
	}

	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/"), true, nil
}

// folder returns a folder node, fetching it on a cache miss.
func (c *Connector) folder(ctx context.Context, id string) (folder, error) {
	c.mu.Lock()
	node, ok := c.folders[id]
	c.mu.Unlock()
	if ok {
		return node, nil
	}

	var f *drive.File
	err := c.call(ctx, "get folder", func() error {
		var err error
		f, err = c.svc.Files.Get(id).Fields("id, name, parents").SupportsAllDrives(true).Context(ctx).Do()
		return err
	})
	if err != nil {
		return folder{}, err
	}
	c.remember(f)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.folders[id], nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Close releases resources.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Builder returns a driven.ConnectorBuilder for Drive sources.
func Builder(timeout time.Duration) driven.ConnectorBuilder {
	return func(source domain.Source, tokenProvider driven.TokenProvider) (driven.Connector, error) {
		cfg, err := ParseConfig(source)
		if err != nil {
			return nil, err
		}
		ctx := context.Background()
		svc, err := google.NewDriveService(ctx, connectors.NewTokenSource(ctx, tokenProvider), cfg.APIURL, timeout)
		if err != nil {
			return nil, fmt.Errorf("create drive service: %w", err)
		}
		limiter := google.NewRateLimiter(rate.Limit(google.DefaultRequestsPerSecond), google.DefaultBurst)
		return New(source, cfg, svc, limiter), nil
	}
}
