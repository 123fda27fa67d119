package bitbucket

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/sercha-sync/internal/connectors"
	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

const (
	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRate keeps well inside the hourly quota for bursts.
	DefaultRate = 5

	pageLen = "100"
)

// Client is a minimal Bitbucket Cloud API client.
type Client struct {
	http          *resty.Client
	tokenProvider driven.TokenProvider
	username      string
	limiter       *rate.Limiter
}

// Repository is the subset of the repository resource the connector reads.
type Repository struct {
	FullName   string `json:"full_name"`
	MainBranch struct {
		Name string `json:"name"`
	} `json:"mainbranch"`
}

// Commit is a commit reference.
type Commit struct {
	Hash string    `json:"hash"`
	Date time.Time `json:"date"`
}

// SrcEntry is one item of a src directory listing.
type SrcEntry struct {
	Type   string `json:"type"`
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Commit Commit `json:"commit"`
}

// Hook is a repository webhook subscription.
type Hook struct {
	UUID      string    `json:"uuid"`
	URL       string    `json:"url"`
	Active    bool      `json:"active"`
	Events    []string  `json:"events"`
	CreatedAt time.Time `json:"created_at"`
}

// DiffStat is one changed file between two commits.
type DiffStat struct {
	Status string `json:"status"`
	Old    *struct {
		Path string `json:"path"`
	} `json:"old"`
	New *struct {
		Path string `json:"path"`
	} `json:"new"`
}

type page[T any] struct {
	Values []T    `json:"values"`
	Next   string `json:"next"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewClient creates a client for baseURL. A non-empty username selects basic
// auth with the token as app password.
func NewClient(tokenProvider driven.TokenProvider, baseURL, username string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		tokenProvider: tokenProvider,
		username:      username,
		limiter:       rate.NewLimiter(rate.Limit(DefaultRate), DefaultRate),
	}
	c.http = resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		OnBeforeRequest(c.authorize)
	return c
}

// SetRate replaces the proactive request limit.
func (c *Client) SetRate(limit rate.Limit, burst int) {
	c.limiter.SetLimit(limit)
	c.limiter.SetBurst(burst)
}

func (c *Client) authorize(_ *resty.Client, req *resty.Request) error {
	ctx := req.Context()
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	token, err := c.tokenProvider.GetToken(ctx)
	if err != nil {
		return fmt.Errorf("get token: %w", err)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, token)
	} else {
		req.SetAuthToken(token)
	}
	return nil
}

func (c *Client) do(req *resty.Request, method, target, operation string) (*resty.Response, error) {
	var apiErr apiError
	req.SetError(&apiErr)
	resp, err := req.Execute(method, target)
	if err != nil {
		return nil, &domain.ProviderError{Provider: domain.ProviderBitbucket, Message: operation, Err: err}
	}
	if err := connectors.StatusError(domain.ProviderBitbucket, resp.StatusCode(), resp.Header(), operation, apiErr.Error.Message); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) repo(ctx context.Context, workspace, slug string) *resty.Request {
	return c.http.R().SetContext(ctx).SetPathParams(map[string]string{
		"workspace": workspace,
		"slug":      slug,
	})
}

// escapePath escapes each segment of a repository path.
func escapePath(p string) string {
	segments := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// CurrentUser checks the token.
func (c *Client) CurrentUser(ctx context.Context) error {
	_, err := c.do(c.http.R().SetContext(ctx), resty.MethodGet, "/user", "get user")
	return err
}

// GetRepository fetches the repository.
func (c *Client) GetRepository(ctx context.Context, workspace, slug string) (*Repository, error) {
	var repo Repository
	if _, err := c.do(c.repo(ctx, workspace, slug).SetResult(&repo), resty.MethodGet,
		"/repositories/{workspace}/{slug}", "get repository"); err != nil {
		return nil, err
	}
	return &repo, nil
}

// BranchHead returns the head commit of a branch.
func (c *Client) BranchHead(ctx context.Context, workspace, slug, branch string) (*Commit, error) {
	var ref struct {
		Target Commit `json:"target"`
	}
	req := c.repo(ctx, workspace, slug).SetPathParam("branch", branch).SetResult(&ref)
	if _, err := c.do(req, resty.MethodGet, "/repositories/{workspace}/{slug}/refs/branches/{branch}", "get branch"); err != nil {
		return nil, err
	}
	return &ref.Target, nil
}

// ListDirectory pages through one src directory at commit, calling fn per
// page. Pages are followed through the absolute next link.
func (c *Client) ListDirectory(ctx context.Context, workspace, slug, commit, dir string, fn func([]SrcEntry) bool) error {
	target := "/repositories/{workspace}/{slug}/src/{commit}/{dir}"
	req := c.repo(ctx, workspace, slug).
		SetPathParam("commit", commit).
		SetRawPathParam("dir", escapePath(dir)).
		SetQueryParam("pagelen", pageLen)
	for target != "" {
		var p page[SrcEntry]
		if _, err := c.do(req.SetResult(&p), resty.MethodGet, target, "list src"); err != nil {
			return err
		}
		if !fn(p.Values) {
			return nil
		}
		target = p.Next
		req = c.http.R().SetContext(ctx)
	}
	return nil
}

// RawFile opens a file at commit. The caller must close the body.
func (c *Client) RawFile(ctx context.Context, workspace, slug, commit, path string) (io.ReadCloser, error) {
	req := c.repo(ctx, workspace, slug).
		SetPathParam("commit", commit).
		SetRawPathParam("path", escapePath(path)).
		SetDoNotParseResponse(true)
	resp, err := req.Execute(resty.MethodGet, "/repositories/{workspace}/{slug}/src/{commit}/{path}")
	if err != nil {
		return nil, &domain.ProviderError{Provider: domain.ProviderBitbucket, Message: "get file", Err: err}
	}
	body := resp.RawBody()
	if err := connectors.StatusError(domain.ProviderBitbucket, resp.StatusCode(), resp.Header(), "get file", path); err != nil {
		body.Close()
		return nil, err
	}
	return body, nil
}

// ListHooks returns the repository webhooks.
func (c *Client) ListHooks(ctx context.Context, workspace, slug string) ([]Hook, error) {
	var hooks []Hook
	target := "/repositories/{workspace}/{slug}/hooks"
	req := c.repo(ctx, workspace, slug).SetQueryParam("pagelen", pageLen)
	for target != "" {
		var p page[Hook]
		if _, err := c.do(req.SetResult(&p), resty.MethodGet, target, "list hooks"); err != nil {
			return nil, err
		}
		hooks = append(hooks, p.Values...)
		target = p.Next
		req = c.http.R().SetContext(ctx)
	}
	return hooks, nil
}

// CreateHook registers a repo:push webhook signed with secret.
func (c *Client) CreateHook(ctx context.Context, workspace, slug, callbackURL, secret string) (*Hook, error) {
	var hook Hook
	req := c.repo(ctx, workspace, slug).
		SetBody(map[string]any{
			"description": "sercha-sync",
			"url":         callbackURL,
			"active":      true,
			"secret":      secret,
			"events":      []string{"repo:push"},
		}).
		SetResult(&hook)
	if _, err := c.do(req, resty.MethodPost, "/repositories/{workspace}/{slug}/hooks", "create hook"); err != nil {
		return nil, err
	}
	return &hook, nil
}

// DeleteHook removes a webhook by uuid.
func (c *Client) DeleteHook(ctx context.Context, workspace, slug, uid string) error {
	req := c.repo(ctx, workspace, slug).SetPathParam("uid", uid)
	_, err := c.do(req, resty.MethodDelete, "/repositories/{workspace}/{slug}/hooks/{uid}", "delete hook")
	return err
}

// DiffStat lists the files changed from base to head.
func (c *Client) DiffStat(ctx context.Context, workspace, slug, base, head string) ([]DiffStat, error) {
	var stats []DiffStat
	// Bitbucket specs read "new..old".
	target := "/repositories/{workspace}/{slug}/diffstat/{spec}"
	req := c.repo(ctx, workspace, slug).
		SetRawPathParam("spec", url.PathEscape(head)+".."+url.PathEscape(base)).
		SetQueryParams(map[string]string{"pagelen": "500", "topic": "false"})
	for target != "" {
		var p page[DiffStat]
		if _, err := c.do(req.SetResult(&p), resty.MethodGet, target, "diffstat"); err != nil {
			return nil, err
		}
		stats = append(stats, p.Values...)
		target = p.Next
		req = c.http.R().SetContext(ctx)
	}
	return stats, nil
}
