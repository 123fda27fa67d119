package gitlab

import (
	"context"
	"fmt"
	"io"
	"strconv"
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

	// DefaultRate is the proactive request rate (gitlab.com allows ~2000/min).
	DefaultRate = 10

	perPage = 100
)

// Client is a minimal GitLab API v4 client.
type Client struct {
	http          *resty.Client
	tokenProvider driven.TokenProvider
	limiter       *rate.Limiter
}

// Project is the subset of the project resource the connector reads.
type Project struct {
	ID                int64  `json:"id"`
	PathWithNamespace string `json:"path_with_namespace"`
	DefaultBranch     string `json:"default_branch"`
}

// TreeEntry is one repository tree item.
type TreeEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
	Path string `json:"path"`
}

// Branch is a branch with its head commit.
type Branch struct {
	Name   string `json:"name"`
	Commit struct {
		ID string `json:"id"`
	} `json:"commit"`
}

// Hook is a project hook.
type Hook struct {
	ID         int64     `json:"id"`
	URL        string    `json:"url"`
	PushEvents bool      `json:"push_events"`
	CreatedAt  time.Time `json:"created_at"`
}

// Comparison is the result of the compare API.
type Comparison struct {
	Commits []struct {
		ID            string    `json:"id"`
		CommittedDate time.Time `json:"committed_date"`
	} `json:"commits"`
	Diffs []struct {
		OldPath     string `json:"old_path"`
		NewPath     string `json:"new_path"`
		NewFile     bool   `json:"new_file"`
		RenamedFile bool   `json:"renamed_file"`
		DeletedFile bool   `json:"deleted_file"`
	} `json:"diffs"`
}

type apiError struct {
	Message any    `json:"message"`
	Error   string `json:"error"`
}

func (e *apiError) String() string {
	if e.Error != "" {
		return e.Error
	}
	if e.Message != nil {
		return fmt.Sprint(e.Message)
	}
	return ""
}

// NewClient creates a client for baseURL.
func NewClient(tokenProvider driven.TokenProvider, baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		tokenProvider: tokenProvider,
		limiter:       rate.NewLimiter(rate.Limit(DefaultRate), DefaultRate),
	}
	c.http = resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		OnBeforeRequest(c.authorize)
	return c
}

// authorize waits for the limiter and sets the PRIVATE-TOKEN header.
func (c *Client) authorize(_ *resty.Client, req *resty.Request) error {
	ctx := req.Context()
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	token, err := c.tokenProvider.GetToken(ctx)
	if err != nil {
		return fmt.Errorf("get token: %w", err)
	}
	req.SetHeader("PRIVATE-TOKEN", token)
	return nil
}

// do runs a request and maps failures to domain errors.
func (c *Client) do(req *resty.Request, method, url, operation string) (*resty.Response, error) {
	var apiErr apiError
	req.SetError(&apiErr)
	resp, err := req.Execute(method, url)
	if err != nil {
		return nil, &domain.ProviderError{Provider: domain.ProviderGitLab, Message: operation, Err: err}
	}
	if err := connectors.StatusError(domain.ProviderGitLab, resp.StatusCode(), resp.Header(), operation, apiErr.String()); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) request(ctx context.Context, project string) *resty.Request {
	return c.http.R().SetContext(ctx).SetPathParam("project", project)
}

// CurrentUser checks the token.
func (c *Client) CurrentUser(ctx context.Context) error {
	_, err := c.do(c.http.R().SetContext(ctx), resty.MethodGet, "/user", "get user")
	return err
}

// GetProject fetches a project by path or id.
func (c *Client) GetProject(ctx context.Context, project string) (*Project, error) {
	var p Project
	_, err := c.do(c.request(ctx, project).SetResult(&p), resty.MethodGet, "/projects/{project}", "get project")
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetBranch fetches a branch.
func (c *Client) GetBranch(ctx context.Context, project, branch string) (*Branch, error) {
	var b Branch
	req := c.request(ctx, project).SetPathParam("branch", branch).SetResult(&b)
	if _, err := c.do(req, resty.MethodGet, "/projects/{project}/repository/branches/{branch}", "get branch"); err != nil {
		return nil, err
	}
	return &b, nil
}

// WalkTree pages through the recursive tree at ref, calling fn per page.
// Paging follows X-Next-Page, bounded by X-Total-Pages when present.
func (c *Client) WalkTree(ctx context.Context, project, ref, path string, recursive bool, fn func([]TreeEntry) bool) error {
	page := 1
	for {
		var entries []TreeEntry
		req := c.request(ctx, project).
			SetQueryParams(map[string]string{
				"ref":       ref,
				"recursive": strconv.FormatBool(recursive),
				"per_page":  strconv.Itoa(perPage),
				"page":      strconv.Itoa(page),
			}).
			SetResult(&entries)
		if path != "" {
			req.SetQueryParam("path", path)
		}
		resp, err := c.do(req, resty.MethodGet, "/projects/{project}/repository/tree", "list tree")
		if err != nil {
			return err
		}
		if !fn(entries) {
			return nil
		}

		next, _ := strconv.Atoi(resp.Header().Get("X-Next-Page"))
		total, _ := strconv.Atoi(resp.Header().Get("X-Total-Pages"))
		switch {
		case next > page:
			page = next
		case total > page:
			page++
		default:
			return nil
		}
	}
}

// RawFile opens a file at ref. The caller must close the body.
func (c *Client) RawFile(ctx context.Context, project, path, ref string) (io.ReadCloser, error) {
	req := c.request(ctx, project).
		SetPathParam("path", path).
		SetQueryParam("ref", ref).
		SetDoNotParseResponse(true)
	resp, err := req.Execute(resty.MethodGet, "/projects/{project}/repository/files/{path}/raw")
	if err != nil {
		return nil, &domain.ProviderError{Provider: domain.ProviderGitLab, Message: "get file", Err: err}
	}
	body := resp.RawBody()
	if err := connectors.StatusError(domain.ProviderGitLab, resp.StatusCode(), resp.Header(), "get file", path); err != nil {
		body.Close()
		return nil, err
	}
	return body, nil
}

// ListHooks returns the project hooks.
func (c *Client) ListHooks(ctx context.Context, project string) ([]Hook, error) {
	var hooks []Hook
	req := c.request(ctx, project).SetQueryParam("per_page", strconv.Itoa(perPage)).SetResult(&hooks)
	if _, err := c.do(req, resty.MethodGet, "/projects/{project}/hooks", "list hooks"); err != nil {
		return nil, err
	}
	return hooks, nil
}

// CreateHook registers a push hook.
func (c *Client) CreateHook(ctx context.Context, project, url, token string) (*Hook, error) {
	var hook Hook
	req := c.request(ctx, project).
		SetBody(map[string]any{
			"url":                     url,
			"push_events":             true,
			"token":                   token,
			"enable_ssl_verification": true,
		}).
		SetResult(&hook)
	if _, err := c.do(req, resty.MethodPost, "/projects/{project}/hooks", "create hook"); err != nil {
		return nil, err
	}
	return &hook, nil
}

// DeleteHook removes a hook.
func (c *Client) DeleteHook(ctx context.Context, project string, id int64) error {
	req := c.request(ctx, project).SetPathParam("hook", strconv.FormatInt(id, 10))
	_, err := c.do(req, resty.MethodDelete, "/projects/{project}/hooks/{hook}", "delete hook")
	return err
}

// Compare diffs two refs.
func (c *Client) Compare(ctx context.Context, project, from, to string) (*Comparison, error) {
	var cmp Comparison
	req := c.request(ctx, project).
		SetQueryParams(map[string]string{"from": from, "to": to, "straight": "true"}).
		SetResult(&cmp)
	if _, err := c.do(req, resty.MethodGet, "/projects/{project}/repository/compare", "compare"); err != nil {
		return nil, err
	}
	return &cmp, nil
}

// SetRate replaces the proactive request limit.
func (c *Client) SetRate(limit rate.Limit, burst int) {
	c.limiter.SetLimit(limit)
	c.limiter.SetBurst(burst)
}
