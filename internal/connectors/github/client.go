package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 30 * time.Second

// Client wraps the go-github client with rate limiting and error mapping.
type Client struct {
	mu            sync.Mutex
	gh            *gh.Client
	tokenProvider driven.TokenProvider
	rateLimiter   *RateLimiter
	baseURL       string
	timeout       time.Duration
}

// NewClient creates a GitHub API client. baseURL may be empty for
// api.github.com.
func NewClient(tokenProvider driven.TokenProvider, baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		tokenProvider: tokenProvider,
		rateLimiter:   NewRateLimiter(rate.Limit(ProactiveRate)),
		baseURL:       baseURL,
		timeout:       timeout,
	}
}

// ensureClient initialises the go-github client on first use so the token
// is fetched only when a call is made.
func (c *Client) ensureClient(ctx context.Context) (*gh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gh != nil {
		return c.gh, nil
	}
	if c.tokenProvider == nil {
		return nil, fmt.Errorf("github client: no token provider")
	}

	token, err := c.tokenProvider.GetToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	// The oauth2 transport keeps the context for token refreshes, so it
	// must outlive this call.
	tc := oauth2.NewClient(context.WithoutCancel(ctx), ts)
	tc.Timeout = c.timeout

	client := gh.NewClient(tc)
	if c.baseURL != "" {
		base := c.baseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse api_url: %w", err)
		}
		client.BaseURL = u
	}
	c.gh = client
	return client, nil
}

// call runs one API request behind the rate limiter and records the quota
// the response reports.
func (c *Client) call(ctx context.Context, operation string, fn func(*gh.Client) (*gh.Response, error)) error {
	client, err := c.ensureClient(ctx)
	if err != nil {
		return err
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := fn(client)
	if resp != nil && resp.Response != nil {
		c.rateLimiter.UpdateFromResponse(resp.Response)
	}
	return c.wrapError(err, operation)
}

// ValidateCredentials checks the token by reading the authenticated user.
func (c *Client) ValidateCredentials(ctx context.Context) error {
	return c.call(ctx, "validate credentials", func(client *gh.Client) (*gh.Response, error) {
		_, resp, err := client.Users.Get(ctx, "")
		return resp, err
	})
}

// GetRepository fetches a single repository.
func (c *Client) GetRepository(ctx context.Context, owner, repo string) (*gh.Repository, error) {
	var repository *gh.Repository
	err := c.call(ctx, "get repo", func(client *gh.Client) (*gh.Response, error) {
		r, resp, err := client.Repositories.Get(ctx, owner, repo)
		repository = r
		return resp, err
	})
	return repository, err
}

// HeadSHA returns the commit SHA at the tip of branch.
func (c *Client) HeadSHA(ctx context.Context, owner, repo, branch string) (string, error) {
	var ref *gh.Reference
	err := c.call(ctx, "get ref", func(client *gh.Client) (*gh.Response, error) {
		r, resp, err := client.Git.GetRef(ctx, owner, repo, "heads/"+branch)
		ref = r
		return resp, err
	})
	if err != nil {
		return "", err
	}
	return ref.GetObject().GetSHA(), nil
}

// GetTree fetches the entire tree for a commit recursively.
func (c *Client) GetTree(ctx context.Context, owner, repo, sha string) (*gh.Tree, error) {
	var tree *gh.Tree
	err := c.call(ctx, "get tree", func(client *gh.Client) (*gh.Response, error) {
		t, resp, err := client.Git.GetTree(ctx, owner, repo, sha, true)
		tree = t
		return resp, err
	})
	return tree, err
}

// DownloadContents opens a file at ref. The caller must close the reader.
func (c *Client) DownloadContents(ctx context.Context, owner, repo, path, ref string) (io.ReadCloser, error) {
	var rc io.ReadCloser
	err := c.call(ctx, "download contents", func(client *gh.Client) (*gh.Response, error) {
		opts := &gh.RepositoryContentGetOptions{Ref: ref}
		r, resp, err := client.Repositories.DownloadContents(ctx, owner, repo, path, opts)
		rc = r
		return resp, err
	})
	return rc, err
}

// ListHooks returns all repository hooks.
func (c *Client) ListHooks(ctx context.Context, owner, repo string) ([]*gh.Hook, error) {
	var all []*gh.Hook
	opts := &gh.ListOptions{PerPage: 100}
	for {
		var next int
		err := c.call(ctx, "list hooks", func(client *gh.Client) (*gh.Response, error) {
			hooks, resp, err := client.Repositories.ListHooks(ctx, owner, repo, opts)
			all = append(all, hooks...)
			if resp != nil {
				next = resp.NextPage
			}
			return resp, err
		})
		if err != nil {
			return nil, err
		}
		if next == 0 {
			return all, nil
		}
		opts.Page = next
	}
}

// CreateHook registers a push hook.
func (c *Client) CreateHook(ctx context.Context, owner, repo string, hook *gh.Hook) (*gh.Hook, error) {
	var created *gh.Hook
	err := c.call(ctx, "create hook", func(client *gh.Client) (*gh.Response, error) {
		h, resp, err := client.Repositories.CreateHook(ctx, owner, repo, hook)
		created = h
		return resp, err
	})
	return created, err
}

// DeleteHook removes a hook.
func (c *Client) DeleteHook(ctx context.Context, owner, repo string, id int64) error {
	return c.call(ctx, "delete hook", func(client *gh.Client) (*gh.Response, error) {
		return client.Repositories.DeleteHook(ctx, owner, repo, id)
	})
}

// CompareCommits lists the files changed between base and head.
func (c *Client) CompareCommits(ctx context.Context, owner, repo, base, head string) (*gh.CommitsComparison, error) {
	var cmp *gh.CommitsComparison
	err := c.call(ctx, "compare commits", func(client *gh.Client) (*gh.Response, error) {
		r, resp, err := client.Repositories.CompareCommits(ctx, owner, repo, base, head, &gh.ListOptions{PerPage: 100})
		cmp = r
		return resp, err
	})
	return cmp, err
}

// RateLimiter returns the rate limiter.
func (c *Client) RateLimiter() *RateLimiter {
	return c.rateLimiter
}

// NewClientWithHTTPClient creates a client over a prepared http.Client.
// Used by tests and callers that manage their own transport.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string, rps rate.Limit) (*Client, error) {
	client := gh.NewClient(httpClient)
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
		client.BaseURL = u
	}
	return &Client{
		gh:          client,
		rateLimiter: NewRateLimiter(rps),
		baseURL:     baseURL,
		timeout:     DefaultTimeout,
	}, nil
}
