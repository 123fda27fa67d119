package dropbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/users"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/sercha-sync/internal/connectors"
	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

const (
	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRate is the proactive request rate per second.
	DefaultRate = 10
)

// Client calls the Dropbox API through the SDK. The SDK has no context
// support, so every call builds SDK clients over a transport bound to the
// caller's context.
type Client struct {
	transport http.RoundTripper
	apiURL    string
	timeout   time.Duration
	limiter   *rate.Limiter
}

// NewClient creates a Dropbox client authorised by ts. apiURL replaces the
// api and content hosts when set.
func NewClient(ts oauth2.TokenSource, apiURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		transport: &oauth2.Transport{
			Source: ts,
			Base:   statusTransport{base: http.DefaultTransport},
		},
		apiURL:  apiURL,
		timeout: timeout,
		limiter: rate.NewLimiter(rate.Limit(DefaultRate), DefaultRate),
	}
}

// SetRate replaces the proactive limiter.
func (c *Client) SetRate(limit rate.Limit, burst int) {
	c.limiter = rate.NewLimiter(limit, burst)
}

func (c *Client) config(ctx context.Context) dropbox.Config {
	cfg := dropbox.Config{
		Client: &http.Client{
			Timeout:   c.timeout,
			Transport: boundTransport{ctx: ctx, base: c.transport},
		},
	}
	if c.apiURL != "" {
		base := c.apiURL
		cfg.URLGenerator = func(_ string, namespace string, route string) string {
			return fmt.Sprintf("%s/2/%s/%s", base, namespace, route)
		}
	}
	return cfg
}

func (c *Client) files(ctx context.Context) (files.Client, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return files.New(c.config(ctx)), nil
}

// AccountID returns the id of the account the token belongs to.
func (c *Client) AccountID(ctx context.Context) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	account, err := users.New(c.config(ctx)).GetCurrentAccount()
	if err != nil {
		return "", mapError(err, "get current account")
	}
	return account.AccountId, nil
}

// ListFolder returns the first page of a folder listing.
func (c *Client) ListFolder(ctx context.Context, path string, recursive bool) (*files.ListFolderResult, error) {
	client, err := c.files(ctx)
	if err != nil {
		return nil, err
	}
	arg := files.NewListFolderArg(path)
	arg.Recursive = recursive
	res, err := client.ListFolder(arg)
	if err != nil {
		return nil, mapError(err, "list folder "+path)
	}
	return res, nil
}

// ListFolderContinue returns the page after cursor.
func (c *Client) ListFolderContinue(ctx context.Context, cursor string) (*files.ListFolderResult, error) {
	client, err := c.files(ctx)
	if err != nil {
		return nil, err
	}
	res, err := client.ListFolderContinue(files.NewListFolderContinueArg(cursor))
	if err != nil {
		return nil, mapError(err, "list folder continue")
	}
	return res, nil
}

// Download opens the content of one file. The caller closes the body.
func (c *Client) Download(ctx context.Context, path string) (*files.FileMetadata, io.ReadCloser, error) {
	client, err := c.files(ctx)
	if err != nil {
		return nil, nil, err
	}
	meta, body, err := client.Download(files.NewDownloadArg(path))
	if err != nil {
		return nil, nil, mapError(err, "download "+path)
	}
	return meta, body, nil
}

// mapError maps SDK errors to the domain taxonomy. Non-409 statuses are
// already domain errors from statusTransport; endpoint errors are told apart
// by their error summary.
func mapError(err error, operation string) error {
	var rl *domain.RateLimitError
	var pe *domain.ProviderError
	switch {
	case errors.Is(err, domain.ErrAuth), errors.As(err, &rl), errors.As(err, &pe),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("dropbox %s: %w", operation, err)
	}

	summary := err.Error()
	switch {
	case strings.Contains(summary, "not_found"):
		return fmt.Errorf("%w: dropbox %s: %s", domain.ErrNotFound, operation, summary)
	case strings.HasPrefix(summary, "reset") || strings.Contains(summary, "reset/"):
		return fmt.Errorf("%w: dropbox %s: %s", domain.ErrCursorInvalid, operation, summary)
	}
	return &domain.ProviderError{
		Provider:   domain.ProviderDropbox,
		StatusCode: http.StatusConflict,
		Message:    operation + ": " + summary,
		Err:        err,
	}
}

// statusTransport turns every failure status except 409, which carries the
// typed endpoint error the SDK decodes, into a domain error.
type statusTransport struct {
	base http.RoundTripper
}

func (t statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 400 || resp.StatusCode == http.StatusConflict {
		return resp, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	route := strings.TrimPrefix(req.URL.Path, "/2/")
	return nil, connectors.StatusError(domain.ProviderDropbox, resp.StatusCode, resp.Header, route, strings.TrimSpace(string(body)))
}

// boundTransport attaches a context to requests the SDK builds without one.
type boundTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t boundTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}
