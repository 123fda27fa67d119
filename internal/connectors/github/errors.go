package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gh "github.com/google/go-github/v80/github"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

// wrapError converts go-github errors to the domain error taxonomy.
func (c *Client) wrapError(err error, operation string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var rateLimitErr *gh.RateLimitError
	if errors.As(err, &rateLimitErr) {
		return &domain.RateLimitError{
			Provider:  domain.ProviderGitHub,
			ResetAt:   rateLimitErr.Rate.Reset.Time,
			Remaining: rateLimitErr.Rate.Remaining,
		}
	}

	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		wait := time.Minute
		if abuseErr.RetryAfter != nil {
			wait = *abuseErr.RetryAfter
		}
		return &domain.RateLimitError{Provider: domain.ProviderGitHub, ResetAt: time.Now().Add(wait)}
	}

	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return c.statusError(ghErr.Response, ghErr.Message, operation)
	}

	return &domain.ProviderError{Provider: domain.ProviderGitHub, Message: operation, Err: err}
}

// statusError maps an HTTP status to a domain error.
func (c *Client) statusError(resp *http.Response, message, operation string) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: github %s: %s", domain.ErrAuth, operation, message)
	case http.StatusNotFound:
		return fmt.Errorf("%w: github %s: %s", domain.ErrNotFound, operation, message)
	case http.StatusTooManyRequests:
		return c.rateLimiter.CheckRateLimit(resp)
	case http.StatusForbidden:
		if err := c.rateLimiter.CheckRateLimit(resp); err != nil {
			return err
		}
		return fmt.Errorf("%w: github %s: %s", domain.ErrAuth, operation, message)
	}
	return &domain.ProviderError{
		Provider:   domain.ProviderGitHub,
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("%s: %s", operation, message),
	}
}
