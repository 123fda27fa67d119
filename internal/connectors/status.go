package connectors

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

// Headers providers use to report when a rate limit resets.
var resetHeaders = []string{"RateLimit-Reset", "X-RateLimit-Reset"}

// StatusError maps a non-2xx provider response to the domain taxonomy.
// It returns nil for 2xx statuses.
func StatusError(provider domain.ProviderType, status int, header http.Header, operation, message string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s %s: %s", domain.ErrAuth, provider, operation, message)
	case status == http.StatusNotFound || status == http.StatusGone:
		return fmt.Errorf("%w: %s %s: %s", domain.ErrNotFound, provider, operation, message)
	case status == http.StatusTooManyRequests:
		return &domain.RateLimitError{Provider: provider, ResetAt: ResetTime(header, time.Now())}
	}
	return &domain.ProviderError{
		Provider:   provider,
		StatusCode: status,
		Message:    fmt.Sprintf("%s: %s", operation, message),
	}
}

// ResetTime reads Retry-After (seconds) or a Unix reset header. Without
// either it assumes one minute.
func ResetTime(header http.Header, now time.Time) time.Time {
	if v := header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return now.Add(time.Duration(secs) * time.Second)
		}
	}
	for _, name := range resetHeaders {
		if v := header.Get(name); v != "" {
			if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
				return time.Unix(unix, 0)
			}
		}
	}
	return now.Add(time.Minute)
}
