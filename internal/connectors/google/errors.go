package google

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

// Reasons Google reports on 403 responses that are really quota errors.
var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"dailyLimitExceeded":    true,
	"quotaExceeded":         true,
}

// IsRateLimited reports whether err is a 429 or a quota 403.
func IsRateLimited(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	if gerr.Code == http.StatusTooManyRequests {
		return true
	}
	if gerr.Code != http.StatusForbidden {
		return false
	}
	for _, item := range gerr.Errors {
		if rateLimitReasons[item.Reason] {
			return true
		}
	}
	return false
}

// retryAfter reads Retry-After seconds from the error's response headers.
func retryAfter(gerr *googleapi.Error) time.Duration {
	if gerr.Header == nil {
		return 0
	}
	secs, err := strconv.Atoi(gerr.Header.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// WrapError converts a Google API error to the domain taxonomy.
// 410 means a page token or channel is no longer valid.
func WrapError(err error, operation string) error {
	if err == nil {
		return nil
	}

	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return &domain.ProviderError{Provider: domain.ProviderGDrive, Message: operation, Err: err}
	}

	if IsRateLimited(err) {
		wait := retryAfter(gerr)
		if wait == 0 {
			wait = DefaultBackoff
		}
		return &domain.RateLimitError{Provider: domain.ProviderGDrive, ResetAt: time.Now().Add(wait)}
	}

	switch gerr.Code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: gdrive %s: %s", domain.ErrAuth, operation, gerr.Message)
	case http.StatusNotFound:
		return fmt.Errorf("%w: gdrive %s: %s", domain.ErrNotFound, operation, gerr.Message)
	case http.StatusGone:
		return fmt.Errorf("%w: gdrive %s: %s", domain.ErrCursorInvalid, operation, gerr.Message)
	}
	return &domain.ProviderError{
		Provider:   domain.ProviderGDrive,
		StatusCode: gerr.Code,
		Message:    operation,
		Err:        err,
	}
}
