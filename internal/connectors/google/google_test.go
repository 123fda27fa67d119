package google

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

func TestWrapError(t *testing.T) {
	quota := &googleapi.Error{Code: http.StatusForbidden, Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}}}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unauthorized", &googleapi.Error{Code: http.StatusUnauthorized}, domain.ErrAuth},
		{"forbidden", &googleapi.Error{Code: http.StatusForbidden}, domain.ErrAuth},
		{"not found", &googleapi.Error{Code: http.StatusNotFound}, domain.ErrNotFound},
		{"gone", &googleapi.Error{Code: http.StatusGone}, domain.ErrCursorInvalid},
		{"too many requests", &googleapi.Error{Code: http.StatusTooManyRequests}, domain.ErrRateLimited},
		{"quota 403", quota, domain.ErrRateLimited},
		{"server", &googleapi.Error{Code: http.StatusBadGateway}, domain.ErrProvider},
		{"transport", errors.New("connection reset"), domain.ErrProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, WrapError(tt.err, "op"), tt.want)
		})
	}

	assert.NoError(t, WrapError(nil, "op"))
}

func TestWrapError_RetryAfter(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", "5")
	err := WrapError(&googleapi.Error{Code: http.StatusTooManyRequests, Header: header}, "op")

	var rl *domain.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.WithinDuration(t, time.Now().Add(5*time.Second), rl.ResetAt, time.Second)
}

func TestRateLimiter_Backoff(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRateLimiter(rate.Inf, 1)
	r.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, r.Wait(ctx))

	r.Backoff(time.Hour)
	var rl *domain.RateLimitError
	require.ErrorAs(t, r.Wait(ctx), &rl)
	assert.Equal(t, now.Add(time.Hour), rl.ResetAt)

	// A shorter backoff never shortens the window.
	r.Backoff(time.Second)
	require.ErrorAs(t, r.Wait(ctx), &rl)

	now = now.Add(2 * time.Hour)
	assert.NoError(t, r.Wait(ctx))
}

func TestRateLimiter_WaitCancelled(t *testing.T) {
	r := NewRateLimiter(rate.Inf, 1)
	r.Backoff(10 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.Wait(ctx), context.Canceled)
}
