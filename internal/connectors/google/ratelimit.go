package google

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

const (
	// DefaultRequestsPerSecond stays under Drive's 10 requests/sec/user.
	DefaultRequestsPerSecond = 8.0

	// DefaultBurst is the token bucket size.
	DefaultBurst = 10

	// DefaultBackoff applies after a quota error without Retry-After.
	DefaultBackoff = 60 * time.Second

	// MaxReactiveWait is the longest backoff Wait sleeps through. Longer
	// backoffs fail fast so the job can be rescheduled.
	MaxReactiveWait = 30 * time.Second
)

// RateLimiter paces Google API requests with a token bucket and a backoff
// window set after quota errors.
type RateLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	retryAt time.Time
	now     func() time.Time
}

// NewRateLimiter creates a rate limiter.
func NewRateLimiter(rps rate.Limit, burst int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rps, burst),
		now:     time.Now,
	}
}

// Wait blocks until a request may be made. It fails with a domain.RateLimitError when
// the backoff window is longer than MaxReactiveWait.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	retryAt := r.retryAt
	r.mu.Unlock()

	if wait := retryAt.Sub(r.now()); wait > 0 {
		if wait > MaxReactiveWait {
			return &domain.RateLimitError{Provider: domain.ProviderGDrive, ResetAt: retryAt}
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return r.limiter.Wait(ctx)
}

// Backoff pauses requests until d from now.
func (r *RateLimiter) Backoff(d time.Duration) {
	if d <= 0 {
		d = DefaultBackoff
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if at := r.now().Add(d); at.After(r.retryAt) {
		r.retryAt = at
	}
}
