package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestErrors_Existence tests that all error variables exist and are not nil
func TestErrors_Existence(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"ErrNotFound", ErrNotFound},
		{"ErrAlreadyExists", ErrAlreadyExists},
		{"ErrInvalidInput", ErrInvalidInput},
		{"ErrUnsupportedType", ErrUnsupportedType},
		{"ErrSyncInProgress", ErrSyncInProgress},
		{"ErrAuth", ErrAuth},
		{"ErrProvider", ErrProvider},
		{"ErrRateLimited", ErrRateLimited},
		{"ErrTooLarge", ErrTooLarge},
		{"ErrFilteredOut", ErrFilteredOut},
		{"ErrUnsupported", ErrUnsupported},
		{"ErrPipeline", ErrPipeline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotNil(t, tt.err)
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestRateLimitError_Is(t *testing.T) {
	reset := time.Now().Add(time.Minute)
	err := fmt.Errorf("fetch: %w", &RateLimitError{Provider: ProviderGitHub, ResetAt: reset})

	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.False(t, errors.Is(err, ErrProvider))
	assert.Contains(t, err.Error(), "github rate limited")
}

func TestProviderError_IsAndUnwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := &ProviderError{Provider: ProviderGitLab, StatusCode: 502, Message: "bad gateway", Err: inner}

	assert.True(t, errors.Is(err, ErrProvider))
	assert.True(t, errors.Is(err, inner))
	assert.Contains(t, err.Error(), "502")
}

func TestPipelineError_ClientError(t *testing.T) {
	assert.True(t, (&PipelineError{Stage: StageNormalize, StatusCode: 422}).IsClientError())
	assert.False(t, (&PipelineError{Stage: StageEmbed, StatusCode: 503}).IsClientError())
	assert.False(t, (&PipelineError{Stage: StageEmbed, Err: errors.New("timeout")}).IsClientError())
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"auth", fmt.Errorf("validate: %w", ErrAuth), false},
		{"unsupported", ErrUnsupported, false},
		{"not connected", ErrNotConnected, false},
		{"provider", &ProviderError{Provider: ProviderGitHub, StatusCode: 500}, true},
		{"embed 5xx", &PipelineError{Stage: StageEmbed, StatusCode: 503}, true},
		{"normalize 4xx", &PipelineError{Stage: StageNormalize, StatusCode: 400}, false},
		{"plain", errors.New("boom"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsSkip(t *testing.T) {
	assert.True(t, IsSkip(fmt.Errorf("a.bin: %w", ErrTooLarge)))
	assert.True(t, IsSkip(ErrFilteredOut))
	assert.False(t, IsSkip(ErrNotFound))
}

func TestRetryAfter(t *testing.T) {
	now := time.Now()

	d, ok := RetryAfter(&RateLimitError{ResetAt: now.Add(30 * time.Second)}, now)
	assert.True(t, ok)
	assert.Equal(t, 30*time.Second, d)

	d, ok = RetryAfter(&RateLimitError{ResetAt: now.Add(-time.Second)}, now)
	assert.True(t, ok)
	assert.Equal(t, time.Duration(0), d)

	_, ok = RetryAfter(errors.New("other"), now)
	assert.False(t, ok)
}
