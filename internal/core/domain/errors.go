package domain

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	// A file that vanished upstream between list and fetch is treated as a deletion.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedType indicates an unknown provider or backend type.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrSyncInProgress indicates a sync is already running for the source.
	ErrSyncInProgress = errors.New("sync in progress")

	// ErrSourceDisconnected indicates the source was disconnected.
	ErrSourceDisconnected = errors.New("source disconnected")

	// ErrQueueClosed indicates the job queue has shut down.
	ErrQueueClosed = errors.New("queue closed")

	// ErrInvalidTransition indicates a status change that breaks the state machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrCursorInvalid indicates a stored change-feed cursor can no longer be
	// resumed (history rewritten, token expired). A full sync is required.
	ErrCursorInvalid = errors.New("change cursor invalid")

	// ErrBodyUnavailable indicates a chunk body was discarded or has expired.
	ErrBodyUnavailable = errors.New("chunk body unavailable")

	// Connector and pipeline error taxonomy.

	// ErrAuth indicates the credential is invalid or expired.
	// Surfaced to the user; never retried without re-authentication.
	ErrAuth = errors.New("authentication failed")

	// ErrNotConnected indicates the user has no credential for the provider.
	ErrNotConnected = errors.New("provider not connected")

	// ErrProvider indicates a transient provider API failure.
	ErrProvider = errors.New("provider error")

	// ErrRateLimited indicates the provider rate limit was exceeded.
	ErrRateLimited = errors.New("rate limited")

	// ErrTooLarge indicates a file exceeds the configured size cap.
	ErrTooLarge = errors.New("file too large")

	// ErrFilteredOut indicates a file was excluded by source filters.
	ErrFilteredOut = errors.New("filtered out")

	// ErrUnsupported indicates a connector capability is not implemented.
	ErrUnsupported = errors.New("not supported")

	// ErrPipeline indicates a downstream collaborator failure.
	ErrPipeline = errors.New("pipeline error")

	// ErrConnectorClosed indicates the connector has been closed.
	ErrConnectorClosed = errors.New("connector closed")
)

// RateLimitError carries the provider's reset hint.
type RateLimitError struct {
	// Provider that rate limited the request.
	Provider ProviderType

	// ResetAt is when the limit resets.
	ResetAt time.Time

	// Remaining is the remaining quota, when reported.
	Remaining int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limited until %s", e.Provider, e.ResetAt.Format(time.RFC3339))
}

// Is makes errors.Is(err, ErrRateLimited) match.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// ProviderError is a transient API failure with its HTTP status.
type ProviderError struct {
	Provider   ProviderType
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s API error (%d): %s: %v", e.Provider, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.StatusCode, e.Message)
}

// Is makes errors.Is(err, ErrProvider) match.
func (e *ProviderError) Is(target error) bool {
	return target == ErrProvider
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// PipelineStage names a downstream collaborator.
type PipelineStage string

// Pipeline stages in execution order.
const (
	StageNormalize PipelineStage = "normalize"
	StageChunk     PipelineStage = "chunk"
	StageEmbed     PipelineStage = "embed"
	StageGraph     PipelineStage = "graph"
)

// PipelineError is a downstream collaborator failure.
type PipelineError struct {
	Stage      PipelineStage
	StatusCode int
	Message    string
	Err        error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s service: %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("%s service returned %d: %s", e.Stage, e.StatusCode, e.Message)
}

// Is makes errors.Is(err, ErrPipeline) match.
func (e *PipelineError) Is(target error) bool {
	return target == ErrPipeline
}

// Unwrap returns the underlying error.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// IsClientError reports a 4xx response, which means the input was rejected
// and retrying the same input will not help.
func (e *PipelineError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// IsSkip reports errors that are a policy skip rather than a failure.
func IsSkip(err error) bool {
	return errors.Is(err, ErrTooLarge) || errors.Is(err, ErrFilteredOut)
}

// IsRetryable reports whether a job failing with err should be retried.
// Auth and unsupported failures fail fast; rejected input is not retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuth) || errors.Is(err, ErrNotConnected) ||
		errors.Is(err, ErrUnsupported) || errors.Is(err, ErrSourceDisconnected) ||
		errors.Is(err, ErrInvalidInput) {
		return false
	}
	var pe *PipelineError
	if errors.As(err, &pe) && pe.IsClientError() {
		return false
	}
	return true
}

// RetryAfter extracts the reset delay from a rate limit error.
func RetryAfter(err error, now time.Time) (time.Duration, bool) {
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		return 0, false
	}
	d := rl.ResetAt.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}
