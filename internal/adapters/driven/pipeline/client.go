package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

// DefaultTimeout bounds one pipeline call.
const DefaultTimeout = 60 * time.Second

// Config configures one pipeline service client.
type Config struct {
	// BaseURL is the service base URL.
	BaseURL string

	// APIKey is sent as X-Internal-Api-Key when set.
	APIKey string

	// Timeout bounds each request (default: 60s).
	Timeout time.Duration
}

// client is the resty client shared by the stage clients.
type client struct {
	stage domain.PipelineStage
	http  *resty.Client
}

type errorBody struct {
	Detail  string `json:"detail"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (e errorBody) text() string {
	for _, s := range []string{e.Detail, e.Message, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

func newClient(stage domain.PipelineStage, cfg Config) *client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		c.SetHeader("X-Internal-Api-Key", cfg.APIKey)
	}
	return &client{stage: stage, http: c}
}

// post sends body to route and decodes the response into result.
func (c *client) post(ctx context.Context, route string, body, result any) error {
	var failure errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(result).
		SetError(&failure).
		Post(route)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &domain.PipelineError{Stage: c.stage, Message: "request failed", Err: err}
	}
	if resp.IsError() {
		msg := failure.text()
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		return &domain.PipelineError{Stage: c.stage, StatusCode: resp.StatusCode(), Message: msg}
	}
	return nil
}

func mismatch(stage domain.PipelineStage, what string, got, want int) error {
	return &domain.PipelineError{
		Stage:   stage,
		Message: fmt.Sprintf("returned %d %s for %d chunks", got, what, want),
	}
}
