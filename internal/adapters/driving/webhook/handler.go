package webhook

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-sync/internal/logger"
)

// DefaultMaxBodyBytes caps notification bodies.
const DefaultMaxBodyBytes int64 = 5 << 20

// Handler receives provider notifications.
type Handler struct {
	normalizer   driving.WebhookNormalizer
	maxBodyBytes int64
}

// NewHandler creates a webhook handler.
func NewHandler(normalizer driving.WebhookNormalizer, maxBodyBytes int64) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &Handler{normalizer: normalizer, maxBodyBytes: maxBodyBytes}
}

type receiveResponse struct {
	Outcome driving.WebhookOutcome `json:"outcome"`
	Events  []string               `json:"events,omitempty"`
	Jobs    []string               `json:"jobs,omitempty"`
}

// Receive handles POST /webhooks/:provider. Providers get 200 once the
// event is logged, 401 on a bad signature and 5xx only when nothing was
// logged, so they redeliver.
func (h *Handler) Receive(c *gin.Context) {
	provider, err := domain.ParseProviderType(c.Param("provider"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	req := &domain.WebhookRequest{
		Provider: provider,
		Headers:  c.Request.Header.Clone(),
		Body:     body,
		Query:    query(c),
	}

	ctx := c.Request.Context()
	result, err := h.normalizer.Handle(ctx, req)
	if err != nil {
		logger.CtxError(ctx, "webhook not logged: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook not accepted"})
		return
	}

	c.JSON(result.StatusCode, receiveResponse{
		Outcome: result.Outcome,
		Events:  result.EventIDs,
		Jobs:    result.JobIDs,
	})
}

// DropboxChallenge answers the endpoint verification GET by echoing the
// challenge parameter.
func (h *Handler) DropboxChallenge(c *gin.Context) {
	challenge := c.Query("challenge")
	if challenge == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing challenge"})
		return
	}
	c.Header("X-Content-Type-Options", "nosniff")
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(challenge))
}

// Health returns the health status of the service.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func query(c *gin.Context) map[string]string {
	values := c.Request.URL.Query()
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for k := range values {
		out[k] = values.Get(k)
	}
	return out
}
