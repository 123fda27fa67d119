package bitbucket

import (
	"encoding/json"
	"strings"

	"github.com/custodia-labs/sercha-sync/internal/connectors"
	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

const (
	// HeaderSignature carries "sha256=" plus the hex HMAC of the body.
	HeaderSignature = "X-Hub-Signature"

	// HeaderEvent carries the event key, for example "repo:push".
	HeaderEvent = "X-Event-Key"
)

// ValidateWebhook verifies X-Hub-Signature against the hook secret.
func (c *Connector) ValidateWebhook(req *domain.WebhookRequest) bool {
	if req == nil {
		return false
	}
	return connectors.ValidHMACSHA256(c.config.Secret, req.Body, req.Header(HeaderSignature), "sha256=")
}

// ParseWebhook returns no changes: push payloads list commits without files.
// The orchestrator falls back to ListChanges for change-feed connectors.
func (c *Connector) ParseWebhook(*domain.WebhookRequest) []domain.FileChange {
	return nil
}

// Identify extracts the repository full name from a webhook payload.
func Identify(req *domain.WebhookRequest) (string, bool) {
	if req == nil {
		return "", false
	}
	var payload struct {
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return "", false
	}
	name := strings.TrimSpace(payload.Repository.FullName)
	return name, name != ""
}
