package dropbox

import (
	"encoding/json"

	"github.com/custodia-labs/sercha-sync/internal/connectors"
	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

// HeaderSignature carries the hex HMAC-SHA256 of the body keyed with the
// app secret.
const HeaderSignature = "X-Dropbox-Signature"

// ValidateWebhook verifies X-Dropbox-Signature.
func (c *Connector) ValidateWebhook(req *domain.WebhookRequest) bool {
	if req == nil {
		return false
	}
	return connectors.ValidHMACSHA256(c.config.AppSecret, req.Body, req.Header(HeaderSignature), "")
}

// ParseWebhook returns no changes: notifications only name accounts.
func (c *Connector) ParseWebhook(*domain.WebhookRequest) []domain.FileChange {
	return nil
}

type notification struct {
	ListFolder struct {
		Accounts []string `json:"accounts"`
	} `json:"list_folder"`
}

// Identify returns the first account a notification names. Dropbox batches
// accounts per app, so only sources of the first account are matched.
func Identify(req *domain.WebhookRequest) (string, bool) {
	if req == nil {
		return "", false
	}
	var n notification
	if err := json.Unmarshal(req.Body, &n); err != nil || len(n.ListFolder.Accounts) == 0 {
		return "", false
	}
	return n.ListFolder.Accounts[0], n.ListFolder.Accounts[0] != ""
}
