package drive

import (
	"strings"

	"github.com/custodia-labs/sercha-sync/internal/connectors"
	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

// Push notification headers.
const (
	HeaderChannelID     = "X-Goog-Channel-ID"
	HeaderChannelToken  = "X-Goog-Channel-Token"
	HeaderResourceState = "X-Goog-Resource-State"
)

// ValidateWebhook checks the channel id and token of a push notification.
func (c *Connector) ValidateWebhook(req *domain.WebhookRequest) bool {
	if req == nil || req.Header(HeaderChannelID) != c.config.ChannelID {
		return false
	}
	return connectors.ValidToken(c.config.ChannelToken, req.Header(HeaderChannelToken))
}

// ParseWebhook returns no changes: notifications only say that the change
// feed moved.
func (c *Connector) ParseWebhook(*domain.WebhookRequest) []domain.FileChange {
	return nil
}

// Identify returns the channel id of a push notification.
func Identify(req *domain.WebhookRequest) (string, bool) {
	if req == nil {
		return "", false
	}
	id := strings.TrimSpace(req.Header(HeaderChannelID))
	return id, id != ""
}
