package gitlab

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/custodia-labs/sercha-sync/internal/connectors"
	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

const (
	// HeaderToken carries the hook secret token.
	HeaderToken = "X-Gitlab-Token"

	// HeaderEvent carries the event name.
	HeaderEvent = "X-Gitlab-Event"

	pushEvent = "Push Hook"
)

type pushPayload struct {
	ObjectKind string `json:"object_kind"`
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Project    struct {
		PathWithNamespace string `json:"path_with_namespace"`
		DefaultBranch     string `json:"default_branch"`
	} `json:"project"`
	Commits []struct {
		ID        string    `json:"id"`
		Timestamp time.Time `json:"timestamp"`
		Added     []string  `json:"added"`
		Modified  []string  `json:"modified"`
		Removed   []string  `json:"removed"`
	} `json:"commits"`
}

// ValidateWebhook compares X-Gitlab-Token with the hook secret.
func (c *Connector) ValidateWebhook(req *domain.WebhookRequest) bool {
	if req == nil {
		return false
	}
	return connectors.ValidToken(c.config.Secret, req.Header(HeaderToken))
}

// ParseWebhook converts a push to the synced branch into file changes in
// commit order. A push that deletes the branch carries an all-zero after
// sha and yields nothing.
func (c *Connector) ParseWebhook(req *domain.WebhookRequest) []domain.FileChange {
	if req == nil || req.Header(HeaderEvent) != pushEvent {
		return nil
	}
	var push pushPayload
	if err := json.Unmarshal(req.Body, &push); err != nil || push.ObjectKind != "push" {
		return nil
	}
	if strings.Trim(push.After, "0") == "" {
		return nil
	}

	c.mu.Lock()
	branch := c.branch
	c.mu.Unlock()
	if branch == "" {
		branch = push.Project.DefaultBranch
	}
	if push.Ref != "refs/heads/"+branch {
		return nil
	}

	var changes []domain.FileChange
	for _, commit := range push.Commits {
		emit := func(paths []string, kind domain.ChangeKind) {
			for _, p := range paths {
				changes = append(changes, domain.FileChange{
					Path:     p,
					Kind:     kind,
					Sequence: connectors.Sequence(commit.Timestamp, len(changes)),
					Cursor:   commit.ID,
				})
			}
		}
		emit(commit.Added, domain.ChangeAdded)
		emit(commit.Modified, domain.ChangeModified)
		emit(commit.Removed, domain.ChangeRemoved)
	}
	return changes
}

// Identify extracts the project path from a webhook payload.
func Identify(req *domain.WebhookRequest) (string, bool) {
	if req == nil {
		return "", false
	}
	var payload pushPayload
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return "", false
	}
	path := strings.TrimSpace(payload.Project.PathWithNamespace)
	return path, path != ""
}
