package github

import (
	"encoding/json"
	"strings"

	gh "github.com/google/go-github/v80/github"

	"github.com/custodia-labs/sercha-sync/internal/connectors"
	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

const (
	// HeaderSignature carries the HMAC-SHA256 of the body.
	HeaderSignature = "X-Hub-Signature-256"

	// HeaderEvent carries the event name.
	HeaderEvent = "X-GitHub-Event"
)

// ValidateWebhook verifies X-Hub-Signature-256 against the hook secret.
func (c *Connector) ValidateWebhook(req *domain.WebhookRequest) bool {
	if req == nil || c.config.Secret == "" {
		return false
	}
	return gh.ValidateSignature(req.Header(HeaderSignature), req.Body, []byte(c.config.Secret)) == nil
}

// ParseWebhook converts a push to the synced branch into file changes, in
// commit order. Other events, other branches and malformed payloads yield
// no changes.
func (c *Connector) ParseWebhook(req *domain.WebhookRequest) []domain.FileChange {
	if req == nil || req.Header(HeaderEvent) != "push" {
		return nil
	}
	payload, err := gh.ParseWebHook("push", req.Body)
	if err != nil {
		return nil
	}
	push, ok := payload.(*gh.PushEvent)
	if !ok || push.GetDeleted() {
		return nil
	}

	c.mu.Lock()
	branch := c.branch
	c.mu.Unlock()
	if branch == "" {
		branch = push.GetRepo().GetDefaultBranch()
	}
	if push.GetRef() != "refs/heads/"+branch {
		return nil
	}

	return pushChanges(push.Commits)
}

// pushChanges flattens commits into changes. Within a commit additions come
// first, then modifications, then removals.
func pushChanges(commits []*gh.HeadCommit) []domain.FileChange {
	var changes []domain.FileChange
	for _, commit := range commits {
		at := commit.GetTimestamp().Time
		emit := func(paths []string, kind domain.ChangeKind) {
			for _, p := range paths {
				changes = append(changes, domain.FileChange{
					Path:     p,
					Kind:     kind,
					Sequence: connectors.Sequence(at, len(changes)),
					Cursor:   commit.GetID(),
				})
			}
		}
		emit(commit.Added, domain.ChangeAdded)
		emit(commit.Modified, domain.ChangeModified)
		emit(commit.Removed, domain.ChangeRemoved)
	}
	return changes
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
