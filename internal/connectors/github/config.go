package github

import (
	"fmt"
	"strings"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

// Config holds the parsed configuration for a GitHub source.
type Config struct {
	// Owner is the user or organisation.
	Owner string

	// Repo is the repository name.
	Repo string

	// Branch is the ref to sync. Empty resolves to the default branch.
	Branch string

	// APIURL overrides the API base URL for GitHub Enterprise.
	APIURL string

	// Secret verifies webhook signatures.
	Secret string

	// MaxFileSize caps downloaded content.
	MaxFileSize int64
}

// ParseConfig reads a source's settings into a Config.
func ParseConfig(source domain.Source) (*Config, error) {
	repository := strings.Trim(source.Setting("repository", ""), "/ ")
	owner, repo, ok := strings.Cut(repository, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return nil, fmt.Errorf("%w: github repository must be owner/name, got %q", domain.ErrInvalidInput, repository)
	}

	return &Config{
		Owner:       owner,
		Repo:        repo,
		Branch:      source.Config.Branch,
		APIURL:      source.Setting("api_url", ""),
		Secret:      source.Config.WebhookSecret,
		MaxFileSize: source.Config.EffectiveMaxFileSize(),
	}, nil
}

// FullName returns owner/repo, the identifier push webhooks carry.
func (c *Config) FullName() string {
	return c.Owner + "/" + c.Repo
}
