package gitlab

import (
	"fmt"
	"strings"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

// DefaultAPIURL is the gitlab.com API base.
const DefaultAPIURL = "https://gitlab.com/api/v4"

// Config holds the parsed configuration for a GitLab source.
type Config struct {
	// Project is the project path or numeric id.
	Project string

	// Branch is the ref to sync. Empty resolves to the default branch.
	Branch string

	// APIURL is the API v4 base URL.
	APIURL string

	// Secret is the hook token.
	Secret string

	// MaxFileSize caps downloaded content.
	MaxFileSize int64
}

// ParseConfig reads a source's settings into a Config.
func ParseConfig(source domain.Source) (*Config, error) {
	project := strings.Trim(source.Setting("project", source.Setting("repository", "")), "/ ")
	if project == "" {
		return nil, fmt.Errorf("%w: gitlab project is required", domain.ErrInvalidInput)
	}
	return &Config{
		Project:     project,
		Branch:      source.Config.Branch,
		APIURL:      strings.TrimRight(source.Setting("api_url", DefaultAPIURL), "/"),
		Secret:      source.Config.WebhookSecret,
		MaxFileSize: source.Config.EffectiveMaxFileSize(),
	}, nil
}
