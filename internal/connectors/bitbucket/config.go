package bitbucket

import (
	"fmt"
	"strings"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

// DefaultAPIURL is the Bitbucket Cloud API base.
const DefaultAPIURL = "https://api.bitbucket.org/2.0"

// Config holds the parsed configuration for a Bitbucket source.
type Config struct {
	Workspace   string
	Repo        string
	Branch      string
	APIURL      string
	Username    string
	Secret      string
	MaxFileSize int64
}

// ParseConfig reads a source's settings into a Config.
func ParseConfig(source domain.Source) (*Config, error) {
	full := strings.Trim(source.Setting("repository", ""), "/ ")
	parts := strings.Split(full, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("%w: bitbucket repository must be workspace/slug, got %q", domain.ErrInvalidInput, full)
	}
	return &Config{
		Workspace:   parts[0],
		Repo:        parts[1],
		Branch:      source.Config.Branch,
		APIURL:      strings.TrimRight(source.Setting("api_url", DefaultAPIURL), "/"),
		Username:    source.Setting("username", ""),
		Secret:      source.Config.WebhookSecret,
		MaxFileSize: source.Config.EffectiveMaxFileSize(),
	}, nil
}

// FullName returns workspace/slug.
func (c *Config) FullName() string {
	return c.Workspace + "/" + c.Repo
}
