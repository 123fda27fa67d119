package dropbox

import (
	"strings"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

// Config holds the parsed configuration for a Dropbox source.
type Config struct {
	// RootPath is the folder whose sub-tree is synced, "" for the whole
	// Dropbox. Always starts with "/" when set.
	RootPath string

	// AccountID is the Dropbox account id known before Validate.
	AccountID string

	// APIURL replaces the api and content hosts when set.
	APIURL string

	// AppSecret keys X-Dropbox-Signature.
	AppSecret string

	// MaxFileSize caps downloaded content.
	MaxFileSize int64
}

// ParseConfig reads a source's settings into a Config.
func ParseConfig(source domain.Source) (*Config, error) {
	root := strings.Trim(source.Setting("root_path", ""), "/ ")
	if root != "" {
		root = "/" + root
	}
	return &Config{
		RootPath:    root,
		AccountID:   source.Setting("account_id", ""),
		APIURL:      strings.TrimRight(source.Setting("api_url", ""), "/"),
		AppSecret:   source.Config.WebhookSecret,
		MaxFileSize: source.Config.EffectiveMaxFileSize(),
	}, nil
}

// fullPath returns the Dropbox path of a path relative to the root.
func (c *Config) fullPath(rel string) string {
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return c.RootPath
	}
	return c.RootPath + "/" + rel
}

// relPath returns the path of an entry relative to the root. lower is the
// entry's path_lower, used for the case-insensitive prefix check.
func (c *Config) relPath(display, lower string) (string, bool) {
	root := strings.ToLower(c.RootPath)
	if root != "" && !strings.HasPrefix(lower, root+"/") {
		return "", false
	}
	if display == "" || len(display) != len(lower) {
		display = lower
	}
	return strings.TrimPrefix(display[len(root):], "/"), true
}
