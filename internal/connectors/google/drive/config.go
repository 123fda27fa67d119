package drive

import (
	"strconv"
	"strings"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

// ContentType identifies what content to sync from Google Drive.
type ContentType string

const (
	// ContentFiles syncs regular files.
	ContentFiles ContentType = "files"
	// ContentDocs syncs Google Docs and Slides (exported to text).
	ContentDocs ContentType = "docs"
	// ContentSheets syncs Google Sheets (exported to CSV).
	ContentSheets ContentType = "sheets"
)

// DefaultContentTypes are the content types synced by default.
var DefaultContentTypes = []ContentType{ContentFiles, ContentDocs, ContentSheets}

const (
	// DefaultFolderID is the alias of the user's My Drive root.
	DefaultFolderID = "root"

	// DefaultPageSize is the files.list page size.
	DefaultPageSize = 100
)

// Config holds Google Drive connector configuration.
type Config struct {
	// FolderID is the folder whose sub-tree is synced.
	FolderID string

	// ContentTypes specifies what types of content to sync.
	ContentTypes []ContentType

	// MimeTypeFilter limits syncing to specific MIME types (optional).
	MimeTypeFilter []string

	// PageSize is the page size for list requests.
	PageSize int64

	// APIURL overrides the Drive API base URL.
	APIURL string

	// ChannelID is the push notification channel id webhooks carry.
	ChannelID string

	// ChannelToken is compared with X-Goog-Channel-Token.
	ChannelToken string

	// MaxFileSize caps downloaded and exported content.
	MaxFileSize int64
}

// ParseConfig extracts configuration from a Source.
func ParseConfig(source domain.Source) (*Config, error) {
	cfg := &Config{
		FolderID:     source.Setting("folder_id", DefaultFolderID),
		ContentTypes: DefaultContentTypes,
		PageSize:     DefaultPageSize,
		APIURL:       source.Setting("api_url", ""),
		ChannelID:    source.Setting("channel_id", "sercha-"+source.ID),
		ChannelToken: source.Config.WebhookSecret,
		MaxFileSize:  source.Config.EffectiveMaxFileSize(),
	}

	if val := source.Setting("content_types", ""); val != "" {
		cfg.ContentTypes = nil
		for _, t := range splitList(val) {
			if ct := ContentType(t); isValidContentType(ct) {
				cfg.ContentTypes = append(cfg.ContentTypes, ct)
			}
		}
	}
	cfg.MimeTypeFilter = splitList(source.Setting("mime_types", ""))

	if val := source.Setting("page_size", ""); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil && n > 0 && n <= 1000 {
			cfg.PageSize = n
		}
	}
	return cfg, nil
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// HasContentType checks if a content type is enabled.
func (c *Config) HasContentType(ct ContentType) bool {
	for _, t := range c.ContentTypes {
		if t == ct {
			return true
		}
	}
	return false
}

func isValidContentType(ct ContentType) bool {
	switch ct {
	case ContentFiles, ContentDocs, ContentSheets:
		return true
	default:
		return false
	}
}
