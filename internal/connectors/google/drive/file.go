package drive

import (
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
)

// Google Workspace MIME types.
const (
	MimeTypeGoogleDoc    = "application/vnd.google-apps.document"
	MimeTypeGoogleSheet  = "application/vnd.google-apps.spreadsheet"
	MimeTypeGoogleSlides = "application/vnd.google-apps.presentation"
	MimeTypeFolder       = "application/vnd.google-apps.folder"

	nativePrefix = "application/vnd.google-apps."
)

// exportFormat is how a Workspace file is exported.
type exportFormat struct {
	mimeType  string
	extension string
}

// Export formats for Google Workspace files. Other native types (forms,
// drawings, shortcuts) are not synced.
var exportFormats = map[string]exportFormat{
	MimeTypeGoogleDoc:    {"text/plain", ".txt"},
	MimeTypeGoogleSheet:  {"text/csv", ".csv"},
	MimeTypeGoogleSlides: {"text/plain", ".txt"},
}

// fileFields is the partial response requested for files.
const fileFields = "id, name, mimeType, size, md5Checksum, version, modifiedTime, parents, trashed"

// IsNative reports whether a MIME type is a Google Workspace type.
func IsNative(mimeType string) bool {
	return strings.HasPrefix(mimeType, nativePrefix)
}

// DisplayName returns the name a file is synced under. Exported Workspace
// files get the extension of their export format.
func DisplayName(file *drive.File) string {
	format, ok := exportFormats[file.MimeType]
	if !ok || strings.HasSuffix(strings.ToLower(file.Name), format.extension) {
		return file.Name
	}
	return file.Name + format.extension
}

// ContentHash returns the provider fingerprint of a file: the MD5 for
// blobs and the revision number for Workspace files.
func ContentHash(file *drive.File) string {
	if file.Md5Checksum != "" {
		return file.Md5Checksum
	}
	if file.Version > 0 {
		return "v" + strconv.FormatInt(file.Version, 10)
	}
	return file.ModifiedTime
}

// modifiedAt parses the RFC 3339 modification time.
func modifiedAt(file *drive.File) time.Time {
	t, err := time.Parse(time.RFC3339, file.ModifiedTime)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ShouldSyncFile checks if a file should be synced based on config.
func ShouldSyncFile(file *drive.File, cfg *Config) bool {
	if file.MimeType == MimeTypeFolder || file.Trashed {
		return false
	}
	if IsNative(file.MimeType) {
		if _, ok := exportFormats[file.MimeType]; !ok {
			return false
		}
	}

	if len(cfg.MimeTypeFilter) > 0 {
		found := false
		for _, filter := range cfg.MimeTypeFilter {
			if file.MimeType == filter {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	switch file.MimeType {
	case MimeTypeGoogleDoc, MimeTypeGoogleSlides:
		return cfg.HasContentType(ContentDocs)
	case MimeTypeGoogleSheet:
		return cfg.HasContentType(ContentSheets)
	default:
		return cfg.HasContentType(ContentFiles)
	}
}

// escapeQuery escapes a literal for the Drive query language.
func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
