package drive

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

// CursorVersion is the current cursor format version.
const CursorVersion = 1

// Cursor tracks Drive sync state using the Changes API.
type Cursor struct {
	// Version is the cursor format version.
	Version int `json:"v"`

	// PageToken is the changes.list page token to resume from.
	PageToken string `json:"page_token"`
}

// NewCursor creates a cursor at pageToken.
func NewCursor(pageToken string) *Cursor {
	return &Cursor{Version: CursorVersion, PageToken: pageToken}
}

// Encode serialises the cursor for storage on the source.
func (c *Cursor) Encode() string {
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeCursor parses a stored cursor. Undecodable, newer or empty
// cursors fail with domain.ErrCursorInvalid.
func DecodeCursor(s string) (*Cursor, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: drive cursor: %w", domain.ErrCursorInvalid, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, fmt.Errorf("%w: drive cursor: %w", domain.ErrCursorInvalid, err)
	}
	if cursor.Version > CursorVersion || cursor.PageToken == "" {
		return nil, fmt.Errorf("%w: drive cursor version %d", domain.ErrCursorInvalid, cursor.Version)
	}
	return &cursor, nil
}
