package google

import (
	"context"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// NewDriveService creates a Drive API service authenticated by ts.
// timeout bounds each HTTP request including downloads. A non-empty
// endpoint replaces the default API base URL.
func NewDriveService(ctx context.Context, ts oauth2.TokenSource, endpoint string, timeout time.Duration) (*drive.Service, error) {
	hc := oauth2.NewClient(ctx, ts)
	hc.Timeout = timeout
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	return drive.NewService(ctx, opts...)
}
