package connectors

import (
	"context"

	"golang.org/x/oauth2"

	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// TokenSourceAdapter adapts driven.TokenProvider to oauth2.TokenSource so
// provider SDK clients use the source's credential.
type TokenSourceAdapter struct {
	provider driven.TokenProvider
	ctx      context.Context
}

// NewTokenSource creates an oauth2.TokenSource from a TokenProvider.
// ctx is detached from cancellation: the service outlives the call that
// built it.
func NewTokenSource(ctx context.Context, provider driven.TokenProvider) oauth2.TokenSource {
	return &TokenSourceAdapter{
		provider: provider,
		ctx:      context.WithoutCancel(ctx),
	}
}

// Token implements oauth2.TokenSource.
func (t *TokenSourceAdapter) Token() (*oauth2.Token, error) {
	accessToken, err := t.provider.GetToken(t.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}, nil
}
