package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// DefaultRefreshBuffer is how long before expiry a cached token is re-fetched.
const DefaultRefreshBuffer = 5 * time.Minute

// Ensure SourceTokenProvider implements the TokenProvider interface.
var _ driven.TokenProvider = (*SourceTokenProvider)(nil)

// SourceTokenProvider supplies the bearer token for one source's user and
// provider. The token is cached until shortly before it expires.
type SourceTokenProvider struct {
	credentials driven.CredentialProvider
	userID      string
	provider    domain.ProviderType

	mu            sync.RWMutex
	cached        *domain.Token
	refreshBuffer time.Duration
}

// NewSourceTokenProvider creates a token provider for a source.
func NewSourceTokenProvider(credentials driven.CredentialProvider, source domain.Source) *SourceTokenProvider {
	return &SourceTokenProvider{
		credentials:   credentials,
		userID:        source.UserID,
		provider:      source.Provider,
		refreshBuffer: DefaultRefreshBuffer,
	}
}

// GetToken returns a valid access token, fetching a new one when the cached
// token is missing or about to expire.
func (p *SourceTokenProvider) GetToken(ctx context.Context) (string, error) {
	p.mu.RLock()
	if p.cached.Valid(p.refreshBuffer) {
		token := p.cached.AccessToken
		p.mu.RUnlock()
		return token, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Another caller may have refreshed while we waited.
	if p.cached.Valid(p.refreshBuffer) {
		return p.cached.AccessToken, nil
	}

	token, err := p.credentials.GetToken(ctx, p.userID, p.provider)
	if err != nil {
		if errors.Is(err, domain.ErrNotConnected) {
			return "", err
		}
		return "", fmt.Errorf("get %s token: %w", p.provider, err)
	}
	if token == nil || token.AccessToken == "" {
		return "", fmt.Errorf("%w: empty %s token", domain.ErrNotConnected, p.provider)
	}

	p.cached = token
	return token.AccessToken, nil
}

// IsAuthenticated reports whether a usable token is cached.
func (p *SourceTokenProvider) IsAuthenticated() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cached.Valid(0)
}

// Invalidate drops the cached token so the next call re-fetches it.
func (p *SourceTokenProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached = nil
}
