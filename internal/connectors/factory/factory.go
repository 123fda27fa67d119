// Package factory builds connectors from an explicit provider map. It is
// constructed once at process start and injected into the services.
package factory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-sync/internal/connectors/bitbucket"
	"github.com/custodia-labs/sercha-sync/internal/connectors/dropbox"
	"github.com/custodia-labs/sercha-sync/internal/connectors/filesystem"
	"github.com/custodia-labs/sercha-sync/internal/connectors/github"
	"github.com/custodia-labs/sercha-sync/internal/connectors/gitlab"
	"github.com/custodia-labs/sercha-sync/internal/connectors/google/drive"
	"github.com/custodia-labs/sercha-sync/internal/connectors/unsupported"
	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// Ensure Factory implements the interface.
var _ driven.ConnectorFactory = (*Factory)(nil)

// TokenProviders creates the TokenProvider a source's connector uses.
type TokenProviders interface {
	CreateTokenProvider(source domain.Source) driven.TokenProvider
}

type registration struct {
	build    driven.ConnectorBuilder
	identify driven.SourceIdentifier
}

// Factory maps provider types to connector builders.
type Factory struct {
	tokens TokenProviders

	mu        sync.RWMutex
	providers map[domain.ProviderType]registration
}

// New creates an empty factory.
func New(tokens TokenProviders) *Factory {
	return &Factory{
		tokens:    tokens,
		providers: make(map[domain.ProviderType]registration),
	}
}

// NewDefault creates a factory with every built-in provider registered.
// timeout bounds each provider API request.
func NewDefault(tokens TokenProviders, timeout time.Duration) *Factory {
	f := New(tokens)
	f.Register(domain.ProviderGitHub, github.Builder(timeout), github.Identify)
	f.Register(domain.ProviderGitLab, gitlab.Builder(timeout), gitlab.Identify)
	f.Register(domain.ProviderBitbucket, bitbucket.Builder(timeout), bitbucket.Identify)
	f.Register(domain.ProviderGDrive, drive.Builder(timeout), drive.Identify)
	f.Register(domain.ProviderDropbox, dropbox.Builder(timeout), dropbox.Identify)
	f.Register(domain.ProviderLocal, filesystem.Builder(), nil)
	for _, p := range []domain.ProviderType{
		domain.ProviderOneDrive,
		domain.ProviderNotion,
		domain.ProviderSlack,
		domain.ProviderConfluence,
		domain.ProviderURL,
	} {
		f.Register(p, unsupported.Builder(), nil)
	}
	return f
}

// Register adds or replaces the builder and identifier for a provider.
// identify may be nil for providers that receive no webhooks.
func (f *Factory) Register(provider domain.ProviderType, builder driven.ConnectorBuilder, identify driven.SourceIdentifier) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.providers[provider] = registration{build: builder, identify: identify}
}

// Create builds the connector for source.
func (f *Factory) Create(_ context.Context, source domain.Source) (driven.Connector, error) {
	f.mu.RLock()
	reg, ok := f.providers[source.Provider]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: provider %q", domain.ErrUnsupportedType, source.Provider)
	}

	var tokens driven.TokenProvider
	if f.tokens != nil {
		tokens = f.tokens.CreateTokenProvider(source)
	}
	conn, err := reg.build(source, tokens)
	if err != nil {
		return nil, fmt.Errorf("build %s connector: %w", source.Provider, err)
	}
	return conn, nil
}

// Identify extracts the external source id from a webhook request.
func (f *Factory) Identify(provider domain.ProviderType, req *domain.WebhookRequest) (string, bool) {
	f.mu.RLock()
	reg, ok := f.providers[provider]
	f.mu.RUnlock()
	if !ok || reg.identify == nil {
		return "", false
	}
	return reg.identify(req)
}

// SupportedTypes returns the registered providers in name order.
func (f *Factory) SupportedTypes() []domain.ProviderType {
	f.mu.RLock()
	defer f.mu.RUnlock()
	types := make([]domain.ProviderType, 0, len(f.providers))
	for p := range f.providers {
		types = append(types, p)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
