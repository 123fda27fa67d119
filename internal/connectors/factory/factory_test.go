package factory

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-sync/internal/connectors/unsupported"
	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

type staticTokens struct{}

func (staticTokens) GetToken(context.Context) (string, error) { return "tok", nil }
func (staticTokens) IsAuthenticated() bool                    { return true }

type tokenFactory struct{ calls int }

func (f *tokenFactory) CreateTokenProvider(domain.Source) driven.TokenProvider {
	f.calls++
	return staticTokens{}
}

func TestNewDefault_Providers(t *testing.T) {
	f := NewDefault(&tokenFactory{}, time.Second)
	assert.Equal(t, []domain.ProviderType{
		domain.ProviderBitbucket,
		domain.ProviderConfluence,
		domain.ProviderDropbox,
		domain.ProviderGDrive,
		domain.ProviderGitHub,
		domain.ProviderGitLab,
		domain.ProviderLocal,
		domain.ProviderNotion,
		domain.ProviderOneDrive,
		domain.ProviderSlack,
		domain.ProviderURL,
	}, f.SupportedTypes())
}

func TestFactory_Create(t *testing.T) {
	tokens := &tokenFactory{}
	f := NewDefault(tokens, time.Second)
	ctx := context.Background()

	t.Run("github", func(t *testing.T) {
		conn, err := f.Create(ctx, domain.Source{
			ID:       "src-1",
			Provider: domain.ProviderGitHub,
			Config:   domain.SourceConfig{Settings: map[string]string{"repository": "acme/api"}},
		})
		require.NoError(t, err)
		assert.Equal(t, domain.ProviderGitHub, conn.Type())
		assert.Equal(t, "src-1", conn.SourceID())
		assert.Equal(t, 1, tokens.calls)
	})

	t.Run("local", func(t *testing.T) {
		conn, err := f.Create(ctx, domain.Source{
			ID:       "src-2",
			Provider: domain.ProviderLocal,
			Config:   domain.SourceConfig{Settings: map[string]string{"root_path": t.TempDir()}},
		})
		require.NoError(t, err)
		assert.True(t, conn.Capabilities().SupportsWatch)
	})

	t.Run("stub", func(t *testing.T) {
		conn, err := f.Create(ctx, domain.Source{ID: "src-3", Provider: domain.ProviderSlack})
		require.NoError(t, err)
		assert.IsType(t, &unsupported.Connector{}, conn)
		assert.ErrorIs(t, conn.Validate(ctx), domain.ErrUnsupported)
	})

	t.Run("bad config", func(t *testing.T) {
		_, err := f.Create(ctx, domain.Source{Provider: domain.ProviderGitLab})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := f.Create(ctx, domain.Source{Provider: "svn"})
		assert.ErrorIs(t, err, domain.ErrUnsupportedType)
	})
}

func TestFactory_RegisterAndIdentify(t *testing.T) {
	f := New(nil)
	built := errors.New("built")
	f.Register("custom", func(domain.Source, driven.TokenProvider) (driven.Connector, error) {
		return nil, built
	}, func(req *domain.WebhookRequest) (string, bool) {
		return req.Header("X-Custom-Id"), true
	})

	_, err := f.Create(context.Background(), domain.Source{Provider: "custom"})
	assert.ErrorIs(t, err, built)

	id, ok := f.Identify("custom", &domain.WebhookRequest{Headers: http.Header{"X-Custom-Id": {"ext-1"}}})
	assert.True(t, ok)
	assert.Equal(t, "ext-1", id)

	_, ok = f.Identify("missing", &domain.WebhookRequest{})
	assert.False(t, ok)

	d := NewDefault(nil, time.Second)
	_, ok = d.Identify(domain.ProviderLocal, &domain.WebhookRequest{})
	assert.False(t, ok)
	id, ok = d.Identify(domain.ProviderGDrive, &domain.WebhookRequest{Headers: http.Header{"X-Goog-Channel-Id": {"sercha-src"}}})
	assert.True(t, ok)
	assert.Equal(t, "sercha-src", id)
}
