package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

type countingCredentials struct {
	mu    sync.Mutex
	calls int
	token *domain.Token
	err   error
}

func (c *countingCredentials) GetToken(_ context.Context, _ string, _ domain.ProviderType) (*domain.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	tok := *c.token
	return &tok, nil
}

func TestSourceTokenProvider_CachesUntilBuffer(t *testing.T) {
	creds := &countingCredentials{token: &domain.Token{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}}
	p := NewSourceTokenProvider(creds, domain.Source{UserID: "u1", Provider: domain.ProviderGitHub})

	assert.False(t, p.IsAuthenticated())
	for i := 0; i < 3; i++ {
		tok, err := p.GetToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok", tok)
	}
	assert.Equal(t, 1, creds.calls)
	assert.True(t, p.IsAuthenticated())

	p.Invalidate()
	_, err := p.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, creds.calls)
}

func TestSourceTokenProvider_RefetchesNearExpiry(t *testing.T) {
	creds := &countingCredentials{token: &domain.Token{AccessToken: "tok", ExpiresAt: time.Now().Add(2 * time.Minute)}}
	p := NewSourceTokenProvider(creds, domain.Source{UserID: "u1", Provider: domain.ProviderGitLab})

	_, err := p.GetToken(context.Background())
	require.NoError(t, err)
	_, err = p.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, creds.calls)
}

func TestSourceTokenProvider_NotConnected(t *testing.T) {
	p := NewSourceTokenProvider(NullCredentials{}, domain.Source{Provider: domain.ProviderDropbox})
	_, err := p.GetToken(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestStaticCredentials(t *testing.T) {
	s, err := NewStaticCredentials(map[string]string{"github": "gh-token", "gitlab": ""})
	require.NoError(t, err)

	tok, err := s.GetToken(context.Background(), "anyone", domain.ProviderGitHub)
	require.NoError(t, err)
	assert.Equal(t, "gh-token", tok.AccessToken)
	assert.True(t, tok.ExpiresAt.IsZero())

	_, err = s.GetToken(context.Background(), "anyone", domain.ProviderGitLab)
	assert.ErrorIs(t, err, domain.ErrNotConnected)

	_, err = NewStaticCredentials(map[string]string{"svn": "x"})
	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
}

func TestHTTPCredentials_GetToken(t *testing.T) {
	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(HeaderInternalAPIKey) != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/api/auth/internal/tokens/github":
			assert.Equal(t, "u1", r.URL.Query().Get("user_id"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"abc","expires_at":"2030-01-01T00:00:00Z"}`))
		default:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"not connected"}`))
		}
	}))
	defer srv.Close()

	client := NewHTTPCredentials(HTTPConfig{BaseURL: srv.URL, APIKey: "secret"})

	t.Run("ok", func(t *testing.T) {
		tok, err := client.GetToken(context.Background(), "u1", domain.ProviderGitHub)
		require.NoError(t, err)
		assert.Equal(t, "abc", tok.AccessToken)
		assert.True(t, expires.Equal(tok.ExpiresAt))
	})

	t.Run("not connected", func(t *testing.T) {
		_, err := client.GetToken(context.Background(), "u1", domain.ProviderGDrive)
		assert.ErrorIs(t, err, domain.ErrNotConnected)
	})

	t.Run("bad api key", func(t *testing.T) {
		bad := NewHTTPCredentials(HTTPConfig{BaseURL: srv.URL, APIKey: "wrong"})
		_, err := bad.GetToken(context.Background(), "u1", domain.ProviderGitHub)
		assert.ErrorIs(t, err, domain.ErrAuth)
	})
}

func TestFactory_CreateTokenProvider(t *testing.T) {
	f := NewFactory(nil)

	local := f.CreateTokenProvider(domain.Source{Provider: domain.ProviderLocal})
	assert.IsType(t, &NullTokenProvider{}, local)
	tok, err := local.GetToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tok)

	remote := f.CreateTokenProvider(domain.Source{Provider: domain.ProviderGitHub})
	assert.IsType(t, &SourceTokenProvider{}, remote)
}
