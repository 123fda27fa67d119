package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-sync/internal/adapters/driven/auth"
	"github.com/custodia-labs/sercha-sync/internal/config"
	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Chdir(t.TempDir())

	cfg, err := config.Load("")
	require.NoError(t, err)

	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.QueueDSN = "memory://"
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.Mode = "test"
	cfg.Log.File = ""
	return cfg
}

func writeManifest(t *testing.T, root string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sources.toml")
	body := `
[[sources]]
id = "notes"
name = "Notes"
provider = "local"
[sources.settings]
root_path = "` + root + `"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestNew(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Sync)
	assert.NotNil(t, a.Sources)
	assert.NotNil(t, a.Webhooks)
	assert.NotNil(t, a.Scheduler)
	assert.NotNil(t, a.Watches)
	assert.NotNil(t, a.Server)

	sources, err := a.Sources.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestNew_Errors(t *testing.T) {
	t.Run("bad retention mode", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Retention.Mode = "forever"
		_, err := New(context.Background(), cfg)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("unknown queue scheme", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Storage.QueueDSN = "amqp://localhost"
		_, err := New(context.Background(), cfg)
		assert.ErrorIs(t, err, domain.ErrUnsupportedType)
	})

	t.Run("bad static token provider", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Auth.Tokens = map[string]string{"svn": "x"}
		_, err := New(context.Background(), cfg)
		assert.ErrorIs(t, err, domain.ErrUnsupportedType)
	})
}

func TestBuildCredentials(t *testing.T) {
	creds, err := buildCredentials(config.AuthConfig{ServiceURL: "http://auth:8080"})
	require.NoError(t, err)
	assert.IsType(t, &auth.HTTPCredentials{}, creds)

	creds, err = buildCredentials(config.AuthConfig{Tokens: map[string]string{"github": "ghp_x"}})
	require.NoError(t, err)
	assert.IsType(t, &auth.StaticCredentials{}, creds)

	creds, err = buildCredentials(config.AuthConfig{})
	require.NoError(t, err)
	assert.IsType(t, auth.NullCredentials{}, creds)
}

func TestNew_LocalPipelineStages(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.Normalizer = "local"
	cfg.Pipeline.Chunker = "local"

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.NoError(t, a.Close())
}

func TestDeclare(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Sources = writeManifest(t, t.TempDir())

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	require.NoError(t, a.Declare(ctx))

	src, err := a.Sources.Get(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderLocal, src.Provider)
	assert.Equal(t, "Notes", src.Name)
	require.NotNil(t, src.Webhook)
	assert.Equal(t, domain.WebhookWatch, src.Webhook.Kind)

	jobs, err := a.Sources.Jobs(ctx, domain.JobFilter{SourceID: "notes"})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	// Declaring again refreshes instead of reconnecting.
	require.NoError(t, a.Declare(ctx))
	jobs, err = a.Sources.Jobs(ctx, domain.JobFilter{SourceID: "notes"})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Sources = writeManifest(t, t.TempDir())

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		src, err := a.Sources.Get(context.Background(), "notes")
		return err == nil && src.Status == domain.SourceStatusSynced
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("app did not stop")
	}
}
