package bitbucket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/sercha-sync/internal/connectors"
	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

type mockTokenProvider struct {
	token string
}

func (p *mockTokenProvider) GetToken(_ context.Context) (string, error) {
	return p.token, nil
}

func (p *mockTokenProvider) IsAuthenticated() bool {
	return p.token != ""
}

// fakeBitbucket serves the subset of the 2.0 API the connector uses.
type fakeBitbucket struct {
	mu       sync.Mutex
	srvURL   string
	files    map[string]string
	head     string
	hooks    []Hook
	deleted  []string
	userCode int
	diff     []map[string]any
	authSeen string
	specSeen string
}

func (f *fakeBitbucket) handler() http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, code int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(v)
	}
	notFound := func(w http.ResponseWriter) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]string{"message": "not found"}})
	}

	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.authSeen = r.Header.Get("Authorization")
		code := f.userCode
		f.mu.Unlock()
		if code != 0 {
			writeJSON(w, code, map[string]any{"error": map[string]string{"message": "denied"}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"username": "me"})
	})
	mux.HandleFunc("GET /repositories/{ws}/{slug}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"full_name": "acme/api", "mainbranch": map[string]string{"name": "main"}})
	})
	mux.HandleFunc("GET /repositories/{ws}/{slug}/refs/branches/{branch}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("branch") != "main" {
			notFound(w)
			return
		}
		f.mu.Lock()
		head := f.head
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"target": map[string]any{"hash": head, "date": "2024-03-01T10:00:00Z"}})
	})
	mux.HandleFunc("GET /repositories/{ws}/{slug}/src/{commit}/{path...}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		p := strings.Trim(r.PathValue("path"), "/")
		if body, ok := f.files[p]; ok {
			_, _ = w.Write([]byte(body))
			return
		}
		// directory listing: children of p, split across two pages at the root
		prefix := ""
		if p != "" {
			prefix = p + "/"
		}
		seen := map[string]bool{}
		var values []map[string]any
		for path, body := range f.files {
			if !strings.HasPrefix(path, prefix) {
				continue
			}
			rest := strings.TrimPrefix(path, prefix)
			if i := strings.Index(rest, "/"); i >= 0 {
				dir := prefix + rest[:i]
				if !seen[dir] {
					seen[dir] = true
					values = append(values, map[string]any{"type": "commit_directory", "path": dir})
				}
				continue
			}
			values = append(values, map[string]any{"type": "commit_file", "path": path, "size": len(body)})
		}
		if len(values) == 0 {
			notFound(w)
			return
		}
		if p == "" && r.URL.Query().Get("page") == "" {
			writeJSON(w, http.StatusOK, map[string]any{"values": []any{}, "next": f.srvURL + r.URL.Path + "?page=2"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"values": values})
	})
	mux.HandleFunc("GET /repositories/{ws}/{slug}/hooks", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"values": f.hooks})
	})
	mux.HandleFunc("POST /repositories/{ws}/{slug}/hooks", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			URL    string   `json:"url"`
			Secret string   `json:"secret"`
			Events []string `json:"events"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Secret == "" || len(body.Events) != 1 || body.Events[0] != "repo:push" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]string{"message": "bad hook"}})
			return
		}
		f.mu.Lock()
		hook := Hook{UUID: "{hook-1}", URL: body.URL, Active: true, Events: body.Events}
		f.hooks = append(f.hooks, hook)
		f.mu.Unlock()
		writeJSON(w, http.StatusCreated, hook)
	})
	mux.HandleFunc("DELETE /repositories/{ws}/{slug}/hooks/{uid}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		uid := r.PathValue("uid")
		f.deleted = append(f.deleted, uid)
		if uid == "{gone}" {
			notFound(w)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /repositories/{ws}/{slug}/diffstat/{spec}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.specSeen = r.PathValue("spec")
		if strings.HasSuffix(f.specSeen, "..gone") {
			notFound(w)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"values": f.diff})
	})
	return mux
}

func newTestConnector(t *testing.T, fake *fakeBitbucket, cfg domain.SourceConfig) *Connector {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	fake.srvURL = srv.URL

	if cfg.Settings == nil {
		cfg.Settings = map[string]string{}
	}
	cfg.Settings["repository"] = "acme/api"
	cfg.Settings["api_url"] = srv.URL
	source := domain.Source{ID: "src-1", Provider: domain.ProviderBitbucket, Config: cfg}

	conn, err := Builder(5*time.Second)(source, &mockTokenProvider{token: "tok"})
	require.NoError(t, err)
	c := conn.(*Connector)
	c.client.SetRate(rate.Inf, 1)
	return c
}

func drain(t *testing.T, c *Connector, opts driven.ListOptions) ([]string, string) {
	t.Helper()
	files, errs := c.ListFiles(context.Background(), opts)
	var out []string
	for f := range files {
		out = append(out, f.Path)
	}
	var cursor string
	for err := range errs {
		sc, ok := driven.IsSyncComplete(err)
		require.True(t, ok, "unexpected error: %v", err)
		cursor = sc.NewCursor
	}
	return out, cursor
}

func TestParseConfig(t *testing.T) {
	for _, repo := range []string{"", "acme", "acme/api/x", "/api"} {
		_, err := ParseConfig(domain.Source{Config: domain.SourceConfig{Settings: map[string]string{"repository": repo}}})
		assert.ErrorIs(t, err, domain.ErrInvalidInput, repo)
	}

	cfg, err := ParseConfig(domain.Source{Config: domain.SourceConfig{
		Settings: map[string]string{"repository": "acme/api", "username": "bot"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "acme/api", cfg.FullName())
	assert.Equal(t, "bot", cfg.Username)
	assert.Equal(t, DefaultAPIURL, cfg.APIURL)
}

func TestConnector_Validate(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		fake := &fakeBitbucket{head: "c1"}
		c := newTestConnector(t, fake, domain.SourceConfig{})
		require.NoError(t, c.Validate(context.Background()))
		assert.Equal(t, "Bearer tok", fake.authSeen)
		assert.Equal(t, "acme/api", c.ExternalID())
	})

	t.Run("basic auth", func(t *testing.T) {
		fake := &fakeBitbucket{head: "c1"}
		c := newTestConnector(t, fake, domain.SourceConfig{Settings: map[string]string{"username": "bot"}})
		require.NoError(t, c.Validate(context.Background()))
		assert.True(t, strings.HasPrefix(fake.authSeen, "Basic "))
	})

	t.Run("forbidden", func(t *testing.T) {
		c := newTestConnector(t, &fakeBitbucket{userCode: http.StatusForbidden}, domain.SourceConfig{})
		assert.ErrorIs(t, c.Validate(context.Background()), domain.ErrAuth)
	})

	t.Run("missing branch", func(t *testing.T) {
		c := newTestConnector(t, &fakeBitbucket{head: "c1"}, domain.SourceConfig{Branch: "dev"})
		assert.ErrorIs(t, c.Validate(context.Background()), domain.ErrNotFound)
	})
}

func TestConnector_ListFiles(t *testing.T) {
	fake := &fakeBitbucket{head: "c7", files: map[string]string{
		"README.md":     "# api",
		"main.go":       "package main",
		"src/a.go":      "package src",
		"src/deep/b.go": "package deep",
		"img/logo.png":  "png",
	}}
	c := newTestConnector(t, fake, domain.SourceConfig{ExcludePaths: []string{"*.md"}})

	paths, cursor := drain(t, c, driven.ListOptions{Recursive: true})
	assert.Equal(t, "c7", cursor)
	assert.ElementsMatch(t, []string{"main.go", "src/a.go", "src/deep/b.go"}, paths)

	paths, _ = drain(t, c, driven.ListOptions{PathPrefix: "/src/"})
	assert.Equal(t, []string{"src/a.go"}, paths)
}

func TestConnector_GetFileContent(t *testing.T) {
	fake := &fakeBitbucket{head: "c1", files: map[string]string{
		"src/a b.go": "package src",
		"big.txt":    strings.Repeat("x", 64),
	}}
	c := newTestConnector(t, fake, domain.SourceConfig{MaxFileSizeBytes: 32})
	ctx := context.Background()

	data, err := c.GetFileContent(ctx, "src/a b.go")
	require.NoError(t, err)
	assert.Equal(t, "package src", string(data))

	_, err = c.GetFileContent(ctx, "big.txt")
	assert.ErrorIs(t, err, domain.ErrTooLarge)

	_, err = c.GetFileContent(ctx, "nope/missing.go")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConnector_Webhooks(t *testing.T) {
	fake := &fakeBitbucket{head: "c1"}
	c := newTestConnector(t, fake, domain.SourceConfig{WebhookSecret: "s3cret"})
	ctx := context.Background()

	h1, err := c.SetupWebhook(ctx, "https://sync.example.com/webhooks/bitbucket")
	require.NoError(t, err)
	assert.Equal(t, "{hook-1}", h1.ID)

	h2, err := c.SetupWebhook(ctx, "https://sync.example.com/webhooks/bitbucket")
	require.NoError(t, err)
	assert.Equal(t, h1.ID, h2.ID)
	assert.Len(t, fake.hooks, 1)

	require.NoError(t, c.RemoveWebhook(ctx, *h1))
	require.NoError(t, c.RemoveWebhook(ctx, domain.WebhookHandle{ID: "{gone}"}))
	assert.Equal(t, []string{"{hook-1}", "{gone}"}, fake.deleted)
	assert.ErrorIs(t, c.RemoveWebhook(ctx, domain.WebhookHandle{}), domain.ErrInvalidInput)

	noSecret := newTestConnector(t, &fakeBitbucket{head: "c1"}, domain.SourceConfig{})
	_, err = noSecret.SetupWebhook(ctx, "https://sync.example.com/webhooks/bitbucket")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestConnector_ListChanges(t *testing.T) {
	fake := &fakeBitbucket{head: "c2", diff: []map[string]any{
		{"status": "added", "new": map[string]string{"path": "new.go"}},
		{"status": "modified", "old": map[string]string{"path": "mod.go"}, "new": map[string]string{"path": "mod.go"}},
		{"status": "renamed", "old": map[string]string{"path": "old.go"}, "new": map[string]string{"path": "moved.go"}},
		{"status": "removed", "old": map[string]string{"path": "gone.go"}},
	}}
	c := newTestConnector(t, fake, domain.SourceConfig{})
	ctx := context.Background()

	changes, next, err := c.ListChanges(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c2", next)
	assert.Equal(t, "c2..c1", fake.specSeen)

	var kinds []string
	for _, ch := range changes {
		kinds = append(kinds, string(ch.Kind)+":"+ch.Path)
		assert.Equal(t, "c2", ch.Cursor)
	}
	assert.Equal(t, []string{
		string(domain.ChangeAdded) + ":new.go",
		string(domain.ChangeModified) + ":mod.go",
		string(domain.ChangeRemoved) + ":old.go",
		string(domain.ChangeAdded) + ":moved.go",
		string(domain.ChangeRemoved) + ":gone.go",
	}, kinds)

	changes, next, err = c.ListChanges(ctx, "c2")
	require.NoError(t, err)
	assert.Empty(t, changes)
	assert.Equal(t, "c2", next)

	_, _, err = c.ListChanges(ctx, "gone")
	assert.ErrorIs(t, err, domain.ErrCursorInvalid)
}

func TestConnector_ValidateWebhook(t *testing.T) {
	c := newTestConnector(t, &fakeBitbucket{}, domain.SourceConfig{WebhookSecret: "s3cret"})
	body := []byte(`{"repository":{"full_name":"acme/api"},"push":{"changes":[]}}`)

	req := func(sig string) *domain.WebhookRequest {
		h := http.Header{}
		h.Set(HeaderEvent, "repo:push")
		if sig != "" {
			h.Set(HeaderSignature, sig)
		}
		return &domain.WebhookRequest{Provider: domain.ProviderBitbucket, Headers: h, Body: body}
	}

	assert.True(t, c.ValidateWebhook(req("sha256="+connectors.SignHMACSHA256("s3cret", body))))
	assert.False(t, c.ValidateWebhook(req("sha256="+connectors.SignHMACSHA256("other", body))))
	assert.False(t, c.ValidateWebhook(req(connectors.SignHMACSHA256("s3cret", body))))
	assert.False(t, c.ValidateWebhook(req("")))
	assert.False(t, c.ValidateWebhook(nil))

	assert.Empty(t, c.ParseWebhook(req("")))

	id, ok := Identify(req(""))
	assert.True(t, ok)
	assert.Equal(t, "acme/api", id)
	_, ok = Identify(&domain.WebhookRequest{Body: []byte("nope")})
	assert.False(t, ok)
}
