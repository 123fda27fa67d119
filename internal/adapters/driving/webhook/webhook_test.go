package webhook

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driving"
)

// mockNormalizer records requests and returns a fixed result.
type mockNormalizer struct {
	got    *domain.WebhookRequest
	result *driving.WebhookResult
	err    error
}

func (m *mockNormalizer) Handle(_ context.Context, req *domain.WebhookRequest) (*driving.WebhookResult, error) {
	m.got = req
	return m.result, m.err
}

func (m *mockNormalizer) Replay(_ context.Context) (int, error) {
	return 0, nil
}

func serve(t *testing.T, n *mockNormalizer, maxBody int64, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	router := SetupRouter(n, Config{Mode: "test", MaxBodyBytes: maxBody})
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestReceive(t *testing.T) {
	t.Run("enqueued", func(t *testing.T) {
		n := &mockNormalizer{result: &driving.WebhookResult{
			StatusCode: http.StatusOK,
			Outcome:    driving.WebhookEnqueued,
			EventIDs:   []string{"ev-1"},
			JobIDs:     []string{"job-1"},
		}}
		rec := serve(t, n, 0, http.MethodPost, "/webhooks/github?x=1", `{"ref":"refs/heads/main"}`,
			map[string]string{"X-GitHub-Event": "push"})

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"outcome":"enqueued","events":["ev-1"],"jobs":["job-1"]}`, rec.Body.String())
		assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))

		require.NotNil(t, n.got)
		assert.Equal(t, domain.ProviderGitHub, n.got.Provider)
		assert.Equal(t, "push", n.got.Header("X-GitHub-Event"))
		assert.Equal(t, `{"ref":"refs/heads/main"}`, string(n.got.Body))
		assert.Equal(t, map[string]string{"x": "1"}, n.got.Query)
	})

	t.Run("bad signature", func(t *testing.T) {
		n := &mockNormalizer{result: &driving.WebhookResult{
			StatusCode: http.StatusUnauthorized,
			Outcome:    driving.WebhookRejected,
			EventIDs:   []string{"ev-1"},
		}}
		rec := serve(t, n, 0, http.MethodPost, "/webhooks/gitlab", "{}", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("not logged", func(t *testing.T) {
		n := &mockNormalizer{err: errors.New("database is locked")}
		rec := serve(t, n, 0, http.MethodPost, "/webhooks/bitbucket", "{}", nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("unknown provider", func(t *testing.T) {
		n := &mockNormalizer{}
		rec := serve(t, n, 0, http.MethodPost, "/webhooks/svn", "{}", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Nil(t, n.got)
	})

	t.Run("body too large", func(t *testing.T) {
		n := &mockNormalizer{}
		rec := serve(t, n, 8, http.MethodPost, "/webhooks/github", strings.Repeat("x", 64), nil)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Nil(t, n.got)
	})

	t.Run("request id is propagated", func(t *testing.T) {
		n := &mockNormalizer{result: &driving.WebhookResult{StatusCode: http.StatusOK, Outcome: driving.WebhookUnmatched}}
		rec := serve(t, n, 0, http.MethodPost, "/webhooks/dropbox", "{}", map[string]string{HeaderRequestID: "req-7"})
		assert.Equal(t, "req-7", rec.Header().Get(HeaderRequestID))
	})
}

func TestDropboxChallenge(t *testing.T) {
	rec := serve(t, &mockNormalizer{}, 0, http.MethodGet, "/webhooks/dropbox?challenge=abc123", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc123", rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = serve(t, &mockNormalizer{}, 0, http.MethodGet, "/webhooks/dropbox", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	rec := serve(t, &mockNormalizer{}, 0, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(&mockNormalizer{}, Config{Mode: "test", ShutdownTimeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
