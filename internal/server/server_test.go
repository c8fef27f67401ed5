package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marcogenualdo/redsktop-proxy/internal/auth/reddit"
	"github.com/marcogenualdo/redsktop-proxy/internal/cache"
	"github.com/marcogenualdo/redsktop-proxy/internal/config"
	"github.com/marcogenualdo/redsktop-proxy/internal/tokenstore"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	handler       http.Handler
	upstreamCalls *atomic.Int32
}

func newTestEnv(t *testing.T, upstream http.HandlerFunc, mutate func(*config.Config)) *testEnv {
	t.Helper()

	var calls atomic.Int32
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		upstream(w, r)
	}))
	t.Cleanup(upstreamSrv.Close)

	t.Setenv("UPSTREAM_BASE_URL", upstreamSrv.URL)
	t.Setenv("AUTH_SECRET", "server-test-secret")
	t.Setenv("AUTH_USER", "demo")
	t.Setenv("AUTH_PASS", "demo-pass")

	cfg, err := config.Load("")
	require.NoError(t, err)

	noRetries := 0
	cfg.Upstream.MaxRetries = &noRetries
	cfg.TokenStore.Path = filepath.Join(t.TempDir(), "tokens.json")
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	store, err := tokenstore.New(cfg.TokenStore)
	require.NoError(t, err)

	srv, err := New(cfg, Deps{
		Cache:      cache.NewMemoryCache(time.Minute),
		Handshake:  cache.NewMemoryCache(time.Minute),
		UserTokens: store,
		Provider:   reddit.NewProvider(cfg.Reddit, cfg.Upstream),
	}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, srv.Shutdown()) })

	handler, err := srv.Handler()
	require.NoError(t, err)

	return &testEnv{handler: handler, upstreamCalls: &calls}
}

func (e *testEnv) do(t *testing.T, method, target, body, token string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func listing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"kind":"Listing","data":{"children":[{"data":{"title":"<p>Hi</p>","score":12345678901234567890}}]}}`))
}

func TestListingMissThenHit(t *testing.T) {
	env := newTestEnv(t, listing, nil)

	rec := env.do(t, http.MethodGet, "/api/r/test", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "MISS", rec.Header().Get("x-cache-status"))
	require.Contains(t, rec.Body.String(), `"title":"Hi"`)
	require.Contains(t, rec.Body.String(), "12345678901234567890")

	rec = env.do(t, http.MethodGet, "/api/r/test", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "HIT", rec.Header().Get("x-cache-status"))
	require.EqualValues(t, 1, env.upstreamCalls.Load())
}

func TestSearchWithoutQuery(t *testing.T) {
	env := newTestEnv(t, listing, nil)

	rec := env.do(t, http.MethodGet, "/api/search", "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Missing query", errorOf(t, rec))
	require.Zero(t, env.upstreamCalls.Load())
}

func TestUpstreamFailureIsBadGateway(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, nil)

	rec := env.do(t, http.MethodGet, "/api/post/abc", "", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "Upstream service unavailable", errorOf(t, rec))
}

func TestPasswordLoginAndProtectedRoutes(t *testing.T) {
	env := newTestEnv(t, listing, nil)

	rec := env.do(t, http.MethodPost, "/api/actions/vote", `{"id":"t3_x","direction":1}`, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/auth/login", `{"username":"demo","password":"demo-pass"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	require.NotEmpty(t, login.Token)

	rec = env.do(t, http.MethodGet, "/api/auth/me", "", login.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"user":{"username":"demo"}}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/actions/vote", `{"id":"t3_x","direction":1}`, login.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok","action":"vote","id":"t3_x","direction":1}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/actions/save", `{}`, login.Token)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/auth/reddit/unlink", "", login.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"unlinked"}`, rec.Body.String())
}

func TestRedditLoginUnconfigured(t *testing.T) {
	env := newTestEnv(t, listing, nil)

	rec := env.do(t, http.MethodGet, "/api/auth/reddit/login", "", "")
	require.Equal(t, http.StatusNotImplemented, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/auth/reddit/poll/unknown", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"pending"}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/auth/reddit/callback?code=x&state=unknown", "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndNotFound(t *testing.T) {
	env := newTestEnv(t, listing, nil)

	rec := env.do(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ok"`)
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	require.NotEmpty(t, rec.Header().Get("X-Content-Type-Options"))

	rec = env.do(t, http.MethodGet, "/api/unknown", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "Not found", errorOf(t, rec))
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, listing, func(cfg *config.Config) {
		cfg.RateLimit.RequestsPerWindow = 2
		cfg.RateLimit.Burst = 2
	})

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", "", "").Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", "", "").Code)

	rec := env.do(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestNewRequiresDeps(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	store, err := tokenstore.NewFileStore(filepath.Join(t.TempDir(), "tokens.json"))
	require.NoError(t, err)

	deps := Deps{
		Cache:      cache.NewMemoryCache(time.Minute),
		Handshake:  cache.NewMemoryCache(time.Minute),
		UserTokens: store,
	}
	t.Cleanup(func() {
		deps.Cache.Close()
		deps.Handshake.Close()
	})

	_, err = New(cfg, deps, slog.New(slog.DiscardHandler))
	require.ErrorContains(t, err, "oauth provider is required")

	deps.Provider = reddit.NewProvider(cfg.Reddit, cfg.Upstream)
	_, err = New(cfg, deps, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	deps.UserTokens = nil
	_, err = New(cfg, deps, slog.New(slog.DiscardHandler))
	require.Error(t, err)
}
