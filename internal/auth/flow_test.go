package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/marcogenualdo/redsktop-proxy/internal/apperr"
	"github.com/marcogenualdo/redsktop-proxy/internal/cache"
	"github.com/marcogenualdo/redsktop-proxy/internal/config"
	"github.com/marcogenualdo/redsktop-proxy/internal/tokenstore"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeProvider struct {
	mu          sync.Mutex
	exchangeErr error
	profileErr  error
	profile     UserProfile
	codes       []string
}

func (p *fakeProvider) AuthCodeURL(state string) string {
	return "https://auth.test/authorize?state=" + url.QueryEscape(state)
}

func (p *fakeProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	p.mu.Lock()
	p.codes = append(p.codes, code)
	p.mu.Unlock()

	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	tok := &oauth2.Token{
		AccessToken:  "access-" + code,
		RefreshToken: "refresh-" + code,
		Expiry:       time.Now().Add(time.Hour),
	}
	return tok.WithExtra(map[string]interface{}{"scope": "identity read"}), nil
}

func (p *fakeProvider) FetchProfile(ctx context.Context, accessToken string) (UserProfile, error) {
	if p.profileErr != nil {
		return UserProfile{}, p.profileErr
	}
	return p.profile, nil
}

type flowFixture struct {
	flow     *Flow
	provider *fakeProvider
	tokens   *TokenService
	store    tokenstore.Store
}

func testRedditConfig() config.RedditConfig {
	return config.RedditConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURI:  "http://localhost:4000/api/auth/reddit/callback",
	}
}

func newFlowFixture(t *testing.T, reddit config.RedditConfig) *flowFixture {
	t.Helper()

	handshake := cache.NewMemoryCache(time.Minute)
	t.Cleanup(func() { handshake.Close() })

	store, err := tokenstore.NewFileStore(filepath.Join(t.TempDir(), "tokens.json"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	provider := &fakeProvider{profile: UserProfile{Username: "alice", DisplayName: "Alice"}}
	tokens := NewTokenService("flow-secret", time.Hour)

	flow := NewFlow(FlowOptions{
		Reddit:     reddit,
		Provider:   provider,
		Tokens:     tokens,
		Handshake:  handshake,
		UserTokens: store,
		StateTTL:   time.Minute,
		ResultTTL:  time.Minute,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	return &flowFixture{flow: flow, provider: provider, tokens: tokens, store: store}
}

func TestFlowFullHandshake(t *testing.T) {
	fx := newFlowFixture(t, testRedditConfig())
	ctx := context.Background()

	redirect, err := fx.flow.Start(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, redirect.State)
	require.Contains(t, redirect.URL, url.QueryEscape(redirect.State))

	_, ready, err := fx.flow.Poll(ctx, redirect.State)
	require.NoError(t, err)
	require.False(t, ready)

	result, err := fx.flow.Callback(ctx, CallbackParams{Code: "abc", State: redirect.State})
	require.NoError(t, err)
	require.Equal(t, redirect.State, result.State)
	require.Equal(t, "alice", result.User.Username)

	user, err := fx.tokens.Verify(result.Token)
	require.NoError(t, err)
	require.Equal(t, "alice", user.Username)

	stored, err := fx.store.Get(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "access-abc", stored.AccessToken)
	require.Equal(t, "refresh-abc", stored.RefreshToken)
	require.Equal(t, "identity read", stored.Scope)

	polled, ready, err := fx.flow.Poll(ctx, redirect.State)
	require.NoError(t, err)
	require.True(t, ready)
	require.Equal(t, result.Token, polled.Token)
	require.Equal(t, result.User, polled.User)

	_, ready, err = fx.flow.Poll(ctx, redirect.State)
	require.NoError(t, err)
	require.False(t, ready)
}

func TestFlowStateIsSingleUse(t *testing.T) {
	fx := newFlowFixture(t, testRedditConfig())
	ctx := context.Background()

	redirect, err := fx.flow.Start(ctx)
	require.NoError(t, err)

	_, err = fx.flow.Callback(ctx, CallbackParams{Code: "abc", State: redirect.State})
	require.NoError(t, err)

	_, err = fx.flow.Callback(ctx, CallbackParams{Code: "abc", State: redirect.State})
	require.True(t, apperr.Is(err, apperr.KindValidation))
	require.Equal(t, MsgInvalidState, apperr.Message(err))
	require.Equal(t, []string{"abc"}, fx.provider.codes)
}

func TestFlowStatesAreUnique(t *testing.T) {
	fx := newFlowFixture(t, testRedditConfig())

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		redirect, err := fx.flow.Start(context.Background())
		require.NoError(t, err)
		require.False(t, seen[redirect.State])
		seen[redirect.State] = true
	}
}

func TestFlowCallbackUnknownState(t *testing.T) {
	fx := newFlowFixture(t, testRedditConfig())

	for _, state := range []string{"", "never-issued"} {
		_, err := fx.flow.Callback(context.Background(), CallbackParams{Code: "abc", State: state})
		require.Equal(t, 400, apperr.Status(err))
		require.Equal(t, MsgInvalidState, apperr.Message(err))
	}
	require.Empty(t, fx.provider.codes)
}

func TestFlowCallbackFailures(t *testing.T) {
	tests := []struct {
		name    string
		reddit  func(*config.RedditConfig)
		setup   func(*fakeProvider)
		params  CallbackParams
		status  int
		message string
	}{
		{
			name:    "provider error param",
			params:  CallbackParams{Error: "access_denied"},
			status:  400,
			message: MsgAccessDenied,
		},
		{
			name:    "missing code",
			params:  CallbackParams{},
			status:  400,
			message: MsgMissingCode,
		},
		{
			name:    "missing client secret",
			reddit:  func(r *config.RedditConfig) { r.ClientSecret = "" },
			params:  CallbackParams{Code: "abc"},
			status:  400,
			message: MsgUnconfigured,
		},
		{
			name:    "exchange failure",
			setup:   func(p *fakeProvider) { p.exchangeErr = errors.New("401 Unauthorized") },
			params:  CallbackParams{Code: "abc"},
			status:  502,
			message: MsgExchange,
		},
		{
			name:    "profile without name",
			setup:   func(p *fakeProvider) { p.profileErr = ErrMalformedProfile },
			params:  CallbackParams{Code: "abc"},
			status:  502,
			message: MsgProfile,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reddit := testRedditConfig()
			if tt.reddit != nil {
				tt.reddit(&reddit)
			}
			fx := newFlowFixture(t, reddit)
			if tt.setup != nil {
				tt.setup(fx.provider)
			}
			ctx := context.Background()

			redirect, err := fx.flow.Start(ctx)
			require.NoError(t, err)

			params := tt.params
			params.State = redirect.State
			_, err = fx.flow.Callback(ctx, params)
			require.Error(t, err)
			require.Equal(t, tt.status, apperr.Status(err))
			require.Equal(t, tt.message, apperr.Message(err))

			_, ready, err := fx.flow.Poll(ctx, redirect.State)
			require.NoError(t, err)
			require.False(t, ready)

			_, err = fx.store.Get(ctx, "alice")
			require.ErrorIs(t, err, tokenstore.ErrNotFound)
		})
	}
}

func TestFlowStartUnconfigured(t *testing.T) {
	reddit := testRedditConfig()
	reddit.ClientID = ""
	fx := newFlowFixture(t, reddit)

	_, err := fx.flow.Start(context.Background())
	require.True(t, apperr.Is(err, apperr.KindUnconfigured))
	require.Equal(t, 501, apperr.Status(err))
}

func TestFlowPollExpiredResult(t *testing.T) {
	fx := newFlowFixture(t, testRedditConfig())
	ctx := context.Background()

	redirect, err := fx.flow.Start(ctx)
	require.NoError(t, err)
	_, err = fx.flow.Callback(ctx, CallbackParams{Code: "abc", State: redirect.State})
	require.NoError(t, err)

	fx.flow.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	_, ready, err := fx.flow.Poll(ctx, redirect.State)
	require.NoError(t, err)
	require.False(t, ready)
}

func TestFlowPollDeliversOnceUnderContention(t *testing.T) {
	fx := newFlowFixture(t, testRedditConfig())
	ctx := context.Background()

	redirect, err := fx.flow.Start(ctx)
	require.NoError(t, err)
	_, err = fx.flow.Callback(ctx, CallbackParams{Code: "abc", State: redirect.State})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ready, err := fx.flow.Poll(ctx, redirect.State)
			if err == nil && ready {
				mu.Lock()
				delivered++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, delivered)
}

func TestFlowUnlink(t *testing.T) {
	fx := newFlowFixture(t, testRedditConfig())
	ctx := context.Background()

	redirect, err := fx.flow.Start(ctx)
	require.NoError(t, err)
	_, err = fx.flow.Callback(ctx, CallbackParams{Code: "abc", State: redirect.State})
	require.NoError(t, err)

	require.NoError(t, fx.flow.Unlink(ctx, "alice"))
	_, err = fx.store.Get(ctx, "alice")
	require.ErrorIs(t, err, tokenstore.ErrNotFound)

	require.NoError(t, fx.flow.Unlink(ctx, "alice"))
}
