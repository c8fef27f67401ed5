package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/marcogenualdo/redsktop-proxy/internal/auth"
	"github.com/marcogenualdo/redsktop-proxy/internal/config"
	"golang.org/x/oauth2"
)

type Provider struct {
	oauth2Config oauth2.Config
	profileURL   string
	httpClient   *http.Client
}

func NewProvider(cfg config.RedditConfig, upstream config.UpstreamConfig) *Provider {
	timeout := upstream.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient := &http.Client{
		Timeout: timeout,
		Transport: &userAgentTransport{
			userAgent: upstream.UserAgent,
			base:      http.DefaultTransport,
		},
	}

	return &Provider{
		oauth2Config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		profileURL: strings.TrimRight(upstream.OAuthBaseURL, "/") + "/api/v1/me",
		httpClient: httpClient,
	}
}

// AuthCodeURL asks for a permanent grant so a refresh token is issued.
func (p *Provider) AuthCodeURL(state string) string {
	return p.oauth2Config.AuthCodeURL(state, oauth2.SetAuthURLParam("duration", "permanent"))
}

func (p *Provider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	if token.AccessToken == "" {
		return nil, fmt.Errorf("token response has no access_token")
	}

	return token, nil
}

type meResponse struct {
	Name      string `json:"name"`
	IconImg   string `json:"icon_img"`
	Subreddit *struct {
		Title string `json:"title"`
	} `json:"subreddit"`
}

func (p *Provider) FetchProfile(ctx context.Context, accessToken string) (auth.UserProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.profileURL, nil)
	if err != nil {
		return auth.UserProfile{}, fmt.Errorf("failed to build profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return auth.UserProfile{}, fmt.Errorf("profile request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		return auth.UserProfile{}, fmt.Errorf("profile responded %d", resp.StatusCode)
	}

	var me meResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&me); err != nil {
		return auth.UserProfile{}, fmt.Errorf("failed to decode profile: %w", err)
	}

	if me.Name == "" {
		return auth.UserProfile{}, auth.ErrMalformedProfile
	}

	profile := auth.UserProfile{
		Username: me.Name,
		Avatar:   html.UnescapeString(me.IconImg),
	}
	if me.Subreddit != nil && me.Subreddit.Title != "" {
		profile.DisplayName = me.Subreddit.Title
	}

	return profile, nil
}

type userAgentTransport struct {
	userAgent string
	base      http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(req)
}
