package auth

import (
	"context"

	"golang.org/x/oauth2"
)

// Provider is the upstream OAuth2 authorization server.
type Provider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	FetchProfile(ctx context.Context, accessToken string) (UserProfile, error)
}
