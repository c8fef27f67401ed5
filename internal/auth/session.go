package auth

import "time"

// UserProfile is the identity embedded in every bearer token.
type UserProfile struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// Session is the signed token payload. Exp is epoch seconds.
type Session struct {
	UserProfile
	Exp int64 `json:"exp"`
}

type CSRFState struct {
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type PendingAuthResult struct {
	State     string      `json:"state"`
	Token     string      `json:"token"`
	User      UserProfile `json:"user"`
	ExpiresAt time.Time   `json:"expires_at"`
}

type AuthRedirect struct {
	URL   string `json:"url"`
	State string `json:"state"`
}
