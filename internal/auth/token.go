package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultTokenTTL = 24 * time.Hour
	tokenSeparator  = "."
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUnconfigured = errors.New("auth secret not configured")
)

// TokenService issues and verifies self-contained bearer tokens of the form
// base64url(json payload) "." hex(hmac-sha256(payload)). There is no
// server-side session table.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenService(secret string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (s *TokenService) Configured() bool {
	return len(s.secret) > 0
}

func (s *TokenService) Issue(user UserProfile) (string, error) {
	return s.IssueWithTTL(user, s.ttl)
}

func (s *TokenService) IssueWithTTL(user UserProfile, ttl time.Duration) (string, error) {
	if !s.Configured() {
		return "", ErrUnconfigured
	}
	if user.Username == "" {
		return "", fmt.Errorf("username is required")
	}

	payload, err := json.Marshal(Session{
		UserProfile: user,
		Exp:         s.now().Add(ttl).Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode session: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + tokenSeparator + s.sign(encoded), nil
}

// Verify returns the embedded profile of a valid, unexpired token. Every
// malformed input yields ErrInvalidToken.
func (s *TokenService) Verify(token string) (UserProfile, error) {
	if !s.Configured() {
		return UserProfile{}, ErrUnconfigured
	}

	parts := strings.Split(token, tokenSeparator)
	if len(parts) != 2 || parts[0] == "" {
		return UserProfile{}, ErrInvalidToken
	}
	encoded, signature := parts[0], parts[1]

	expected := s.sign(encoded)
	if len(signature) != len(expected) {
		return UserProfile{}, ErrInvalidToken
	}
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return UserProfile{}, ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return UserProfile{}, ErrInvalidToken
	}

	var claims struct {
		Username    string `json:"username"`
		DisplayName string `json:"displayName"`
		Avatar      string `json:"avatar"`
		Exp         *int64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return UserProfile{}, ErrInvalidToken
	}

	if claims.Username == "" || claims.Exp == nil {
		return UserProfile{}, ErrInvalidToken
	}
	if *claims.Exp <= s.now().Unix() {
		return UserProfile{}, ErrInvalidToken
	}

	return UserProfile{
		Username:    claims.Username,
		DisplayName: claims.DisplayName,
		Avatar:      claims.Avatar,
	}, nil
}

func (s *TokenService) sign(encoded string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(encoded))
	return hex.EncodeToString(mac.Sum(nil))
}

// ExtractBearer returns the token from an "Authorization: Bearer <token>"
// header value, or "" when the header has another shape.
func ExtractBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
