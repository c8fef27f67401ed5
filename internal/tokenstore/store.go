// Package tokenstore persists each user's upstream OAuth token pair across
// restarts.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marcogenualdo/redsktop-proxy/internal/config"
)

var ErrNotFound = errors.New("user token not found")

type UserToken struct {
	Username     string    `json:"username"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scope        string    `json:"scope,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store is keyed by username. Upsert replaces any previous entry and Delete
// of a missing username is not an error.
type Store interface {
	Get(ctx context.Context, username string) (*UserToken, error)
	Upsert(ctx context.Context, token UserToken) error
	Delete(ctx context.Context, username string) error
	Ping(ctx context.Context) error
	Close() error
}

func New(cfg config.TokenStoreConfig) (Store, error) {
	switch cfg.Type {
	case "file":
		return NewFileStore(cfg.Path)
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported token store type: %s", cfg.Type)
	}
}
