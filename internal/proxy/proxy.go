package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcogenualdo/redsktop-proxy/internal/apperr"
	"github.com/marcogenualdo/redsktop-proxy/internal/cache"
	"github.com/marcogenualdo/redsktop-proxy/internal/sanitize"
	"golang.org/x/sync/singleflight"
)

const CacheStatusHeader = "x-cache-status"

type Status string

const (
	StatusHit  Status = "HIT"
	StatusMiss Status = "MISS"
)

type FetchFunc func(ctx context.Context) (any, error)

// Handler is a cache-aside pipeline in front of an upstream fetch. Misses on
// the same key are coalesced so that concurrent callers share one fetch.
type Handler struct {
	cache     cache.Cache
	sanitizer sanitize.Sanitizer
	logger    *slog.Logger
	group     singleflight.Group
}

func NewHandler(c cache.Cache, sanitizer sanitize.Sanitizer, logger *slog.Logger) *Handler {
	return &Handler{
		cache:     c,
		sanitizer: sanitizer,
		logger:    logger,
	}
}

type flightResult struct {
	body   []byte
	status Status
}

// Handle returns the sanitized JSON body for key and whether it came from
// the cache. Failed fetches are never cached.
func (h *Handler) Handle(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc) ([]byte, Status, error) {
	if body, ok := h.lookup(ctx, key); ok {
		return body, StatusHit, nil
	}

	// The flight outlives any single caller so one disconnect does not fail
	// everyone waiting on the same key.
	flightCtx := context.WithoutCancel(ctx)

	v, err, shared := h.group.Do(key, func() (any, error) {
		if body, ok := h.lookup(flightCtx, key); ok {
			return flightResult{body: body, status: StatusHit}, nil
		}

		data, err := fetch(flightCtx)
		if err != nil {
			return nil, err
		}

		body, err := json.Marshal(h.sanitizer.Sanitize(data))
		if err != nil {
			return nil, fmt.Errorf("failed to encode response: %w", err)
		}

		if err := h.cache.Set(flightCtx, key, body, ttl); err != nil {
			h.logger.Warn("failed to write cache", "key", key, "error", err)
		}

		return flightResult{body: body, status: StatusMiss}, nil
	})
	if err != nil {
		if !apperr.Is(err, apperr.KindUpstream) {
			err = apperr.Upstream("Upstream service unavailable", err)
		}
		return nil, "", err
	}

	res := v.(flightResult)
	if shared {
		h.logger.Debug("coalesced upstream fetch", "key", key)
	}

	return res.body, res.status, nil
}

func (h *Handler) lookup(ctx context.Context, key string) ([]byte, bool) {
	body, err := h.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			h.logger.Warn("cache read failed, treating as miss", "key", key, "error", err)
		}
		return nil, false
	}
	return body, true
}
