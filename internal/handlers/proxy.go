package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/marcogenualdo/redsktop-proxy/internal/apperr"
	"github.com/marcogenualdo/redsktop-proxy/internal/config"
	"github.com/marcogenualdo/redsktop-proxy/internal/httpx"
	"github.com/marcogenualdo/redsktop-proxy/internal/proxy"
	"github.com/marcogenualdo/redsktop-proxy/internal/upstream"
)

type Fetcher interface {
	Fetch(ctx context.Context, url string) (any, error)
}

// ProxyHandler serves the read-only listing, post and search routes.
type ProxyHandler struct {
	cfg       config.CacheConfig
	proxy     *proxy.Handler
	fetcher   Fetcher
	endpoints upstream.Endpoints
	logger    *slog.Logger
}

func NewProxyHandler(cfg config.CacheConfig, p *proxy.Handler, fetcher Fetcher, endpoints upstream.Endpoints, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		cfg:       cfg,
		proxy:     p,
		fetcher:   fetcher,
		endpoints: endpoints,
		logger:    logger,
	}
}

func (h *ProxyHandler) Listing(w http.ResponseWriter, r *http.Request) {
	subreddit := chi.URLParam(r, "subreddit")
	after := r.URL.Query().Get("after")

	key := fmt.Sprintf("subreddit:%s:%s", subreddit, after)
	h.serve(w, r, key, h.cfg.PostsTTL(), h.endpoints.Listing(subreddit, after))
}

func (h *ProxyHandler) Post(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	h.serve(w, r, "post:"+id, h.cfg.CommentsTTL(), h.endpoints.Post(id))
}

func (h *ProxyHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		httpx.WriteError(w, r, h.logger, apperr.Validation("Missing query"))
		return
	}

	h.serve(w, r, "search:"+q, h.cfg.PostsTTL(), h.endpoints.Search(q))
}

func (h *ProxyHandler) serve(w http.ResponseWriter, r *http.Request, key string, ttl time.Duration, url string) {
	body, status, err := h.proxy.Handle(r.Context(), key, ttl, func(ctx context.Context) (any, error) {
		return h.fetcher.Fetch(ctx, url)
	})
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	w.Header().Set(proxy.CacheStatusHeader, string(status))
	httpx.WriteRawJSON(w, http.StatusOK, body)
}
