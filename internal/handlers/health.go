package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/marcogenualdo/redsktop-proxy/internal/cache"
	"github.com/marcogenualdo/redsktop-proxy/internal/config"
	"github.com/marcogenualdo/redsktop-proxy/internal/tokenstore"
)

// Response and handshake keys always contain a colon; the probe key never does.
const healthProbeKey = "__health__"

type HealthHandler struct {
	cfg        *config.Config
	cache      cache.Cache
	handshake  cache.Cache
	userTokens tokenstore.Store
	logger     *slog.Logger
	startTime  time.Time
}

func NewHealthHandler(cfg *config.Config, c cache.Cache, handshake cache.Cache, userTokens tokenstore.Store, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		cfg:        cfg,
		cache:      c,
		handshake:  handshake,
		userTokens: userTokens,
		logger:     logger,
		startTime:  time.Now(),
	}
}

type HealthResponse struct {
	Status     string          `json:"status"`
	Uptime     string          `json:"uptime"`
	Cache      ComponentHealth `json:"cache"`
	Handshake  ComponentHealth `json:"handshake"`
	TokenStore ComponentHealth `json:"token_store"`
}

type ComponentHealth struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:     "ok",
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Cache:      h.probeCache(ctx, h.cfg.Cache.Type, h.cache),
		Handshake:  h.probeCache(ctx, h.cfg.Handshake.Type, h.handshake),
		TokenStore: ComponentHealth{Type: h.cfg.TokenStore.Type, Status: "connected"},
	}

	if err := h.userTokens.Ping(ctx); err != nil {
		h.logger.Warn("token store health check failed", "error", err)
		response.TokenStore.Status = "unavailable"
	}

	for _, c := range []ComponentHealth{response.Cache, response.Handshake, response.TokenStore} {
		if c.Status != "connected" {
			response.Status = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if response.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	json.NewEncoder(w).Encode(response)
}

func (h *HealthHandler) probeCache(ctx context.Context, storeType string, c cache.Cache) ComponentHealth {
	health := ComponentHealth{Type: storeType, Status: "connected"}

	if err := c.Set(ctx, healthProbeKey, []byte("ok"), time.Minute); err != nil {
		h.logger.Warn("cache health check failed", "type", storeType, "error", err)
		health.Status = "unavailable"
		return health
	}
	if err := c.Delete(ctx, healthProbeKey); err != nil {
		h.logger.Warn("failed to remove health probe key", "type", storeType, "error", err)
	}

	return health
}
