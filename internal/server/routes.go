package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/marcogenualdo/redsktop-proxy/internal/auth"
	"github.com/marcogenualdo/redsktop-proxy/internal/handlers"
	"github.com/marcogenualdo/redsktop-proxy/internal/httpx"
	"github.com/marcogenualdo/redsktop-proxy/internal/middleware"
	"github.com/marcogenualdo/redsktop-proxy/internal/proxy"
	"github.com/marcogenualdo/redsktop-proxy/internal/sanitize"
	"github.com/marcogenualdo/redsktop-proxy/internal/upstream"
)

// Handler builds the full router without starting a listener.
func (s *Server) Handler() (http.Handler, error) {
	return s.setupRoutes()
}

func (s *Server) setupRoutes() (http.Handler, error) {
	cfg := s.cfg

	fetcher := upstream.NewFetcher(upstream.Options{
		UserAgent:  cfg.Upstream.UserAgent,
		MaxRetries: *cfg.Upstream.MaxRetries,
		Timeout:    cfg.Upstream.Timeout,
		Client:     s.deps.HTTPClient,
		Logger:     s.logger.With("component", "upstream"),
	})

	tokens := auth.NewTokenService(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	flow := auth.NewFlow(auth.FlowOptions{
		Reddit:     cfg.Reddit,
		Provider:   s.deps.Provider,
		Tokens:     tokens,
		Handshake:  s.deps.Handshake,
		UserTokens: s.deps.UserTokens,
		StateTTL:   cfg.Handshake.StateTTL,
		ResultTTL:  cfg.Handshake.ResultTTL,
		Logger:     s.logger.With("component", "oauth"),
	})

	proxyHandler := handlers.NewProxyHandler(
		cfg.Cache,
		proxy.NewHandler(s.deps.Cache, sanitize.New(cfg.Sanitize.RedactLinks), s.logger.With("component", "proxy")),
		fetcher,
		upstream.Endpoints{BaseURL: cfg.Upstream.BaseURL},
		s.logger,
	)
	authHandler := handlers.NewAuthHandler(
		auth.NewPasswordLogin(cfg.Auth.Username, cfg.Auth.Password, cfg.Auth.PasswordHash),
		tokens,
		s.logger,
	)
	oauthHandler, err := handlers.NewOAuthHandler(flow, callbackTargetOrigin(cfg.Server.AllowedOrigins), s.logger)
	if err != nil {
		return nil, err
	}
	actionsHandler := handlers.NewActionsHandler(s.logger)
	healthHandler := handlers.NewHealthHandler(cfg, s.deps.Cache, s.deps.Handshake, s.deps.UserTokens, s.logger)

	authMiddleware := middleware.NewAuthMiddleware(tokens, s.logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.Recovery(s.logger))
	r.Use(middleware.Logging(s.logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(cfg.Server))
	if *cfg.RateLimit.Enabled {
		r.Use(middleware.NewRateLimiter(cfg.RateLimit, s.logger).Limit)
	}

	r.Method(http.MethodGet, "/health", healthHandler)

	r.Route("/api", func(r chi.Router) {
		r.Get("/r/{subreddit}", proxyHandler.Listing)
		r.Get("/post/{id}", proxyHandler.Post)
		r.Get("/search", proxyHandler.Search)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", authHandler.Login)
			r.With(authMiddleware.RequireAuth).Get("/me", authHandler.Me)

			r.Get("/reddit/login", oauthHandler.Login)
			r.Get("/reddit/callback", oauthHandler.Callback)
			r.Get("/reddit/poll/{state}", oauthHandler.Poll)
			r.With(authMiddleware.RequireAuth).Post("/reddit/unlink", oauthHandler.Unlink)
		})

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.RequireAuth)
			r.Post("/actions/vote", actionsHandler.Vote)
			r.Post("/actions/save", actionsHandler.Save)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteErrorMessage(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteErrorMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return r, nil
}

// callbackTargetOrigin restricts the callback postMessage to the single
// configured client origin, if there is one.
func callbackTargetOrigin(allowed []string) string {
	if len(allowed) == 1 && allowed[0] != "*" {
		return allowed[0]
	}
	return "*"
}
