package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/marcogenualdo/redsktop-proxy/internal/auth/reddit"
	"github.com/marcogenualdo/redsktop-proxy/internal/cache"
	"github.com/marcogenualdo/redsktop-proxy/internal/config"
	"github.com/marcogenualdo/redsktop-proxy/internal/server"
	"github.com/marcogenualdo/redsktop-proxy/internal/tokenstore"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to configuration file (optional, environment only when empty)")
	configPathShort := flag.String("c", "", "path to configuration file (short)")
	showVersion := flag.Bool("version", false, "show version and exit")
	showHelp := flag.Bool("help", false, "show help and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Redsktop Proxy v%s\n", version)
		os.Exit(0)
	}

	if *showHelp {
		fmt.Println("Redsktop Proxy - caching Reddit API proxy with OAuth handshake")
		fmt.Println("\nUsage:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfgPath := *configPath
	if *configPathShort != "" {
		cfgPath = *configPathShort
	}
	if cfgPath == "" {
		cfgPath = os.Getenv("REDSKTOP_CONFIG")
	}

	if err := run(cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	logger.Info("starting redsktop-proxy", "version", version)

	responseCache, err := cache.New(cfg.Cache.Type, cfg.Cache.Redis, cfg.Cache.SweepInterval)
	if err != nil {
		return fmt.Errorf("failed to create cache: %w", err)
	}
	logger.Info("cache initialized",
		"type", cfg.Cache.Type,
		"posts_ttl", cfg.Cache.PostsTTL().String(),
		"comments_ttl", cfg.Cache.CommentsTTL().String(),
	)

	handshake, err := cache.New(cfg.Handshake.Type, cfg.Handshake.Redis, cfg.Handshake.SweepInterval)
	if err != nil {
		responseCache.Close()
		return fmt.Errorf("failed to create handshake store: %w", err)
	}
	logger.Info("handshake store initialized", "type", cfg.Handshake.Type)

	userTokens, err := tokenstore.New(cfg.TokenStore)
	if err != nil {
		responseCache.Close()
		handshake.Close()
		return fmt.Errorf("failed to open token store: %w", err)
	}
	logger.Info("token store initialized", "type", cfg.TokenStore.Type, "path", cfg.TokenStore.Path)

	if !cfg.Reddit.OAuthConfigured() {
		logger.Warn("reddit oauth not configured, login endpoints will return 501")
	}
	if cfg.Auth.Secret == "" {
		logger.Warn("auth secret not configured, bearer-protected endpoints will return 501")
	}

	srv, err := server.New(cfg, server.Deps{
		Cache:      responseCache,
		Handshake:  handshake,
		UserTokens: userTokens,
		Provider:   reddit.NewProvider(cfg.Reddit, cfg.Upstream),
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Start()
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
