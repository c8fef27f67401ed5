package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	DefaultUpstreamBaseURL = "https://www.reddit.com"
	DefaultOAuthBaseURL    = "https://oauth.reddit.com"
	DefaultUserAgent       = "RedsktopProxy/0.1 (+https://example.com; not affiliated)"
	DefaultScopes          = "identity read vote submit history save subscribe mysubreddits"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Cache      CacheConfig      `yaml:"cache"`
	Handshake  HandshakeConfig  `yaml:"handshake"`
	Sanitize   SanitizeConfig   `yaml:"sanitize"`
	Auth       AuthConfig       `yaml:"auth"`
	Reddit     RedditConfig     `yaml:"reddit"`
	TokenStore TokenStoreConfig `yaml:"token_store"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port" env:"PORT"`
	PublicBaseURL  string   `yaml:"public_base_url" env:"PUBLIC_BASE_URL"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type UpstreamConfig struct {
	BaseURL      string        `yaml:"base_url" env:"UPSTREAM_BASE_URL"`
	OAuthBaseURL string        `yaml:"oauth_base_url"`
	UserAgent    string        `yaml:"user_agent" env:"UPSTREAM_USER_AGENT"`
	MaxRetries   *int          `yaml:"max_retries"`
	Timeout      time.Duration `yaml:"timeout"`
}

type CacheConfig struct {
	Type               string        `yaml:"type"`
	Redis              *RedisConfig  `yaml:"redis,omitempty"`
	PostsTTLSeconds    int           `yaml:"posts_ttl_seconds" env:"CACHE_TTL_POSTS"`
	CommentsTTLSeconds int           `yaml:"comments_ttl_seconds" env:"CACHE_TTL_COMMENTS"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
}

// HandshakeConfig selects the store for CSRF states and pending auth results.
type HandshakeConfig struct {
	Type          string        `yaml:"type"`
	Redis         *RedisConfig  `yaml:"redis,omitempty"`
	StateTTL      time.Duration `yaml:"state_ttl"`
	ResultTTL     time.Duration `yaml:"result_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type RedisConfig struct {
	Address    string `yaml:"address"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	PoolSize   int    `yaml:"pool_size"`
	MaxRetries int    `yaml:"max_retries"`
	KeyPrefix  string `yaml:"key_prefix"`
}

type SanitizeConfig struct {
	RedactLinks bool `yaml:"redact_links" env:"SANITIZE_REDACT_LINKS"`
}

type AuthConfig struct {
	Secret       string        `yaml:"secret" env:"AUTH_SECRET"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
	Username     string        `yaml:"username" env:"AUTH_USER"`
	Password     string        `yaml:"password" env:"AUTH_PASS"`
	PasswordHash string        `yaml:"password_hash" env:"AUTH_PASS_HASH"`
}

type RedditConfig struct {
	ClientID     string   `yaml:"client_id" env:"REDDIT_CLIENT_ID"`
	ClientSecret string   `yaml:"client_secret" env:"REDDIT_CLIENT_SECRET"`
	RedirectURI  string   `yaml:"redirect_uri" env:"REDDIT_REDIRECT_URI"`
	Scopes       []string `yaml:"scopes" env:"REDDIT_SCOPES" envSeparator:" "`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
}

type TokenStoreConfig struct {
	Type string `yaml:"type"`
	Path string `yaml:"path" env:"TOKEN_STORE_PATH"`
}

type RateLimitConfig struct {
	Enabled           *bool         `yaml:"enabled"`
	RequestsPerWindow int           `yaml:"requests_per_window"`
	Window            time.Duration `yaml:"window"`
	Burst             int           `yaml:"burst"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// Load reads the YAML file at path, if any, then applies environment
// overrides and defaults. An empty path means environment-only.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if err := cfg.setDefaults(); err != nil {
		return nil, fmt.Errorf("failed to set defaults: %w", err)
	}

	return &cfg, nil
}

func (c *Config) loadFromEnv() error {
	if err := env.Parse(c); err != nil {
		return err
	}

	// REDIS_TTL_* predates the in-memory cache and is still honoured.
	if c.Cache.PostsTTLSeconds == 0 {
		c.Cache.PostsTTLSeconds = positiveIntEnv("REDIS_TTL_POSTS")
	}
	if c.Cache.CommentsTTLSeconds == 0 {
		c.Cache.CommentsTTLSeconds = positiveIntEnv("REDIS_TTL_COMMENTS")
	}

	if envPassword := os.Getenv("REDIS_PASSWORD"); envPassword != "" {
		if c.Cache.Redis != nil {
			c.Cache.Redis.Password = envPassword
		}
		if c.Handshake.Redis != nil {
			c.Handshake.Redis.Password = envPassword
		}
	}

	return nil
}

func positiveIntEnv(key string) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

func (c *Config) setDefaults() error {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 4000
	}
	if c.Server.PublicBaseURL == "" {
		c.Server.PublicBaseURL = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}

	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = DefaultUpstreamBaseURL
	}
	if c.Upstream.OAuthBaseURL == "" {
		c.Upstream.OAuthBaseURL = DefaultOAuthBaseURL
	}
	if c.Upstream.UserAgent == "" {
		c.Upstream.UserAgent = DefaultUserAgent
	}
	if c.Upstream.MaxRetries == nil {
		defaultRetries := 3
		c.Upstream.MaxRetries = &defaultRetries
	}
	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = 10 * time.Second
	}

	if c.Cache.Type == "" {
		c.Cache.Type = "memory"
	}
	if c.Cache.PostsTTLSeconds <= 0 {
		c.Cache.PostsTTLSeconds = 30
	}
	if c.Cache.CommentsTTLSeconds <= 0 {
		c.Cache.CommentsTTLSeconds = 300
	}
	if c.Cache.SweepInterval == 0 {
		c.Cache.SweepInterval = time.Minute
	}
	setRedisDefaults(c.Cache.Redis, "redsktop:cache:")

	if c.Handshake.Type == "" {
		c.Handshake.Type = "memory"
	}
	if c.Handshake.StateTTL == 0 {
		c.Handshake.StateTTL = 5 * time.Minute
	}
	if c.Handshake.ResultTTL == 0 {
		c.Handshake.ResultTTL = 5 * time.Minute
	}
	if c.Handshake.SweepInterval == 0 {
		c.Handshake.SweepInterval = 30 * time.Second
	}
	setRedisDefaults(c.Handshake.Redis, "redsktop:auth:")

	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}

	if c.Reddit.RedirectURI == "" {
		c.Reddit.RedirectURI = "http://localhost:8910/auth/reddit/callback"
	}
	if len(c.Reddit.Scopes) == 0 {
		c.Reddit.Scopes = strings.Fields(DefaultScopes)
	}
	if c.Reddit.AuthURL == "" {
		c.Reddit.AuthURL = DefaultUpstreamBaseURL + "/api/v1/authorize"
	}
	if c.Reddit.TokenURL == "" {
		c.Reddit.TokenURL = DefaultUpstreamBaseURL + "/api/v1/access_token"
	}

	if c.TokenStore.Type == "" {
		c.TokenStore.Type = "file"
	}
	if c.TokenStore.Path == "" {
		if c.TokenStore.Type == "sqlite" {
			c.TokenStore.Path = "data/user-tokens.db"
		} else {
			c.TokenStore.Path = "data/user-tokens.json"
		}
	}

	if c.RateLimit.Enabled == nil {
		defaultEnabled := true
		c.RateLimit.Enabled = &defaultEnabled
	}
	if c.RateLimit.RequestsPerWindow == 0 {
		c.RateLimit.RequestsPerWindow = 120
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = time.Minute
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = c.RateLimit.RequestsPerWindow
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}

func setRedisDefaults(r *RedisConfig, prefix string) {
	if r == nil {
		return
	}
	if r.PoolSize == 0 {
		r.PoolSize = 10
	}
	if r.MaxRetries == 0 {
		r.MaxRetries = 3
	}
	if r.KeyPrefix == "" {
		r.KeyPrefix = prefix
	}
}

// OAuthConfigured reports whether the login step can build an authorization URL.
func (r RedditConfig) OAuthConfigured() bool {
	return r.ClientID != "" && r.RedirectURI != ""
}

// ExchangeConfigured reports whether the callback step can exchange a code.
func (r RedditConfig) ExchangeConfigured() bool {
	return r.OAuthConfigured() && r.ClientSecret != ""
}

func (c CacheConfig) PostsTTL() time.Duration {
	return time.Duration(c.PostsTTLSeconds) * time.Second
}

func (c CacheConfig) CommentsTTL() time.Duration {
	return time.Duration(c.CommentsTTLSeconds) * time.Second
}
