package config

import (
	"fmt"
	"net/url"
	"strings"
)

func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.validateUpstream(); err != nil {
		return fmt.Errorf("upstream config: %w", err)
	}

	if err := validateStore(c.Cache.Type, c.Cache.Redis); err != nil {
		return fmt.Errorf("cache config: %w", err)
	}

	if err := validateStore(c.Handshake.Type, c.Handshake.Redis); err != nil {
		return fmt.Errorf("handshake config: %w", err)
	}

	if err := c.validateReddit(); err != nil {
		return fmt.Errorf("reddit config: %w", err)
	}

	if err := c.validateTokenStore(); err != nil {
		return fmt.Errorf("token_store config: %w", err)
	}

	if err := c.validateRateLimit(); err != nil {
		return fmt.Errorf("rate_limit config: %w", err)
	}

	if err := c.validateLogging(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if _, err := url.Parse(c.Server.PublicBaseURL); err != nil {
		return fmt.Errorf("invalid public_base_url: %w", err)
	}

	return nil
}

func (c *Config) validateUpstream() error {
	for name, raw := range map[string]string{
		"base_url":       c.Upstream.BaseURL,
		"oauth_base_url": c.Upstream.OAuthBaseURL,
	} {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("invalid %s: scheme must be http or https", name)
		}
	}

	if *c.Upstream.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}

	if c.Upstream.Timeout < 0 {
		return fmt.Errorf("timeout must be positive")
	}

	return nil
}

func validateStore(storeType string, redis *RedisConfig) error {
	if storeType != "memory" && storeType != "redis" {
		return fmt.Errorf("invalid type: %s (must be memory or redis)", storeType)
	}

	if storeType == "redis" {
		if redis == nil {
			return fmt.Errorf("redis config is required when type is redis")
		}
		if redis.Address == "" {
			return fmt.Errorf("redis address is required")
		}
	}

	return nil
}

// validateReddit only checks what is set. Missing credentials are legal and
// surface as 501 on the login endpoint.
func (c *Config) validateReddit() error {
	if c.Reddit.RedirectURI != "" {
		if _, err := url.Parse(c.Reddit.RedirectURI); err != nil {
			return fmt.Errorf("invalid redirect_uri: %w", err)
		}
	}

	if _, err := url.Parse(c.Reddit.AuthURL); err != nil {
		return fmt.Errorf("invalid auth_url: %w", err)
	}

	if _, err := url.Parse(c.Reddit.TokenURL); err != nil {
		return fmt.Errorf("invalid token_url: %w", err)
	}

	return nil
}

func (c *Config) validateTokenStore() error {
	if c.TokenStore.Type != "file" && c.TokenStore.Type != "sqlite" {
		return fmt.Errorf("invalid type: %s (must be file or sqlite)", c.TokenStore.Type)
	}

	if c.TokenStore.Path == "" {
		return fmt.Errorf("path is required")
	}

	return nil
}

func (c *Config) validateRateLimit() error {
	if !*c.RateLimit.Enabled {
		return nil
	}

	if c.RateLimit.RequestsPerWindow < 1 {
		return fmt.Errorf("requests_per_window must be at least 1")
	}

	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("window must be positive")
	}

	return nil
}

func (c *Config) validateLogging() error {
	level := strings.ToLower(c.Logging.Level)
	if level != "debug" && level != "info" && level != "warn" && level != "error" {
		return fmt.Errorf("invalid level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	format := strings.ToLower(c.Logging.Format)
	if format != "json" && format != "text" {
		return fmt.Errorf("invalid format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}
