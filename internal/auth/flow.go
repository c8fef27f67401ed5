package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/marcogenualdo/redsktop-proxy/internal/apperr"
	"github.com/marcogenualdo/redsktop-proxy/internal/cache"
	"github.com/marcogenualdo/redsktop-proxy/internal/config"
	"github.com/marcogenualdo/redsktop-proxy/internal/tokenstore"
)

const (
	statePrefix   = "oauth:state:"
	pendingPrefix = "oauth:pending:"

	MsgInvalidState  = "Invalid or expired state"
	MsgUnconfigured  = "Reddit OAuth is not configured"
	MsgExchange      = "Failed to exchange authorization code"
	MsgProfile       = "Failed to fetch Reddit profile"
	MsgAccessDenied  = "Authorization was denied"
	MsgMissingCode   = "Missing authorization code"
	MsgPersistTokens = "Failed to persist credentials"
)

var ErrMalformedProfile = errors.New("profile response is missing name")

type CallbackParams struct {
	Code  string
	State string
	Error string
}

// Flow drives the browser authorization handshake for a client that cannot
// receive the redirect itself. The client starts a login, opens the returned
// URL in a browser, and polls by state until the callback has completed.
//
// CSRF states and pending results live in a handshake cache whose entries
// expire on their own; both are consumed with Take so each is observed at
// most once.
type Flow struct {
	cfg        config.RedditConfig
	provider   Provider
	tokens     *TokenService
	handshake  cache.Cache
	userTokens tokenstore.Store
	stateTTL   time.Duration
	resultTTL  time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

type FlowOptions struct {
	Reddit     config.RedditConfig
	Provider   Provider
	Tokens     *TokenService
	Handshake  cache.Cache
	UserTokens tokenstore.Store
	StateTTL   time.Duration
	ResultTTL  time.Duration
	Logger     *slog.Logger
}

func NewFlow(opts FlowOptions) *Flow {
	stateTTL := opts.StateTTL
	if stateTTL <= 0 {
		stateTTL = 5 * time.Minute
	}
	resultTTL := opts.ResultTTL
	if resultTTL <= 0 {
		resultTTL = 5 * time.Minute
	}

	return &Flow{
		cfg:        opts.Reddit,
		provider:   opts.Provider,
		tokens:     opts.Tokens,
		handshake:  opts.Handshake,
		userTokens: opts.UserTokens,
		stateTTL:   stateTTL,
		resultTTL:  resultTTL,
		logger:     opts.Logger,
		now:        time.Now,
	}
}

func (f *Flow) Start(ctx context.Context) (*AuthRedirect, error) {
	if !f.cfg.OAuthConfigured() {
		return nil, apperr.Unconfigured(MsgUnconfigured)
	}

	state := uuid.New().String()
	now := f.now()

	data, err := json.Marshal(CSRFState{
		State:     state,
		CreatedAt: now,
		ExpiresAt: now.Add(f.stateTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := f.handshake.Set(ctx, statePrefix+state, data, f.stateTTL); err != nil {
		return nil, fmt.Errorf("failed to store state: %w", err)
	}

	return &AuthRedirect{
		URL:   f.provider.AuthCodeURL(state),
		State: state,
	}, nil
}

// Callback consumes the CSRF state before anything else, so a state is
// spent even when the rest of the callback fails.
func (f *Flow) Callback(ctx context.Context, params CallbackParams) (*PendingAuthResult, error) {
	if params.State == "" {
		return nil, apperr.Validation(MsgInvalidState)
	}

	if _, err := f.handshake.Take(ctx, statePrefix+params.State); err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, apperr.Validation(MsgInvalidState)
		}
		return nil, fmt.Errorf("failed to read state: %w", err)
	}

	if params.Error != "" {
		return nil, apperr.Validation(MsgAccessDenied)
	}

	if params.Code == "" {
		return nil, apperr.Validation(MsgMissingCode)
	}

	if !f.cfg.ExchangeConfigured() {
		return nil, apperr.Validation(MsgUnconfigured)
	}

	oauthToken, err := f.provider.Exchange(ctx, params.Code)
	if err != nil {
		return nil, apperr.Upstream(MsgExchange, err)
	}

	user, err := f.provider.FetchProfile(ctx, oauthToken.AccessToken)
	if err != nil {
		return nil, apperr.Upstream(MsgProfile, err)
	}

	signed, err := f.tokens.Issue(user)
	if err != nil {
		if errors.Is(err, ErrUnconfigured) {
			return nil, apperr.Unconfigured("Auth secret is not configured")
		}
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	scope, _ := oauthToken.Extra("scope").(string)
	if err := f.userTokens.Upsert(ctx, tokenstore.UserToken{
		Username:     user.Username,
		AccessToken:  oauthToken.AccessToken,
		RefreshToken: oauthToken.RefreshToken,
		ExpiresAt:    oauthToken.Expiry,
		Scope:        scope,
	}); err != nil {
		return nil, &apperr.Error{Kind: apperr.KindInternal, Msg: MsgPersistTokens, Err: err}
	}

	result := &PendingAuthResult{
		State:     params.State,
		Token:     signed,
		User:      user,
		ExpiresAt: f.now().Add(f.resultTTL),
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := f.handshake.Set(ctx, pendingPrefix+params.State, data, f.resultTTL); err != nil {
		return nil, fmt.Errorf("failed to store result: %w", err)
	}

	f.logger.Info("reddit account linked", "username", user.Username)

	return result, nil
}

// Poll reports a completed login exactly once. A missing or already
// delivered result is reported as not ready.
func (f *Flow) Poll(ctx context.Context, state string) (*PendingAuthResult, bool, error) {
	if state == "" {
		return nil, false, nil
	}

	data, err := f.handshake.Take(ctx, pendingPrefix+state)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read result: %w", err)
	}

	var result PendingAuthResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal result: %w", err)
	}

	if !f.now().Before(result.ExpiresAt) {
		return nil, false, nil
	}

	return &result, true, nil
}

func (f *Flow) Unlink(ctx context.Context, username string) error {
	if err := f.userTokens.Delete(ctx, username); err != nil {
		return fmt.Errorf("failed to unlink %s: %w", username, err)
	}

	f.logger.Info("reddit account unlinked", "username", username)
	return nil
}
