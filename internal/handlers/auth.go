package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/marcogenualdo/redsktop-proxy/internal/apperr"
	"github.com/marcogenualdo/redsktop-proxy/internal/auth"
	"github.com/marcogenualdo/redsktop-proxy/internal/httpx"
	"github.com/marcogenualdo/redsktop-proxy/internal/middleware"
)

type AuthHandler struct {
	login  *auth.PasswordLogin
	tokens *auth.TokenService
	logger *slog.Logger
}

func NewAuthHandler(login *auth.PasswordLogin, tokens *auth.TokenService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		login:  login,
		tokens: tokens,
		logger: logger,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string           `json:"token"`
	User  auth.UserProfile `json:"user"`
}

type UserResponse struct {
	User auth.UserProfile `json:"user"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	if req.Username == "" || req.Password == "" {
		httpx.WriteError(w, r, h.logger, apperr.Validation("Missing username or password"))
		return
	}

	if !h.login.Configured() || !h.tokens.Configured() {
		httpx.WriteError(w, r, h.logger, apperr.Unconfigured("Password login is not configured"))
		return
	}

	user, err := h.login.Authenticate(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrBadCredentials) {
			h.logger.Warn("failed login attempt", "username", req.Username, "remote_addr", r.RemoteAddr)
			httpx.WriteError(w, r, h.logger, apperr.Auth("Invalid credentials"))
			return
		}
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	token, err := h.tokens.Issue(user)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	h.logger.Info("password login", "username", user.Username)

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, TokenResponse{Token: token, User: user})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		httpx.WriteError(w, r, h.logger, apperr.Auth("Unauthorized"))
		return
	}

	httpx.WriteJSON(w, http.StatusOK, UserResponse{User: user})
}
