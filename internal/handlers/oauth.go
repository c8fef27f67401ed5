package handlers

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/marcogenualdo/redsktop-proxy/internal/apperr"
	"github.com/marcogenualdo/redsktop-proxy/internal/auth"
	"github.com/marcogenualdo/redsktop-proxy/internal/httpx"
	"github.com/marcogenualdo/redsktop-proxy/internal/middleware"
)

//go:embed templates/*.html
var templatesFS embed.FS

// OAuthHandler exposes the Reddit login handshake: start, browser callback,
// result polling and unlink.
type OAuthHandler struct {
	flow         *auth.Flow
	targetOrigin string
	template     *template.Template
	logger       *slog.Logger
}

// NewOAuthHandler posts the callback message to targetOrigin. Without a
// specific origin the message carries only the state, and the client
// collects the token by polling.
func NewOAuthHandler(flow *auth.Flow, targetOrigin string, logger *slog.Logger) (*OAuthHandler, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/callback.html")
	if err != nil {
		return nil, err
	}

	if targetOrigin == "" {
		targetOrigin = "*"
	}

	return &OAuthHandler{
		flow:         flow,
		targetOrigin: targetOrigin,
		template:     tmpl,
		logger:       logger,
	}, nil
}

type callbackMessage struct {
	Type  string            `json:"type"`
	State string            `json:"state"`
	Token string            `json:"token,omitempty"`
	User  *auth.UserProfile `json:"user,omitempty"`
}

type callbackPage struct {
	Username     string
	Message      callbackMessage
	TargetOrigin string
}

type PollResponse struct {
	Status string            `json:"status"`
	Token  string            `json:"token,omitempty"`
	User   *auth.UserProfile `json:"user,omitempty"`
}

// Login answers JSON clients with the URL to open; browsers are redirected.
func (h *OAuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	redirect, err := h.flow.Start(r.Context())
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		httpx.NoCache(w)
		httpx.WriteJSON(w, http.StatusOK, redirect)
		return
	}

	http.Redirect(w, r, redirect.URL, http.StatusFound)
}

func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	result, err := h.flow.Callback(r.Context(), auth.CallbackParams{
		Code:  query.Get("code"),
		State: query.Get("state"),
		Error: query.Get("error"),
	})
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	page := callbackPage{
		Username: result.User.Username,
		Message: callbackMessage{
			Type:  "reddit-auth",
			State: result.State,
		},
		TargetOrigin: h.targetOrigin,
	}
	if h.targetOrigin != "*" {
		page.Message.Token = result.Token
		page.Message.User = &result.User
	}

	httpx.NoCache(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.template.Execute(w, page); err != nil {
		h.logger.Error("failed to render callback page", "error", err)
	}
}

func (h *OAuthHandler) Poll(w http.ResponseWriter, r *http.Request) {
	state := chi.URLParam(r, "state")

	result, ready, err := h.flow.Poll(r.Context(), state)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	httpx.NoCache(w)
	if !ready {
		httpx.WriteJSON(w, http.StatusOK, PollResponse{Status: "pending"})
		return
	}

	httpx.WriteJSON(w, http.StatusOK, PollResponse{
		Status: "complete",
		Token:  result.Token,
		User:   &result.User,
	})
}

func (h *OAuthHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		httpx.WriteError(w, r, h.logger, apperr.Auth("Unauthorized"))
		return
	}

	if err := h.flow.Unlink(r.Context(), user.Username); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "unlinked"})
}
