package handlers

import (
	"log/slog"
	"net/http"

	"github.com/marcogenualdo/redsktop-proxy/internal/apperr"
	"github.com/marcogenualdo/redsktop-proxy/internal/httpx"
	"github.com/marcogenualdo/redsktop-proxy/internal/middleware"
)

// ActionsHandler validates and acknowledges write actions. Nothing is
// forwarded upstream.
type ActionsHandler struct {
	logger *slog.Logger
}

func NewActionsHandler(logger *slog.Logger) *ActionsHandler {
	return &ActionsHandler{logger: logger}
}

type voteRequest struct {
	ID        string `json:"id"`
	Direction *int   `json:"direction"`
}

type saveRequest struct {
	ID string `json:"id"`
}

type ActionResponse struct {
	Status    string `json:"status"`
	Action    string `json:"action"`
	ID        string `json:"id"`
	Direction *int   `json:"direction,omitempty"`
}

func (h *ActionsHandler) Vote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	if req.ID == "" || req.Direction == nil {
		httpx.WriteError(w, r, h.logger, apperr.Validation("Missing id or direction"))
		return
	}
	if d := *req.Direction; d < -1 || d > 1 {
		httpx.WriteError(w, r, h.logger, apperr.Validation("Direction must be -1, 0 or 1"))
		return
	}

	h.acknowledge(r, "vote", req.ID, "direction", *req.Direction)
	httpx.WriteJSON(w, http.StatusOK, ActionResponse{
		Status:    "ok",
		Action:    "vote",
		ID:        req.ID,
		Direction: req.Direction,
	})
}

func (h *ActionsHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	if req.ID == "" {
		httpx.WriteError(w, r, h.logger, apperr.Validation("Missing id"))
		return
	}

	h.acknowledge(r, "save", req.ID)
	httpx.WriteJSON(w, http.StatusOK, ActionResponse{
		Status: "ok",
		Action: "save",
		ID:     req.ID,
	})
}

func (h *ActionsHandler) acknowledge(r *http.Request, action, id string, attrs ...any) {
	user, _ := middleware.GetUser(r.Context())
	h.logger.Info("action acknowledged",
		append([]any{"action", action, "id", id, "username", user.Username}, attrs...)...,
	)
}
