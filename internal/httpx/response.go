// Package httpx holds the JSON response helpers shared by handlers and
// middleware.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/marcogenualdo/redsktop-proxy/internal/apperr"
)

const maxBodyBytes = 1 << 20

type ErrorResponse struct {
	Error string `json:"error"`
}

func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteRawJSON writes an already encoded JSON body.
func WriteRawJSON(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

// NoCache marks responses that carry tokens.
func NoCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

func WriteErrorMessage(w http.ResponseWriter, code int, msg string) {
	WriteJSON(w, code, ErrorResponse{Error: msg})
}

// WriteError maps err to its status and client-safe message. Upstream and
// internal failures are logged with their cause; the client never sees it.
func WriteError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := apperr.Status(err)

	switch apperr.KindOf(err) {
	case apperr.KindUpstream:
		logger.Error("upstream error", "path", r.URL.Path, "error", err)
	case apperr.KindInternal:
		logger.Error("request failed", "path", r.URL.Path, "error", err)
	case apperr.KindUnconfigured:
		logger.Warn("feature not configured", "path", r.URL.Path, "error", err)
	default:
		logger.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}

	WriteErrorMessage(w, status, apperr.Message(err))
}

// DecodeJSON reads a bounded JSON body into dst. Any failure is a
// validation error.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("Request body is required")
		}
		return apperr.Validation("Invalid request body")
	}
	return nil
}
