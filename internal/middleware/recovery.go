package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/marcogenualdo/redsktop-proxy/internal/httpx"
)

func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}

					logger.Error("panic recovered",
						"error", err,
						"path", r.URL.Path,
						"stack", string(debug.Stack()),
					)

					w.Header().Set("X-Content-Type-Options", "nosniff")
					httpx.WriteErrorMessage(w, http.StatusInternalServerError, "Unexpected server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
