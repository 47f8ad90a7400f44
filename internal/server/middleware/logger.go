package middleware

import (
	"log/slog"
	"net/http"
)

// NewRequestLogger logs every request hitting the HTTP surface before it
// reaches the upgrade handler. Per-frame logging happens on the connection
// itself; this only covers the handshake and the plain HTTP routes.
func NewRequestLogger(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ""
			if reqMeta, ok := ReqMetadataFrom(r.Context()); ok {
				ip = reqMeta.IP
			}

			logger.Info("HTTP request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remoteAddr", ip),
			)
			next.ServeHTTP(w, r)
		})
	}
}
