package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/aiotvet-go/internal/logging"
)

// publicPaths bypass authentication so probes and scrapers need no token.
var publicPaths = map[string]bool{
	"/api/health": true,
	"/api/ready":  true,
	"/metrics":    true,
}

// authMiddleware enforces Bearer token authentication. An empty apiKey
// disables it.
//
// Clients send:
//
//	Authorization: Bearer <apiKey>
//
// Browsers cannot set headers on a websocket handshake, so a ?token= query
// parameter is accepted as well. The presented token is never logged.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		log := logging.FromContext(r.Context())

		token := bearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			log.Warn("auth: missing credentials", slog.String("path", r.URL.Path))
			w.Header().Set("WWW-Authenticate", `Bearer realm="aiotvet"`)
			writeJSONError(w, r, "authorization required", http.StatusUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			log.Warn("auth: invalid token", slog.String("path", r.URL.Path))
			w.Header().Set("WWW-Authenticate", `Bearer realm="aiotvet" error="invalid_token"`)
			writeJSONError(w, r, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header, or "" when absent or malformed.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
