package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
)

// ErrUnauthorized is reported when a request lacks the shared secret.
var ErrUnauthorized = errors.New("unauthorized")

// SecretsEqual compares two secrets in constant time. An empty expected
// secret never matches.
func SecretsEqual(expected, got string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

// RequireSecret rejects requests whose header does not exactly equal secret
// with 401 before the next handler runs. A non-empty queryParam also accepts
// the secret from the URL query, for clients such as browsers opening a
// WebSocket that cannot set headers.
func RequireSecret(secret, header, queryParam string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok := SecretsEqual(secret, r.Header.Get(header)) ||
				(queryParam != "" && SecretsEqual(secret, r.URL.Query().Get(queryParam)))

			if !ok {
				slog.Warn("rejected unauthenticated request", "path", r.URL.Path, "ip", IPFromRequest(r))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": ErrUnauthorized.Error()})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
