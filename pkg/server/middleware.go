package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

// corsOptions is deliberately permissive: the gateway fronts a public API
// surface. Deployments that need tighter origins should front it with their
// own proxy policy.
func corsOptions() cors.Options {
	return cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}
}

// apiKeyFromRequest pulls the client key from x-api-key or a bearer
// Authorization header, in that order.
func apiKeyFromRequest(r *http.Request) string {
	if key := r.Header.Get("x-api-key"); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return token
	}
	return ""
}

// constantTimeEqual compares two strings in time independent of where they
// first differ. Hashing first makes the comparison fixed-length, so unequal
// lengths leak nothing either.
func constantTimeEqual(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}

// requireAPIKey gates /v1 routes behind the configured API key.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := apiKeyFromRequest(r)
		if key == "" || !constantTimeEqual(key, s.cfg.APIKey) {
			writeAuthenticationError(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}
