package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

// PrincipalHeader carries the caller's identity. The bearer token
// authenticates the client; the header names the user it acts for.
const PrincipalHeader = "X-Principal-ID"

type principalKey struct{}

func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePrincipal rejects requests without a principal and stores it in
// the request context.
func RequirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(PrincipalHeader))
		if id == "" {
			httpError(w, http.StatusUnauthorized, "authentication_error", "missing %s header", PrincipalHeader)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, id)))
	})
}

func principal(r *http.Request) string {
	id, _ := r.Context().Value(principalKey{}).(string)
	return id
}
