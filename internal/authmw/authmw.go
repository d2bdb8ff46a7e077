// Package authmw guards the advisory endpoints with a single shared bearer
// token. The evaluation and history routes mutate and expose disposition
// state, so every request on that group must authenticate; health and ops
// endpoints are mounted outside the middleware and stay open.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const scheme = "Bearer "

// BearerToken returns middleware that admits requests whose Authorization
// header carries the expected bearer token. The comparison is constant-time
// so response latency does not leak how much of the token matched.
func BearerToken(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")

			if !strings.HasPrefix(auth, scheme) {
				unauthorized(w, `{"error":"missing or malformed authorization header"}`)
				return
			}

			if subtle.ConstantTimeCompare([]byte(auth[len(scheme):]), expected) != 1 {
				unauthorized(w, `{"error":"invalid token"}`)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, body string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, body, http.StatusUnauthorized)
}
