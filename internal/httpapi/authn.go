package httpapi

import (
	"net/http"
	"strings"

	"teamledger.io/internal/authn"
)

const authHeader = "Authorization"

var publicPaths = map[string]bool{
	"POST /v1/auth/token": true,
	"POST /v1/users":      true,
	"GET /metrics":        true,
	"GET /healthz":        true,
	"GET /readyz":         true,
	"GET /v1/info":        true,
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.Method, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if a.tokens == nil {
			writeError(w, r, http.StatusServiceUnavailable, "authentication is not configured")
			return
		}
		token, ok := authn.BearerToken(r.Header.Get(authHeader))
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="teamledger"`)
			writeError(w, r, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := a.tokens.Verify(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="teamledger", error="invalid_token"`)
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(authn.ContextWithUser(r.Context(), claims.Subject)))
	})
}

// actor returns the authenticated user id; withAuth guarantees it on
// protected routes.
func actor(r *http.Request) string {
	id, _ := authn.UserIDFromContext(r.Context())
	return id
}

func isPublicPath(method, path string) bool {
	if method == http.MethodHead {
		method = http.MethodGet
	}
	return publicPaths[method+" "+strings.TrimRight(path, "/")] || publicPaths[method+" "+path]
}
