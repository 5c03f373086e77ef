package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey int

const claimsContextKey contextKey = iota

// bearerPrefix is matched case-sensitively: git clients and browsers alike
// send it exactly this way. A header whose scheme is spelled any other way
// (for example "bearer ") is treated as non-bearer and passes through
// unauthenticated rather than being rejected.
const bearerPrefix = "Bearer "

// Middleware resolves a bearer JWT from the Authorization header into
// request-scoped Claims. A missing or non-bearer header is not an error —
// it leaves the request unauthenticated so HTTP Basic (the credential the
// git smart-HTTP surface falls back to) still gets a chance downstream.
// An Authorization header that IS a bearer token but fails to validate is
// rejected outright rather than silently downgraded.
func Middleware(authSvc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix)
			if !ok || token == "" {
				next.ServeHTTP(w, r)
				return
			}
			claims, err := authSvc.ValidateToken(token)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsContextKey, claims)))
		})
	}
}

// GetClaims returns the request's resolved Claims, or nil if the caller
// authenticated some other way (Basic) or not at all.
func GetClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsContextKey).(*Claims)
	return claims
}

// RequireAuth rejects any request Middleware did not attach bearer claims
// to. Routes that also accept HTTP Basic (the protocol surface) must not
// use this wrapper — it only recognizes the bearer path.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetClaims(r.Context()) == nil {
			http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
