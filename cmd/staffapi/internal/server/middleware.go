package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/auth"
)

type claimsKey struct{}

// ClaimsFromContext returns the access token claims set by RequireBearer.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*auth.Claims)
	return claims, ok
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequireBearer rejects requests without a valid access token and stores its
// claims in the request context.
func RequireBearer(tokens *auth.TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeDetail(w, http.StatusUnauthorized, "Authentication credentials were not provided.")
				return
			}
			claims, err := tokens.Parse(token, auth.TokenTypeAccess)
			if err != nil {
				writeDetail(w, http.StatusUnauthorized, "Given token not valid for any token type")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}
