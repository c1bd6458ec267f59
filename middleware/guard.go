package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/authcore/jwt"
)

// AccessValidator is the part of authcore.Engine the bearer guard needs.
type AccessValidator interface {
	ValidateAccess(token string) (*jwt.Claims, error)
}

// ErrorFunc writes a rejection. err is nil when the header was missing or malformed.
type ErrorFunc func(w http.ResponseWriter, r *http.Request, err error)

type claimsContextKey struct{}

// ClaimsFromContext returns the claims stored by RequireBearer.
func ClaimsFromContext(ctx context.Context) (*jwt.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*jwt.Claims)
	return claims, ok
}

// BearerToken returns the raw token from an Authorization header value.
func BearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

// RequireBearer rejects requests without a valid access token. A nil reject
// writes a bare 401.
func RequireBearer(v AccessValidator, reject ErrorFunc) func(http.Handler) http.Handler {
	if reject == nil {
		reject = func(w http.ResponseWriter, _ *http.Request, _ error) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				reject(w, r, nil)
				return
			}

			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				reject(w, r, nil)
				return
			}

			claims, err := v.ValidateAccess(token)
			if err != nil {
				reject(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
