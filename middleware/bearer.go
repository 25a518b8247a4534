package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/apiguard/apiguard/jwt"
)

// TokenParser verifies management API bearer tokens.
type TokenParser interface {
	ParseToken(token string) (*jwt.Claims, error)
}

type ownerContextKey struct{}

// OwnerFromContext returns the user id RequireBearer attached to the request.
func OwnerFromContext(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(ownerContextKey{}).(string)
	return uid, ok && uid != ""
}

// WithOwner attaches uid as the authenticated owner.
func WithOwner(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, ownerContextKey{}, uid)
}

// RequireBearer rejects requests without a valid bearer token and attaches
// the token's uid to the request context.
func RequireBearer(parser TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if parser == nil {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Unauthorized"})
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Unauthorized"})
				return
			}

			claims, err := parser.ParseToken(token)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Unauthorized"})
				return
			}

			next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), claims.UID)))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
