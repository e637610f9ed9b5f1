package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ory/herodot"
)

type ctxKey struct{}

// UserIDFromContext returns the authenticated user id set by JWTMiddleware.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// WithUserID returns a context carrying userID, as JWTMiddleware would set it.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// JWTMiddleware validates Supabase access tokens (HS256, signed with the
// project's JWT secret) and attaches the "sub" claim as the user id.
func JWTMiddleware(secret string) func(http.Handler) http.Handler {
	writer := herodot.NewJSONWriter(nil)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				writer.WriteError(w, r, herodot.ErrUnauthorized.WithReason("missing or invalid token"))
				return
			}

			tokenStr := strings.TrimPrefix(auth, "Bearer ")
			claims := jwt.RegisteredClaims{}
			token, err := parser.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				writer.WriteError(w, r, herodot.ErrUnauthorized.WithReason("invalid token"))
				return
			}
			if claims.Subject == "" {
				writer.WriteError(w, r, herodot.ErrUnauthorized.WithReason("invalid token claims"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), claims.Subject)))
		})
	}
}
