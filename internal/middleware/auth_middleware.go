package middleware

import (
	"context"
	"net/http"
	"strings"

	"roamly-claim-server/pkg/jwt"
	"roamly-claim-server/pkg/response"
)

type contextKey string

const AccountIDKey contextKey = "accountID"

func AuthMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				response.Unauthorized(w, "Missing authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				response.Unauthorized(w, "Invalid authorization header format")
				return
			}

			token := parts[1]
			claims, err := jwt.ValidateToken(token, jwtSecret)
			if err != nil {
				response.Unauthorized(w, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), AccountIDKey, claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAccountID returns the authenticated account ID, or "" when the
// request did not pass the auth middleware.
func GetAccountID(r *http.Request) string {
	accountID, ok := r.Context().Value(AccountIDKey).(string)
	if !ok {
		return ""
	}
	return accountID
}
