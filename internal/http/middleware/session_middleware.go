package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gigbridge/trustcore/internal/http/response"
	"github.com/gigbridge/trustcore/internal/service"
)

type contextKey string

const principalKey contextKey = "principal"

// PrincipalFromContext returns the authenticated user ID, if any.
func PrincipalFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(principalKey).(string); ok {
		return v
	}
	return ""
}

// SessionAuth validates the bearer session token. Invalid, expired and
// hijacked sessions all read the same from outside: 401 with a re-auth hint.
func SessionAuth(sessions *service.SessionService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing session token", map[string]string{"redirect": "/login"})
				return
			}
			info, err := sessions.ValidateSession(r.Context(), token, ClientIP(r), r.UserAgent())
			if err != nil {
				// Store trouble fails secure: no access on uncertainty.
				response.Error(w, r, http.StatusServiceUnavailable, "SESSION_UNAVAILABLE", "session validation unavailable", nil)
				return
			}
			if info == nil {
				response.Error(w, r, http.StatusUnauthorized, "SESSION_INVALID", "session invalid or expired", map[string]string{"redirect": "/login"})
				return
			}
			ctx := context.WithValue(r.Context(), principalKey, info.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the session token from the Authorization header.
func BearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
