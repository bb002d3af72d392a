package httpapi

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

type contextKey string

const UserIDKey contextKey = "userId"

// DevUser is used when no proxy header names the user.
const DevUser = "dev-user"

// ExtractUserMiddleware resolves the user from the headers set by the
// authenticating proxy.
func ExtractUserMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Traefik BasicAuth sets this header
			userID := r.Header.Get("X-Auth-User")

			if userID == "" {
				userID = r.Header.Get("X-Forwarded-User")
			}
			if userID == "" {
				userID = r.Header.Get("Remote-User")
			}

			if userID == "" {
				userID = DevUser
				logger.Debug("no auth header, using dev user", zap.String("path", r.URL.Path))
			}

			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetUserID(r *http.Request) string {
	userID, ok := r.Context().Value(UserIDKey).(string)
	if !ok {
		return ""
	}
	return userID
}
