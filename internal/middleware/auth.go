package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tapreward/server/internal/auth"
)

type contextKey string

const (
	adminSubjectKey contextKey = "admin_subject"
	sessionTokenKey contextKey = "session_token"
)

// SessionHeader carries the tap session token for clients that cannot hold cookies.
const SessionHeader = "X-Tap-Session"

// AdminMiddleware requires a valid admin bearer token and attaches its subject to the context
func AdminMiddleware(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondWithError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				respondWithError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			tokenString := strings.TrimSpace(parts[1])
			if tokenString == "" {
				respondWithError(w, http.StatusUnauthorized, "missing token")
				return
			}

			claims, err := jwtService.VerifyAdmin(tokenString)
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), adminSubjectKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAdminSubject returns the operator attached by AdminMiddleware
func GetAdminSubject(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(adminSubjectKey).(string)
	return s, ok && s != ""
}

// SessionMiddleware attaches the tap session token, read from the SessionHeader header
// or the named cookie, to the context. Requests without one pass through untouched.
func SessionMiddleware(cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimSpace(r.Header.Get(SessionHeader))
			if token == "" {
				if c, err := r.Cookie(cookieName); err == nil {
					token = strings.TrimSpace(c.Value)
				}
			}
			if token != "" {
				r = r.WithContext(context.WithValue(r.Context(), sessionTokenKey, token))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetSessionToken returns the tap session token attached by SessionMiddleware
func GetSessionToken(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(sessionTokenKey).(string)
	return t, ok && t != ""
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]string{"error": message}
	_ = json.NewEncoder(w).Encode(response)
}
