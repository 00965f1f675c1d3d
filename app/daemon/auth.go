package daemon

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// validateToken checks the Authorization header against the static admin token.
func (a *App) validateToken(r *http.Request) bool {
	if a.Cfg.AdminToken == "" {
		return false
	}
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ") == a.Cfg.AdminToken
	}
	return false
}

// validateJWT accepts an HS256 session token signed with the configured secret.
func (a *App) validateJWT(r *http.Request) bool {
	if a.Cfg.JWTSecret == "" {
		return false
	}
	raw := r.Header.Get("X-Session-Token")
	if raw == "" {
		return false
	}
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) { return []byte(a.Cfg.JWTSecret), nil },
		jwt.WithValidMethods([]string{"HS256"}))
	return err == nil && tok.Valid
}

// requireAuth guards the admin endpoints.
func (a *App) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.validateToken(r) || a.validateJWT(r) {
			next.ServeHTTP(w, r)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
	})
}
