// Package httpapi provides the chi-routed HTTP surface described in
// spec.md §6: timeline/alert queries, alert acknowledge/snooze, live
// configuration of monitored folders and away windows, and a status
// endpoint. It is grounded on the teacher's internal/server/rest package
// (router.go, middleware.go, handlers.go) for its chi wiring, optional
// RS256 JWT middleware, and JSON error convention, generalized from the
// teacher's host/audit domain to PIDA's timeline/alert domain per the
// route list in the original's agent/api/routes.py.
package httpapi

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey int

const claimsKey contextKey = iota

// Role values carried in a token's "role" claim. RoleAdmin is required for
// the config-mutating and alert-mutating routes (POST /api/alerts/.../
// acknowledge|snooze, POST /api/config/*); RoleViewer (or no role at all,
// for tokens minted before roles existed) only reaches the read routes.
const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

// Claims is PIDA's JWT claim set: the standard registered claims plus the
// Role that gates mutating routes. A token with no "role" claim decodes to
// Role == "" and is treated as RoleViewer by RequireRole.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// JWTMiddleware validates RS256 Bearer tokens, storing the parsed claims in
// the request context on success. A nil pubKey means no server was
// configured to require auth — callers should not wire this middleware in
// that case (see NewRouter).
func JWTMiddleware(pubKey *rsa.PublicKey) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "missing Authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeError(w, http.StatusUnauthorized, "Authorization header must be Bearer token")
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
					return nil, errors.New("unexpected signing method")
				}
				return pubKey, nil
			}, jwt.WithValidMethods([]string{"RS256"}))

			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext retrieves the JWT claims stored by JWTMiddleware.
func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey).(*Claims)
	return c
}

// RequireRole rejects requests whose JWTMiddleware-parsed claims don't carry
// the given role, with 403 Forbidden. It must run after JWTMiddleware, which
// is what populates the claims RequireRole reads; a request with no claims
// in context (JWTMiddleware not wired) is rejected rather than treated as
// authorized.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil || claims.Role != role {
				writeError(w, http.StatusForbidden, "insufficient role for this operation")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CORSMiddleware allows cross-origin requests from the configured origins.
// This is a supplemented feature: spec.md's distillation didn't carry the
// original's browser-facing dashboard concerns forward explicitly, but a
// WebSocket+HTTP API meant for a local dashboard UI needs it, so
// SPEC_FULL.md adds it.
func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
