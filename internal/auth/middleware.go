package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/inmyopinion/internal/model"
)

// contextKey is an unexported type used for context keys in this package.
//
// WHY A CUSTOM TYPE FOR CONTEXT KEYS?
// context.WithValue uses any as the key type. A package-private type means
// only THIS package can create a key of type contextKey, so nothing else can
// read or shadow the claims we store.
type contextKey string

const claimsKey contextKey = "claims"

// Middleware validates bearer tokens for the HTTP layer.
type Middleware struct {
	tokens *TokenService
	logger *slog.Logger
}

func NewMiddleware(tokens *TokenService, logger *slog.Logger) *Middleware {
	return &Middleware{tokens: tokens, logger: logger}
}

// RequireAuth rejects the request with 401 unless it carries a valid
// "Authorization: Bearer <jwt>" header. On success the Claims are stored in
// the request context.
//
// MIDDLEWARE PATTERN IN GO:
// A middleware takes an http.Handler and returns a new http.Handler that
// wraps it. Chi applies them in a chain: req → M1 → M2 → Handler → M2 → M1.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			writeAuthError(w, http.StatusUnauthorized, "No token provided")
			return
		}
		claims, err := m.tokens.Validate(raw)
		if err != nil {
			// The reason (expired, bad signature, ...) is for us, not the client.
			m.logger.Debug("rejected bearer token",
				slog.String("path", r.URL.Path),
				slog.String("reason", err.Error()),
			)
			writeAuthError(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// OptionalAuth attaches Claims when a valid token is present but never
// blocks the request. Public routes use it to widen what a signed-in viewer
// can see.
func (m *Middleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw, ok := bearerToken(r); ok {
			if claims, err := m.tokens.Validate(raw); err == nil {
				r = r.WithContext(WithClaims(r.Context(), claims))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole must run after RequireAuth. Callers whose token role is not
// in roles get 403.
func (m *Middleware) RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "No token provided")
				return
			}
			for _, role := range roles {
				if claims.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeAuthError(w, http.StatusForbidden, "Insufficient permissions")
		})
	}
}

// WithClaims returns a copy of ctx carrying claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext retrieves the authenticated caller.
// Returns (nil, false) for anonymous requests.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok && c != nil
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   message,
	})
}
