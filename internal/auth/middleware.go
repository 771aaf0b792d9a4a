package auth

import (
	"context"
	"net/http"
)

// ContextKey is the key type for context values
type ContextKey string

// UserContextKey is the context key for user information
const UserContextKey ContextKey = "user"

// Middleware authenticates HTTP requests via JWT or API key
type Middleware struct {
	apiKeys    *Service
	jwtManager *JWTManager
	skipAuth   bool
}

func NewMiddleware(apiKeys *Service, jwtManager *JWTManager, skipAuth bool) *Middleware {
	return &Middleware{
		apiKeys:    apiKeys,
		jwtManager: jwtManager,
		skipAuth:   skipAuth,
	}
}

// HTTPMiddleware wraps a handler with authentication
func (m *Middleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipAuth {
			ctx := context.WithValue(r.Context(), UserContextKey, &UserContext{
				UserID:   "dev",
				Username: "dev",
				Role:     RoleAdmin,
				Scopes:   ScopesForRole(RoleAdmin),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
				userCtx, err := m.apiKeys.ValidateAPIKey(apiKey)
				if err != nil {
					http.Error(w, `{"error":"invalid API key"}`, http.StatusUnauthorized)
					return
				}
				ctx := context.WithValue(r.Context(), UserContextKey, userCtx)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
			return
		}

		token, err := ExtractBearerToken(authHeader)
		if err != nil {
			http.Error(w, `{"error":"invalid authorization header"}`, http.StatusUnauthorized)
			return
		}
		userCtx, err := m.jwtManager.ValidateToken(token)
		if err != nil {
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, userCtx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserContext extracts the authenticated caller from the context
func GetUserContext(ctx context.Context) (*UserContext, bool) {
	userCtx, ok := ctx.Value(UserContextKey).(*UserContext)
	return userCtx, ok
}
