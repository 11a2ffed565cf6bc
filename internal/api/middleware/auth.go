package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/dyncontent/internal/api/response"
	"github.com/Rrens/dyncontent/internal/domain"
	"github.com/Rrens/dyncontent/internal/security"
)

type contextKey string

const (
	PrincipalKey contextKey = "principal"
)

// AuthMiddleware turns bearer tokens into principals
type AuthMiddleware struct {
	jwtManager *security.JWTManager
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(jwtManager *security.JWTManager) *AuthMiddleware {
	return &AuthMiddleware{jwtManager: jwtManager}
}

// Identify attaches the caller's principal. Requests without an
// Authorization header continue as anonymous; a bad token is rejected.
func (m *AuthMiddleware) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			ctx := context.WithValue(r.Context(), PrincipalKey, domain.AnonymousPrincipal)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			response.Unauthorized(w, "invalid authorization header format")
			return
		}

		claims, err := m.jwtManager.ValidateToken(parts[1])
		if err != nil {
			log.Debug().Err(err).Msg("token rejected")
			response.Unauthorized(w, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), PrincipalKey, domain.UserPrincipal(claims.UserID()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireUser rejects anonymous callers
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p := GetPrincipal(r.Context()); p.Anonymous || p.UserID == "" {
			response.Unauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetPrincipal returns the caller's principal, anonymous when none was set
func GetPrincipal(ctx context.Context) domain.Principal {
	p, ok := ctx.Value(PrincipalKey).(domain.Principal)
	if !ok {
		return domain.AnonymousPrincipal
	}
	return p
}

// WithPrincipal returns ctx carrying p
func WithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}
