package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"campuswell/internal/models"
)

const identityContextKey = "auth_identity"

// Middleware validates bearer tokens and stores the identity in the context.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authToken := s.ExtractToken(c.Request)
		if authToken == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		identity, err := s.VerifyToken(authToken)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrInvalidToken.Error()})
			return
		}
		c.Set(identityContextKey, identity)
		c.Next()
	}
}

// RequireRole rejects identities whose role is not listed. It must run after Middleware.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := IdentityFromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		for _, r := range roles {
			if identity.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
	}
}

// IdentityFromContext retrieves the authenticated identity from the gin context.
func IdentityFromContext(c *gin.Context) (*Identity, bool) {
	val, ok := c.Get(identityContextKey)
	if !ok {
		return nil, false
	}
	identity, ok := val.(*Identity)
	return identity, ok
}

// ExtractToken reads a bearer token from the Authorization header, the
// auth cookie or, for websocket handshakes, the token query parameter.
func (s *Service) ExtractToken(r *http.Request) string {
	authHeader := r.Header.Get(s.headerName)
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	if ck, err := r.Cookie(s.cookieName); err == nil && ck.Value != "" {
		return ck.Value
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
