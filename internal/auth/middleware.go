package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"typhonrelay/internal/models"
)

const (
	playerContextKey    = "auth_player"
	authTokenContextKey = "auth_token"
)

// Middleware validates the token and stores the authenticated player in the context.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authToken := s.ExtractToken(c)
		if authToken == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized"})
			return
		}
		player, err := s.ValidateToken(c.Request.Context(), authToken)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized"})
			return
		}
		c.Set(playerContextKey, player)
		c.Set(authTokenContextKey, authToken)
		c.Next()
	}
}

// OptionalMiddleware attaches the player when a valid token is present and never rejects.
func (s *Service) OptionalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if authToken := s.ExtractToken(c); authToken != "" {
			if player, err := s.ValidateToken(c.Request.Context(), authToken); err == nil {
				c.Set(playerContextKey, player)
				c.Set(authTokenContextKey, authToken)
			}
		}
		c.Next()
	}
}

// PlayerFromContext retrieves the authenticated player from the gin context.
func PlayerFromContext(c *gin.Context) (*models.Player, bool) {
	val, ok := c.Get(playerContextKey)
	if !ok {
		return nil, false
	}
	player, ok := val.(*models.Player)
	return player, ok
}

// AuthTokenFromContext retrieves the token captured by the middleware.
func AuthTokenFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(authTokenContextKey)
	if !ok {
		return "", false
	}
	token, ok := val.(string)
	return token, ok
}

// ExtractToken reads a bearer token, falling back to the x-auth-token header.
func (s *Service) ExtractToken(c *gin.Context) string {
	authHeader := c.GetHeader(s.headerName)
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		if token := strings.TrimSpace(authHeader[7:]); token != "" {
			return token
		}
	}
	return strings.TrimSpace(c.GetHeader(s.altHeader))
}
