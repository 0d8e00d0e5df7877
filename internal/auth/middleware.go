package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ocr-service/internal/models"
)

const userIDKey = "user_id"

// UserGetter resolves a user id to its record so the middleware can reject
// tokens of deleted or deactivated accounts.
type UserGetter interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// Middleware validates the Authorization bearer token and stores the
// resolved user id in the gin context.
func Middleware(m *Manager, users UserGetter) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Could not validate credentials"})
			return
		}

		userID, _, err := m.ParseToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Could not validate credentials"})
			return
		}

		user, err := users.GetUser(c.Request.Context(), userID)
		if err != nil || user.IsActive == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Could not validate credentials"})
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

// CurrentUserID returns the authenticated user id placed by Middleware.
func CurrentUserID(c *gin.Context) int64 {
	id, _ := c.Get(userIDKey)
	v, _ := id.(int64)
	return v
}
