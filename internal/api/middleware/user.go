package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/mmrag/internal/logger"
)

// HeaderUserID carries the client-supplied user id.
const HeaderUserID = "X-User-ID"

// ContextUserID is the gin context key RequireUser stores the user id under.
const ContextUserID = "user_id"

// RequireUser rejects requests without an X-User-ID header with 401 and
// adds the user id to the request logger.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": HeaderUserID + " header is required"})
			return
		}
		c.Set(ContextUserID, userID)
		c.Request = c.Request.WithContext(logger.SetUserID(c.Request.Context(), userID))
		c.Next()
	}
}

// UserID returns the id stored by RequireUser.
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}
