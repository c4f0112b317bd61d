package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

// userIDFromContext returns the authenticated user, falling back to the
// X-User-ID header on unauthenticated debug routes. 0 means unknown.
func userIDFromContext(c *gin.Context) int {
	if id := c.GetInt("userID"); id > 0 {
		return id
	}
	if header := c.GetHeader("X-User-ID"); header != "" {
		if parsed, err := strconv.Atoi(header); err == nil && parsed > 0 {
			return parsed
		}
	}
	return 0
}
