package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stratacloud/host-controller/internal/logger"
)

// Recovery converts a handler panic into a 500 so one bad mutation cannot
// take the control plane down with it
func Recovery(log logger.Interface) gin.HandlerFunc {
	return gin.RecoveryWithWriter(gin.DefaultErrorWriter, func(c *gin.Context, recovered interface{}) {
		log.WithFields(map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"ip":         c.ClientIP(),
			RequestIDKey: GetRequestID(c),
			"panic":      recovered,
		}).Error("Recovered from handler panic")

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Internal Server Error",
			"message": "An unexpected error occurred",
		})
	})
}
