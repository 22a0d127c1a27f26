package middleware

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/gin-gonic/gin"
)

const (
	// RequestIDHeader carries the correlation ID; collaborator callbacks that
	// echo it can be matched to the mutation that triggered them
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin context key the ID is stored under
	RequestIDKey = "request_id"
)

// RequestID tags every request with a correlation ID, honoring one supplied
// by the caller
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = newRequestID()
		}

		c.Header(RequestIDHeader, id)
		c.Set(RequestIDKey, id)
		c.Next()
	}
}

func newRequestID() string {
	buf := make([]byte, 8)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}

// GetRequestID returns the correlation ID recorded for this request, or ""
func GetRequestID(c *gin.Context) string {
	if id, exists := c.Get(RequestIDKey); exists {
		return id.(string)
	}
	return ""
}
