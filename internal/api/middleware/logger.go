package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stratacloud/host-controller/internal/logger"
)

// Logger emits one structured entry per request. Health and readiness polls
// are skipped; they would drown the mutation traffic this log exists for.
func Logger(log logger.Interface) gin.HandlerFunc {
	return gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			fields := map[string]interface{}{
				"status":  param.StatusCode,
				"method":  param.Method,
				"path":    param.Path,
				"ip":      param.ClientIP,
				"latency": param.Latency.String(),
				"time":    param.TimeStamp.Format(time.RFC3339),
			}
			if id, ok := param.Keys[RequestIDKey].(string); ok && id != "" {
				fields[RequestIDKey] = id
			}

			entry := log.WithFields(fields)
			if param.ErrorMessage != "" {
				entry = entry.WithField("error", param.ErrorMessage)
			}

			if param.StatusCode >= 400 {
				entry.Error("Request failed")
			} else {
				entry.Info("Request served")
			}
			return ""
		},
		Output:    gin.DefaultWriter,
		SkipPaths: []string{"/health", "/ready"},
	})
}
