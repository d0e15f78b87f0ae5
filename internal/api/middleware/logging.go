package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// LoggingMiddleware returns a gin.HandlerFunc for logging requests. Probe
// paths are logged at debug level.
func LoggingMiddleware(logger *logrus.Logger, quietPaths ...string) gin.HandlerFunc {
	quiet := make(map[string]bool, len(quietPaths))
	for _, p := range quietPaths {
		quiet[p] = true
	}

	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		entry := logger.WithFields(logrus.Fields{
			"client_ip":     param.ClientIP,
			"method":        param.Method,
			"path":          param.Path,
			"status_code":   param.StatusCode,
			"latency":       param.Latency,
			"user_agent":    param.Request.UserAgent(),
			"error_message": param.ErrorMessage,
		})

		switch {
		case param.StatusCode >= 500:
			entry.Error("HTTP Request")
		case quiet[param.Path]:
			entry.Debug("HTTP Request")
		default:
			entry.Info("HTTP Request")
		}

		return ""
	})
}

// RecoveryMiddleware turns handler panics into a 500 response.
func RecoveryMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.WithFields(logrus.Fields{
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"client_ip": c.ClientIP(),
			"panic":     recovered,
		}).Error("Panic recovered in API handler")
		abortWithError(c, 500, "Internal server error")
	})
}
