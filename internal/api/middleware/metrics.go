package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

// HTTPObserver records request metrics.
type HTTPObserver interface {
	RecordHTTPRequest(method, path string, status int, duration time.Duration)
}

// MetricsMiddleware creates middleware for collecting HTTP metrics. Requests
// are labelled by route template so ids do not explode label cardinality.
func MetricsMiddleware(observer HTTPObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		observer.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
