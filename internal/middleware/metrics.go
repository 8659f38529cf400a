package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/escuela-app/enrollment-api/internal/service"
)

// Metrics returns middleware that records request metrics via the metrics
// service.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
