package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/token-service/internal/service"
)

// unmatchedRoute labels requests that hit no registered route, keeping
// arbitrary URLs out of metric labels.
const unmatchedRoute = "unmatched"

// Metrics returns middleware that records request count and latency per route template.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
