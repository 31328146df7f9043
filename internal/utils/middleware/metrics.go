package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mailvet/server/internal/utils/metrics"
)

// Metrics records request counts and latencies. Uses the route template
// rather than the raw URL so path parameters do not explode the label set.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.HTTPRequestsInFlight.Inc()

		c.Next()

		m.HTTPRequestsInFlight.Dec()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
