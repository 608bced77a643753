package middleware

import (
	"strconv"

	"github.com/chrischoy/MediaWhisperer/pkg/metrics"
	"github.com/gin-gonic/gin"
)

// Metrics counts requests by route template and status code. Unmatched
// routes are grouped under "unmatched" to keep label cardinality bounded.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.ObserveRequest(path, strconv.Itoa(c.Writer.Status()))
	}
}
