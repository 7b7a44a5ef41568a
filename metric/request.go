package metric

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// PrometheusMiddleware counts the requests served by a gin engine, labelled
// by the route pattern so that path parameters do not explode the series
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		Requests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
