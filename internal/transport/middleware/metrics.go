package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ds124wfegd/roombooker/internal/metrics"
)

// Metrics пишет латентность запросов в гистограмму по шаблону маршрута
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveHTTP(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
