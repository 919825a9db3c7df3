package statusserver

import (
	"time"

	"github.com/abhiShandy/joinmarket-webui/pkg/logger"
	"github.com/gin-gonic/gin"
)

// loggingMiddleware logs each request once it completes.
func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		if status >= 500 {
			logger.Warnf("[%s] %s - %d (%v)", c.Request.Method, path, status, latency)
			return
		}
		logger.Debugf("[%s] %s - %d (%v)", c.Request.Method, path, status, latency)
	}
}
