package service

import (
	"time"

	"github.com/gin-gonic/gin"

	"wg-tunnels/internal/core"
)

// accessLog writes one line per request. Event streams are logged when they
// end, like any other request.
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path += "?" + q
		}
		switch {
		case status >= 500:
			core.Log.Errorf("API", "%s %s → %d (%s) %s", c.Request.Method, path, status, time.Since(start), c.Errors.String())
		case status >= 400:
			core.Log.Warnf("API", "%s %s → %d (%s)", c.Request.Method, path, status, time.Since(start))
		default:
			core.Log.Debugf("API", "%s %s → %d (%s)", c.Request.Method, path, status, time.Since(start))
		}
	}
}
