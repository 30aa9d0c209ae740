// Package middleware provides the gin middleware used by the HTTP front end.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Confio-Network/wallet-engine/internal/logging"
	"github.com/Confio-Network/wallet-engine/internal/metrics"
)

// RequestLogger logs one structured record per request. Health and metrics
// probes are logged at debug to keep the info stream readable.
func RequestLogger(log *logging.Logger) gin.HandlerFunc {
	if log == nil {
		log = logging.Nop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := logging.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"client":   c.ClientIP(),
		}
		ctx := c.Request.Context()
		switch {
		case c.Writer.Status() >= 500:
			fields["errors"] = c.Errors.String()
			log.Error(ctx, "request failed", fields)
		case c.FullPath() == "/health" || c.FullPath() == "/metrics":
			log.Debug(ctx, "request", fields)
		default:
			log.Info(ctx, "request", fields)
		}
	}
}

// Metrics records request counts and latency per route.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
