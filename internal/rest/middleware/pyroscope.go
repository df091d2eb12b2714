package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/grafana/pyroscope-go"

	"github.com/hirewire/billing/internal/config"
)

// PyroscopeMiddleware labels request handling with method and route so
// profiles can be sliced per endpoint
func PyroscopeMiddleware(cfg *config.Configuration) gin.HandlerFunc {
	if !cfg.Pyroscope.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		labels := pyroscope.Labels(
			"method", c.Request.Method,
			"endpoint", c.FullPath(),
		)
		pyroscope.TagWrapper(context.Background(), labels, func(ctx context.Context) {
			c.Next()
		})
	}
}
