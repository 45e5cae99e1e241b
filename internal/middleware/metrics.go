// metrics.go records Prometheus request counters and latency histograms for every route.
package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/helpdesk-io/helpdesk/internal/telemetry"
)

// noRoute is the path label for requests that matched no route, so unknown URLs do not
// create new series.
const noRoute = "<no-route>"

// apiSurface classifies a route template for the "api" metric label.
func apiSurface(routePath string) string {
	switch {
	case strings.HasPrefix(routePath, "/api/external/"):
		return "external"
	case strings.HasPrefix(routePath, "/api/v1/"):
		return "admin"
	}
	return "system"
}

// MetricsMiddleware records http_requests_total and http_request_duration_seconds for every
// request. The path label is the matched route template (c.FullPath()), never the raw URL.
//
// Register it after gin.Recovery() so statuses written by recovery are counted.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = noRoute
		}
		api := apiSurface(path)
		method := c.Request.Method

		telemetry.HTTPRequestsTotal.WithLabelValues(api, method, path, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(api, method, path).Observe(time.Since(start).Seconds())
	}
}
