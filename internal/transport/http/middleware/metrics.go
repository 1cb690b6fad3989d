package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/aformulationoftruth/questionnaire/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Metrics feeds the Prometheus registry and the hourly product counters.
func Metrics(sink metrics.Sink) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		method := c.Request.Method
		duration := time.Since(start).Seconds()

		metrics.HTTPRequestDuration.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration)
		metrics.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()

		if strings.HasPrefix(path, "/api/") {
			sink.Increment("requests.api")
		}
		switch {
		case status >= 500:
			sink.Increment("errors.5xx")
		case status >= 400:
			sink.Increment("errors.4xx")
		}
	}
}
