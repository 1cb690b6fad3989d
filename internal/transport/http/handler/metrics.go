package handler

import (
	"net/http"

	"github.com/aformulationoftruth/questionnaire/internal/health"
	"github.com/aformulationoftruth/questionnaire/internal/metrics"
	"github.com/gin-gonic/gin"
)

type MetricsHandler struct {
	collector *metrics.HourlyCollector
}

func NewMetricsHandler(collector *metrics.HourlyCollector) *MetricsHandler {
	return &MetricsHandler{collector: collector}
}

// GET /api/metrics
// Aggregated hourly counters only, never identities.
func (h *MetricsHandler) Snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.collector.Snapshot())
}

type HealthHandler struct {
	checker *health.Checker
}

func NewHealthHandler(checker *health.Checker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// GET /api/health
func (h *HealthHandler) Health(c *gin.Context) {
	result := h.checker.Readiness(c.Request.Context())
	status := http.StatusOK
	if result.Status != "up" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, result)
}
