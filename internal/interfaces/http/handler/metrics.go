package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// MetricsHandler serves the Prometheus exporter
type MetricsHandler struct {
	exporter http.Handler
}

// NewMetricsHandler creates a new MetricsHandler
func NewMetricsHandler(exporter http.Handler) *MetricsHandler {
	return &MetricsHandler{exporter: exporter}
}

// Serve godoc
// @ID           getMetrics
// @Summary      Prometheus metrics
// @Description  Pipeline, HTTP and runtime metrics in the Prometheus text format
// @Tags         system
// @Produce      plain
// @Success      200 {string} string "Prometheus exposition"
// @Router       /metrics [get]
func (h *MetricsHandler) Serve(c *gin.Context) {
	h.exporter.ServeHTTP(c.Writer, c.Request)
}
