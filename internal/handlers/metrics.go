package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ferrebot/ferrebot-backend/internal/observability"
)

type MetricsHandler struct{}

func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// Get serves GET /metrics as a JSON snapshot of the in-process
// registry. Durable analytics live in the metrics tables.
func (h *MetricsHandler) Get(c *gin.Context) {
	m := observability.Current()
	if m == nil {
		c.JSON(http.StatusOK, gin.H{"counters": gin.H{}, "histograms": gin.H{}})
		return
	}
	c.JSON(http.StatusOK, m.Snapshot())
}
