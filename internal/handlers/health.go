package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ferrebot/ferrebot-backend/internal/services"
)

type HealthHandler struct {
	health services.HealthService
}

func NewHealthHandler(health services.HealthService) *HealthHandler {
	return &HealthHandler{health: health}
}

// Get serves GET /health. Degraded still answers 200: the store works
// and conversations degrade gracefully, so load balancers keep routing.
func (h *HealthHandler) Get(c *gin.Context) {
	report := h.health.Check(c.Request.Context())
	status := http.StatusOK
	if report.Status == services.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}
