package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stratacloud/host-controller/internal/storage"
)

// HealthHandler serves liveness and readiness probes
type HealthHandler struct {
	database *storage.Database
}

// NewHealthHandler creates a health handler
func NewHealthHandler(db *storage.Database) *HealthHandler {
	return &HealthHandler{database: db}
}

// Health reports process liveness
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready reports whether the controller can serve requests
func (h *HealthHandler) Ready(c *gin.Context) {
	if err := h.database.Health(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unavailable",
			"message": "database is not reachable",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
