package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/stratacloud/host-controller/internal/storage"
)

// SystemHandler serves the system topology record
type SystemHandler struct {
	store storage.Store
}

// NewSystemHandler creates a system handler
func NewSystemHandler(store storage.Store) *SystemHandler {
	return &SystemHandler{store: store}
}

// Get returns the system record
func (h *SystemHandler) Get(c *gin.Context) {
	system, err := h.store.GetSystem()
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "Not Found",
				"message": "System record has not been created",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Internal Server Error",
			"message": "Failed to load system record",
		})
		return
	}
	c.JSON(http.StatusOK, system)
}
