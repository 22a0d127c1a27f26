package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/stratacloud/host-controller/internal/api/middleware"
	"github.com/stratacloud/host-controller/internal/errors"
	"github.com/stratacloud/host-controller/internal/logger"
	"github.com/stratacloud/host-controller/internal/patch"
	"github.com/stratacloud/host-controller/internal/services"
)

// HostHandler serves the host inventory endpoints
type HostHandler struct {
	svc    *services.HostService
	logger logger.Interface
}

// NewHostHandler creates a host handler backed by the mutation coordinator
func NewHostHandler(svc *services.HostService, log logger.Interface) *HostHandler {
	return &HostHandler{
		svc:    svc,
		logger: log.WithField("handler", "host"),
	}
}

// List returns all host records
func (h *HostHandler) List(c *gin.Context) {
	hosts, err := h.svc.List()
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ihosts": hosts})
}

// Get returns a single host by UUID
func (h *HostHandler) Get(c *gin.Context) {
	host, err := h.svc.GetByUUID(c.Param("uuid"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, host)
}

// Create enrolls a new host
func (h *HostHandler) Create(c *gin.Context) {
	var req services.CreateHostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Bad Request",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	host, err := h.svc.Create(c.Request.Context(), req)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, host)
}

// Patch applies a patch document to a host. The caller identity recorded by
// the auth middleware selects which fields the patch may touch.
func (h *HostHandler) Patch(c *gin.Context) {
	var doc patch.Document
	if err := c.ShouldBindJSON(&doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Bad Request",
			"message": "Invalid patch document: " + err.Error(),
		})
		return
	}

	host, err := h.svc.Patch(c.Request.Context(), c.Param("uuid"), doc, middleware.GetCaller(c))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, host)
}

// Delete removes a host from the inventory
func (h *HostHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("uuid"), middleware.GetCaller(c)); err != nil {
		h.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// renderError maps service and collaborator errors onto HTTP status codes
func (h *HostHandler) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Not Found",
			"message": "Host not found",
		})
	case errors.Is(err, services.ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Conflict",
			"message": "A host with this identity already exists",
		})
	case errors.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Bad Request",
			"message": err.Error(),
		})
	case errors.IsConflict(err):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Conflict",
			"message": err.Error(),
		})
	case errors.IsCollaboratorTimeout(err):
		c.JSON(http.StatusGatewayTimeout, gin.H{
			"error":   "Gateway Timeout",
			"message": err.Error(),
		})
	case errors.IsCollaboratorRejected(err):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "Bad Gateway",
			"message": err.Error(),
		})
	default:
		h.logger.WithError(err).Error("Unhandled service error")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Internal Server Error",
			"message": "An unexpected error occurred",
		})
	}
}
