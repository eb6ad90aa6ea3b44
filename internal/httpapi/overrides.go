package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tabguard/tabguard/internal/models"
	"gorm.io/gorm"
)

// OverrideHandler lists and cancels scheduled overrides.
type OverrideHandler struct {
	db       *gorm.DB
	disarmer Disarmer
}

// NewOverrideHandler constructs an OverrideHandler.
func NewOverrideHandler(db *gorm.DB, disarmer Disarmer) *OverrideHandler {
	return &OverrideHandler{db: db, disarmer: disarmer}
}

// List returns pending restores and armed triggers.
func (h *OverrideHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	var restores []models.PendingRestore
	if errFind := h.db.WithContext(ctx).Order("domain ASC").Find(&restores).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list pending restores failed"})
		return
	}
	var triggers []models.ScheduledTrigger
	if errFind := h.db.WithContext(ctx).Order("fire_at ASC").Find(&triggers).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list triggers failed"})
		return
	}

	restoreOut := make([]gin.H, 0, len(restores))
	for _, restore := range restores {
		restoreOut = append(restoreOut, gin.H{
			"domain":     restore.Domain,
			"action":     restore.Action,
			"proxy_id":   restore.ProxyID,
			"created_at": restore.CreatedAt,
		})
	}
	triggerOut := make([]gin.H, 0, len(triggers))
	for _, trigger := range triggers {
		triggerOut = append(triggerOut, gin.H{
			"name":    trigger.Name,
			"kind":    trigger.Kind,
			"domain":  trigger.Domain,
			"fire_at": trigger.FireAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"pending_restores": restoreOut,
		"triggers":         triggerOut,
	})
}

// Cancel disarms both trigger kinds and the pending restore for a domain.
func (h *OverrideHandler) Cancel(c *gin.Context) {
	domain := strings.TrimSpace(c.Param("domain"))
	if domain == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "domain is required"})
		return
	}
	if errDisarm := h.disarmer.Disarm(c.Request.Context(), domain); errDisarm != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "disarm failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"disarmed": domain})
}
