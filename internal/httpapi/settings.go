package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tabguard/tabguard/internal/settings"
	"github.com/tabguard/tabguard/internal/util"
	"gorm.io/gorm"
)

// SettingsHandler reads and updates the DB-backed runtime settings.
type SettingsHandler struct {
	db *gorm.DB
}

// NewSettingsHandler constructs a SettingsHandler.
func NewSettingsHandler(db *gorm.DB) *SettingsHandler {
	return &SettingsHandler{db: db}
}

// Get returns the runtime settings with the credential masked.
func (h *SettingsHandler) Get(c *gin.Context) {
	credential, _ := settings.StringValue(settings.PolicyCredentialKey)
	profile, _ := settings.StringValue(settings.PolicyProfileIDKey)
	c.JSON(http.StatusOK, gin.H{
		"credential":              util.HideAPIKey(credential),
		"profile_id":              profile,
		"trigger_poll_seconds":    settings.IntValue(settings.TriggerPollSecondsKey, settings.DefaultTriggerPollSeconds),
		"settle_delay_millis":     settings.IntValue(settings.SettleDelayMillisKey, settings.DefaultSettleDelayMillis),
		"proxy_cache_ttl_seconds": settings.IntValue(settings.ProxyCacheTTLSecondsKey, settings.DefaultProxyCacheTTLSeconds),
		"refreshed_at":            settings.SnapshotUpdatedAt(),
	})
}

// updateSettingsRequest defines the settings update body. Pointer fields
// distinguish "absent" from "set to zero".
type updateSettingsRequest struct {
	Credential           *string `json:"credential"`
	ProfileID            *string `json:"profile_id"`
	TriggerPollSeconds   *int    `json:"trigger_poll_seconds"`
	SettleDelayMillis    *int    `json:"settle_delay_millis"`
	ProxyCacheTTLSeconds *int    `json:"proxy_cache_ttl_seconds"`
}

// Update writes the provided settings and refreshes the in-memory snapshot.
func (h *SettingsHandler) Update(c *gin.Context) {
	var req updateSettingsRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	updates := map[string]any{}
	if req.Credential != nil {
		updates[settings.PolicyCredentialKey] = *req.Credential
	}
	if req.ProfileID != nil {
		updates[settings.PolicyProfileIDKey] = *req.ProfileID
	}
	if req.TriggerPollSeconds != nil {
		updates[settings.TriggerPollSecondsKey] = *req.TriggerPollSeconds
	}
	if req.SettleDelayMillis != nil {
		updates[settings.SettleDelayMillisKey] = *req.SettleDelayMillis
	}
	if req.ProxyCacheTTLSeconds != nil {
		updates[settings.ProxyCacheTTLSecondsKey] = *req.ProxyCacheTTLSeconds
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no settings provided"})
		return
	}

	for key, value := range updates {
		if errUpsert := settings.Upsert(ctx, h.db, key, value); errUpsert != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "settings update failed"})
			return
		}
	}
	if errRefresh := settings.RefreshSnapshot(ctx, h.db); errRefresh != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settings refresh failed"})
		return
	}
	h.Get(c)
}
