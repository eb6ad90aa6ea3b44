package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tabguard/tabguard/internal/models"
	"github.com/tabguard/tabguard/internal/settings"

	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// proxyCacheRowID is the fixed key of the single cache row.
const proxyCacheRowID = 1

// ProxyHandler serves the redirect-target list through a durable TTL cache.
// A cache hit never touches the network.
type ProxyHandler struct {
	db  *gorm.DB
	gw  ProxyLister
	now func() time.Time
}

// NewProxyHandler constructs a ProxyHandler.
func NewProxyHandler(db *gorm.DB, gw ProxyLister) *ProxyHandler {
	return &ProxyHandler{
		db:  db,
		gw:  gw,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// List returns the cached proxy list, refetching when the cache is stale.
func (h *ProxyHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	ttlSeconds := settings.IntValue(settings.ProxyCacheTTLSecondsKey, settings.DefaultProxyCacheTTLSeconds)
	if ttlSeconds <= 0 {
		ttlSeconds = settings.DefaultProxyCacheTTLSeconds
	}
	ttl := time.Duration(ttlSeconds) * time.Second

	var cached models.ProxyCache
	errFind := h.db.WithContext(ctx).Where("id = ?", proxyCacheRowID).First(&cached).Error
	if errFind == nil && h.now().Sub(cached.FetchedAt.UTC()) < ttl {
		c.JSON(http.StatusOK, gin.H{"proxies": json.RawMessage(cached.Payload), "cached": true})
		return
	}
	if errFind != nil && !errors.Is(errFind, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "proxy cache read failed"})
		return
	}

	proxies, errList := h.gw.ListProxies(ctx)
	if errList != nil {
		// Serve a stale cache rather than nothing when upstream fails.
		if errFind == nil && len(cached.Payload) > 0 {
			log.WithError(errList).Warn("httpapi: proxy refresh failed, serving stale cache")
			c.JSON(http.StatusOK, gin.H{"proxies": json.RawMessage(cached.Payload), "cached": true, "stale": true})
			return
		}
		writeOperationError(c, errList)
		return
	}

	payload, errMarshal := json.Marshal(proxies)
	if errMarshal != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encode proxies failed"})
		return
	}
	if errSave := h.saveCache(c, payload); errSave != nil {
		log.WithError(errSave).Warn("httpapi: proxy cache write failed")
	}
	c.JSON(http.StatusOK, gin.H{"proxies": json.RawMessage(payload), "cached": false})
}

func (h *ProxyHandler) saveCache(c *gin.Context, payload []byte) error {
	ctx := c.Request.Context()
	now := h.now()
	var existing models.ProxyCache
	errFind := h.db.WithContext(ctx).Where("id = ?", proxyCacheRowID).First(&existing).Error
	if errFind == nil {
		return h.db.WithContext(ctx).
			Model(&models.ProxyCache{}).
			Where("id = ?", proxyCacheRowID).
			Updates(map[string]any{"payload": datatypes.JSON(payload), "fetched_at": now}).Error
	}
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		row := models.ProxyCache{ID: proxyCacheRowID, Payload: payload, FetchedAt: now}
		return h.db.WithContext(ctx).Create(&row).Error
	}
	return errFind
}
