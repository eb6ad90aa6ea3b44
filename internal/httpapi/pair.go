package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tabguard/tabguard/internal/security"
	"github.com/tabguard/tabguard/internal/settings"

	log "github.com/sirupsen/logrus"
)

// sessionTokenTTL bounds how long a paired extension session lasts.
const sessionTokenTTL = 12 * time.Hour

// PairHandler exchanges the pairing access key for a session token.
type PairHandler struct{}

// NewPairHandler constructs a PairHandler.
func NewPairHandler() *PairHandler {
	return &PairHandler{}
}

// pairRequest defines the pairing request body.
type pairRequest struct {
	AccessKey string `json:"access_key" binding:"required"`
}

// Pair checks the access key against the stored hash and mints a session JWT.
func (h *PairHandler) Pair(c *gin.Context) {
	var req pairRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "access_key is required"})
		return
	}

	hash, ok := settings.StringValue(settings.PairingKeyHashKey)
	if !ok || hash == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "agent not set up"})
		return
	}
	if !security.CheckAccessKey(hash, req.AccessKey) {
		log.Warn("httpapi: pairing attempt with wrong access key")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid access key"})
		return
	}

	secret, ok := settings.StringValue(settings.SessionSecretKey)
	if !ok || secret == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session secret missing"})
		return
	}
	token, errToken := security.GenerateSessionToken(secret, sessionTokenTTL)
	if errToken != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}
