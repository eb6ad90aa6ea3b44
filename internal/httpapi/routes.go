package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tabguard/tabguard/internal/engine"
	"github.com/tabguard/tabguard/internal/security"
	"github.com/tabguard/tabguard/internal/settings"
	"gorm.io/gorm"
)

// Operator is the convergence capability the rule endpoints need.
type Operator interface {
	Refresh(ctx context.Context, domain string) engine.Session
	Apply(ctx context.Context, req engine.ApplyRequest) (engine.Session, error)
	Remove(ctx context.Context, req engine.RemoveRequest) (engine.Session, error)
}

// Disarmer cancels a domain's scheduled override.
type Disarmer interface {
	Disarm(ctx context.Context, domain string) error
}

// ProxyLister fetches the upstream redirect targets.
type ProxyLister interface {
	ListProxies(ctx context.Context) ([]any, error)
}

// RegisterAgentRoutes registers the extension-facing agent API.
func RegisterAgentRoutes(r *gin.Engine, db *gorm.DB, op Operator, disarmer Disarmer, proxies ProxyLister) {
	if r == nil || db == nil {
		return
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	agent := r.Group("/v0/agent")

	pairHandler := NewPairHandler()
	agent.POST("/pair", pairHandler.Pair)

	authed := agent.Group("")
	authed.Use(sessionAuthMiddleware())

	ruleHandler := NewRuleHandler(op)
	authed.GET("/status", ruleHandler.Status)
	authed.POST("/rules/apply", ruleHandler.Apply)
	authed.POST("/rules/remove", ruleHandler.Remove)

	overrideHandler := NewOverrideHandler(db, disarmer)
	authed.GET("/overrides", overrideHandler.List)
	authed.DELETE("/overrides/:domain", overrideHandler.Cancel)

	proxyHandler := NewProxyHandler(db, proxies)
	authed.GET("/proxies", proxyHandler.List)

	settingsHandler := NewSettingsHandler(db)
	authed.GET("/settings", settingsHandler.Get)
	authed.PUT("/settings", settingsHandler.Update)
}

// sessionAuthMiddleware validates extension session JWTs. An unpaired agent
// has no session secret stored and rejects everything.
func sessionAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		secret, ok := settings.StringValue(settings.SessionSecretKey)
		if !ok || secret == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "agent not paired"})
			return
		}

		if _, errJWT := security.ParseSessionToken(secret, token); errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}
