package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tabguard/tabguard/internal/engine"
	"github.com/tabguard/tabguard/internal/gateway"
)

// RuleHandler exposes the convergence operations to the extension.
type RuleHandler struct {
	op Operator
}

// NewRuleHandler constructs a RuleHandler.
func NewRuleHandler(op Operator) *RuleHandler {
	return &RuleHandler{op: op}
}

// Status returns the current session snapshot for a domain.
func (h *RuleHandler) Status(c *gin.Context) {
	domain := strings.TrimSpace(c.Query("domain"))
	if domain == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "domain is required"})
		return
	}
	session := h.op.Refresh(c.Request.Context(), domain)
	c.JSON(http.StatusOK, session)
}

// Apply creates or updates a rule.
func (h *RuleHandler) Apply(c *gin.Context) {
	var req engine.ApplyRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	session, errApply := h.op.Apply(c.Request.Context(), req)
	if errApply != nil {
		writeOperationError(c, errApply)
		return
	}
	c.JSON(http.StatusOK, session)
}

// Remove deletes a rule, optionally temporarily.
func (h *RuleHandler) Remove(c *gin.Context) {
	var req engine.RemoveRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	session, errRemove := h.op.Remove(c.Request.Context(), req)
	if errRemove != nil {
		writeOperationError(c, errRemove)
		return
	}
	c.JSON(http.StatusOK, session)
}

// writeOperationError maps the error taxonomy onto HTTP statuses:
// validation 400, gateway 502, transport 504.
func writeOperationError(c *gin.Context, err error) {
	var validationErr *engine.ValidationError
	if errors.As(err, &validationErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Message})
		return
	}
	var transportErr *gateway.TransportError
	if errors.As(err, &transportErr) {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": transportErr.Error()})
		return
	}
	var gatewayErr *gateway.GatewayError
	if errors.As(err, &gatewayErr) {
		c.JSON(http.StatusBadGateway, gin.H{"error": gatewayErr.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
