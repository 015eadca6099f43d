package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/providers/permissions"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
)

type scopesRequest struct {
	Scopes []string `json:"scopes"`
	Deny   bool     `json:"deny,omitempty"`
}

// ListScopes lists every requestable scope.
func (h *Handlers) ListScopes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"scopes": permissions.Scopes()})
}

// ListPermissions lists recorded decisions of one application.
func (h *Handlers) ListPermissions(c *gin.Context) {
	if !h.hasGate(c) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"permissions": h.gate.List(c.Param("appId"))})
}

// PermissionAudit lists the latest authorization requests of one application.
func (h *Handlers) PermissionAudit(c *gin.Context) {
	if !h.hasGate(c) {
		return
	}
	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.fail(c, errs.New(errs.KindMalformedInput, "api.audit", "limit must be a positive integer"))
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, gin.H{"audit": h.gate.Audit(c.Param("appId"), limit)})
}

// GrantPermissions records decisions ahead of any request: grants by
// default, refusals with "deny".
func (h *Handlers) GrantPermissions(c *gin.Context) {
	if !h.hasGate(c) {
		return
	}
	var req scopesRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Scopes) == 0 {
		h.fail(c, errs.New(errs.KindMalformedInput, "api.grant", "scopes are required"))
		return
	}
	set := h.gate.Grant
	if req.Deny {
		set = h.gate.Deny
	}
	if err := set(c.Param("appId"), req.Scopes...); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"permissions": h.gate.List(c.Param("appId"))})
}

// RevokePermissions forgets decisions; an empty list forgets all of them.
func (h *Handlers) RevokePermissions(c *gin.Context) {
	if !h.hasGate(c) {
		return
	}
	var req scopesRequest
	if err := bindOptional(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	h.gate.Revoke(c.Param("appId"), req.Scopes...)
	c.JSON(http.StatusOK, gin.H{"permissions": h.gate.List(c.Param("appId"))})
}

func (h *Handlers) hasGate(c *gin.Context) bool {
	if h.gate == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "permissions are not managed by this host"})
		return false
	}
	return true
}
