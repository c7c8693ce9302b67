// Package handlers provides HTTP API request handlers.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/barelyworkingcode/eve/internal/hook"
	"github.com/barelyworkingcode/eve/internal/session"
)

// PermissionHandler services tool-permission callbacks from provider
// CLIs. The CLI posts here with its per-session hook token; the
// request is relayed to the session's client and the HTTP call blocks
// until the user answers or the bridge times out.
type PermissionHandler struct {
	bridge   *hook.Bridge
	sessions *session.Manager
}

// NewPermissionHandler creates a new PermissionHandler.
func NewPermissionHandler(bridge *hook.Bridge, sessions *session.Manager) *PermissionHandler {
	return &PermissionHandler{bridge: bridge, sessions: sessions}
}

// PermissionRequest is the body posted by the CLI hook.
type PermissionRequest struct {
	SessionID string          `json:"sessionId" binding:"required"`
	ToolName  string          `json:"toolName" binding:"required"`
	ToolInput json.RawMessage `json:"toolInput"`
	ToolUseID string          `json:"toolUseId" binding:"required"`
}

// PermissionResponse is returned to the CLI hook.
type PermissionResponse struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
}

// RegisterRoutes registers permission routes on the router group.
func (h *PermissionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/permission", h.Handle)
}

// Handle handles POST /api/permission.
func (h *PermissionHandler) Handle(c *gin.Context) {
	var req PermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	if !h.bridge.ValidateToken(req.SessionID, bearerToken(c)) {
		sendError(c, http.StatusUnauthorized, "INVALID_TOKEN", "Hook token rejected")
		return
	}

	delivered := h.sessions.Notify(req.SessionID, session.F{
		"type":      "permission_request",
		"sessionId": req.SessionID,
		"toolName":  req.ToolName,
		"toolInput": req.ToolInput,
		"toolUseId": req.ToolUseID,
	})
	if !delivered {
		// Nobody is attached to answer; fail closed.
		c.JSON(http.StatusOK, PermissionResponse{
			Decision: "deny",
			Reason:   "no client connected",
		})
		return
	}

	decision := h.bridge.Await(req.ToolUseID)
	c.JSON(http.StatusOK, PermissionResponse{
		Decision: decision.Decision,
		Reason:   decision.Reason,
	})
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.GetHeader("X-Hook-Token")
}
