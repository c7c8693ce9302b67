package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/barelyworkingcode/eve/internal/session"
)

// SessionHandler exposes read-only session listings. Mutation happens
// over the websocket, where a client binding exists.
type SessionHandler struct {
	sessions *session.Manager
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions *session.Manager) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// RegisterRoutes registers session routes on the router group.
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/sessions", h.List)
	rg.GET("/models", h.Models)
}

// List handles GET /api/sessions - every persisted session.
func (h *SessionHandler) List(c *gin.Context) {
	sessions, err := h.sessions.List()
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list sessions: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// Models handles GET /api/models - the model catalogue with enabled
// state per provider.
func (h *SessionHandler) Models(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": h.sessions.ListModels()})
}

// ErrorResponse is the error envelope for API responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine-readable code and human message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}
