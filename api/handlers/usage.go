package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/barelyworkingcode/eve/internal/repository"
)

// UsageHandler exposes the token usage ledger.
type UsageHandler struct {
	usage *repository.UsageRepository
}

// NewUsageHandler creates a new UsageHandler.
func NewUsageHandler(usage *repository.UsageRepository) *UsageHandler {
	return &UsageHandler{usage: usage}
}

// RegisterRoutes registers usage routes on the router group.
func (h *UsageHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/usage", h.List)
	rg.GET("/usage/totals", h.Totals)
}

// List handles GET /api/usage?since=<RFC3339>.
func (h *UsageHandler) List(c *gin.Context) {
	since, ok := sinceParam(c)
	if !ok {
		return
	}
	records, err := h.usage.ListSince(c.Request.Context(), since)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list usage: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// Totals handles GET /api/usage/totals?since=<RFC3339>.
func (h *UsageHandler) Totals(c *gin.Context) {
	since, ok := sinceParam(c)
	if !ok {
		return
	}
	totals, err := h.usage.TotalsSince(c.Request.Context(), since)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to total usage: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, totals)
}

// sinceParam parses the since query parameter, defaulting to the last
// 30 days.
func sinceParam(c *gin.Context) (time.Time, bool) {
	raw := c.Query("since")
	if raw == "" {
		return time.Now().AddDate(0, 0, -30), true
	}
	since, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid since parameter: "+err.Error())
		return time.Time{}, false
	}
	return since, true
}
