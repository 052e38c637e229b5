// internal/handler/link_handler.go
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"instrument-link/internal/config"
	"instrument-link/internal/link"
	"instrument-link/internal/service"
	"instrument-link/internal/utils"
)

// LinkHandler handles HTTP requests for the instrument link
type LinkHandler struct {
	linkService *service.LinkService
	logger      *utils.ServiceLogger
}

// NewLinkHandler creates a new link handler
func NewLinkHandler(linkService *service.LinkService, logger *zap.Logger) *LinkHandler {
	return &LinkHandler{
		linkService: linkService,
		logger:      utils.NewServiceLogger(logger, "link-handler"),
	}
}

// RegisterRoutes registers link management routes
func (h *LinkHandler) RegisterRoutes(router *gin.RouterGroup) {
	links := router.Group("/link")
	{
		links.GET("/status", h.GetStatus)
		links.GET("/config", h.GetConfig)
		links.PUT("/config", h.UpdateConfig)
		links.POST("/start", h.StartLink)
		links.POST("/stop", h.StopLink)
		links.GET("/messages", h.ListMessages)
		links.POST("/messages", h.SendMessage)
	}
}

// SendMessageRequest represents an outbound message request
type SendMessageRequest struct {
	PayloadHex string `json:"payload_hex" binding:"required"`
}

// GetStatus returns the current link status
func (h *LinkHandler) GetStatus(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Link status retrieved", h.linkService.Status())
}

// GetConfig returns the active link configuration
func (h *LinkHandler) GetConfig(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Link configuration retrieved", h.linkService.Config())
}

// UpdateConfig applies a new link configuration. A running link
// restarts with the new settings.
func (h *LinkHandler) UpdateConfig(c *gin.Context) {
	var cfg config.LinkConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid configuration body", err)
		return
	}

	if err := h.linkService.UpdateConfig(&cfg); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Configuration rejected", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Link configuration updated", h.linkService.Config())
}

// StartLink starts the connection lifecycle
func (h *LinkHandler) StartLink(c *gin.Context) {
	h.linkService.Start(context.Background())
	utils.SuccessResponse(c, http.StatusAccepted, "Link starting", h.linkService.Status())
}

// StopLink stops the connection lifecycle
func (h *LinkHandler) StopLink(c *gin.Context) {
	h.linkService.Stop()
	utils.SuccessResponse(c, http.StatusOK, "Link stopped", h.linkService.Status())
}

// ListMessages returns recent message envelopes, newest first
func (h *LinkHandler) ListMessages(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid limit parameter", err)
			return
		}
		limit = parsed
	}

	messages := h.linkService.Recent(limit)
	utils.SuccessResponse(c, http.StatusOK, "Messages retrieved", gin.H{
		"count":    len(messages),
		"messages": messages,
	})
}

// SendMessage writes one payload through the link
func (h *LinkHandler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	envelope, err := h.linkService.SendHex(req.PayloadHex)
	if err != nil {
		switch {
		case errors.Is(err, link.ErrNotConnected):
			utils.ErrorResponse(c, http.StatusConflict, "Link not connected", err)
		case errors.Is(err, link.ErrDirectionNotAllowed):
			utils.ErrorResponse(c, http.StatusForbidden, "Send not allowed on this link", err)
		default:
			utils.ErrorResponse(c, http.StatusBadRequest, "Failed to send message", err)
		}
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Message sent", envelope)
}
