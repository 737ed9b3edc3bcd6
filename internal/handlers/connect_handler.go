package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"razorpay-link-service/internal/config"
	"razorpay-link-service/internal/models"
	"razorpay-link-service/internal/services"
)

// ConnectHandler handles account connect/disconnect HTTP requests
type ConnectHandler struct {
	service *services.ConnectService
	setup   *services.WebhookSetupService
	cfg     *config.Config
}

// NewConnectHandler creates a new connect handler
func NewConnectHandler(service *services.ConnectService, setup *services.WebhookSetupService, cfg *config.Config) *ConnectHandler {
	return &ConnectHandler{service: service, setup: setup, cfg: cfg}
}

// Connect handles POST /api/v1/admin/connect/:mode and returns the
// authorization URL the admin must visit.
func (h *ConnectHandler) Connect(c *gin.Context) {
	mode := models.ParseMode(c.Param("mode"))
	callbackURL := h.cfg.PublicBaseURL + "/api/v1/admin/connect/callback"

	authURL, err := h.service.Connect(c.Request.Context(), mode, h.cfg.SettingsURL, callbackURL)
	if err != nil {
		c.JSON(http.StatusBadGateway, models.ErrorResponse{
			Error:   "Failed to start connect handshake",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"mode":             mode,
		"authorizationUrl": authURL,
	})
}

// ConnectCallback handles GET /api/v1/admin/connect/callback, the return
// leg of the handshake. The admin lands back on the settings screen either
// way.
func (h *ConnectHandler) ConnectCallback(c *gin.Context) {
	outcome, err := h.service.HandleReturn(
		c.Request.Context(),
		c.Query("state"),
		c.Query("code"),
		c.Query("razorpay_connect_status"),
	)
	if err != nil {
		c.Redirect(http.StatusFound, h.cfg.SettingsURL+"?connect=error")
		return
	}

	if outcome.Success {
		c.Redirect(http.StatusFound, h.cfg.SettingsURL+"?connect=success&mode="+string(outcome.Mode))
		return
	}
	c.Redirect(http.StatusFound, h.cfg.SettingsURL+"?connect=failed")
}

// Disconnect handles POST /api/v1/admin/disconnect/:mode
func (h *ConnectHandler) Disconnect(c *gin.Context) {
	mode := models.ParseMode(c.Param("mode"))
	if err := h.service.Disconnect(c.Request.Context(), mode); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "Failed to disconnect",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": mode, "status": "disconnected"})
}

// Status handles GET /api/v1/admin/status/:mode
func (h *ConnectHandler) Status(c *gin.Context) {
	mode := models.ParseMode(c.Param("mode"))
	status, err := h.service.Status(c.Request.Context(), mode)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "Failed to read connection status",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, status)
}

// WebhookSetup handles POST /api/v1/admin/webhook-setup
func (h *ConnectHandler) WebhookSetup(c *gin.Context) {
	sub, err := h.setup.Sync(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, models.ErrorResponse{
			Error:   "Failed to sync webhook subscription",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"webhookId": sub.ID,
		"url":       sub.URL,
		"active":    sub.Active,
	})
}
