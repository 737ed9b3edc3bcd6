package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"razorpay-link-service/internal/models"
	"razorpay-link-service/internal/services"
)

// LinkHandler handles payment-link lifecycle HTTP requests
type LinkHandler struct {
	service *services.LinkService
}

// NewLinkHandler creates a new link handler
func NewLinkHandler(service *services.LinkService) *LinkHandler {
	return &LinkHandler{service: service}
}

// CreateLink handles POST /api/v1/orders/:id/payment-link
func (h *LinkHandler) CreateLink(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid order id",
			Message: err.Error(),
		})
		return
	}

	order, err := h.service.CreateLink(c.Request.Context(), orderID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, models.ErrOrderNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, models.ErrorResponse{
			Error:   "Failed to create payment link",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orderId":    order.ID,
		"paymentUrl": order.PaymentURL(),
		"linkId":     order.InvoiceID(),
	})
}

// CancelLink handles POST /api/v1/orders/:id/cancel-link
func (h *LinkHandler) CancelLink(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid order id",
			Message: err.Error(),
		})
		return
	}

	if err := h.service.CancelLink(c.Request.Context(), orderID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, models.ErrOrderNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, models.ErrorResponse{
			Error:   "Failed to cancel payment link",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// Refund handles POST /api/v1/orders/:id/refund
func (h *LinkHandler) Refund(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid order id",
			Message: err.Error(),
		})
		return
	}

	var req models.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid request",
			Message: err.Error(),
		})
		return
	}

	refund, err := h.service.InitiateRefund(c.Request.Context(), orderID, req.Amount, req.Reason)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, models.ErrOrderNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, models.ErrorResponse{
			Error:   "Failed to refund payment",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"refundId": refund.ID,
		"amount":   refund.Amount,
		"status":   refund.Status,
	})
}
