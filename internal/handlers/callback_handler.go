package handlers

import (
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"razorpay-link-service/internal/config"
	"razorpay-link-service/internal/models"
	"razorpay-link-service/internal/services"
)

// CallbackHandler terminates the two inbound signal paths from the
// processor: the customer's redirect after checkout and webhook deliveries.
type CallbackHandler struct {
	service *services.LinkService
	cfg     *config.Config
	log     *logrus.Entry
}

// NewCallbackHandler creates a new callback handler
func NewCallbackHandler(service *services.LinkService, cfg *config.Config, logger *logrus.Logger) *CallbackHandler {
	return &CallbackHandler{
		service: service,
		cfg:     cfg,
		log:     logger.WithField("component", "callback.handler"),
	}
}

// PaymentRedirect handles GET /api/v1/callback/payment. The customer's
// browser always ends on a storefront page; only a nonexistent order is a
// dead end.
func (h *CallbackHandler) PaymentRedirect(c *gin.Context) {
	orderID, err := uuid.Parse(c.Query("order_id"))
	if err != nil {
		c.String(http.StatusNotFound, "Order not found.")
		return
	}

	result, err := h.service.CaptureFromRedirect(c.Request.Context(), orderID, c.Request.URL.Query())
	if err != nil {
		if errors.Is(err, models.ErrOrderNotFound) {
			c.String(http.StatusNotFound, "Order not found.")
			return
		}
		h.log.WithField("orderId", orderID).WithError(err).Error("redirect capture failed")
		c.Redirect(http.StatusFound, h.checkoutURL("error"))
		return
	}

	if result.Paid {
		c.Redirect(http.StatusFound, h.receivedURL(result.Order))
		return
	}
	c.Redirect(http.StatusFound, h.checkoutURL("failed"))
}

// Webhook handles POST /webhooks/razorpay. Deliveries are always
// acknowledged with 200 so the processor never disables the endpoint;
// verification failures are dropped silently inside the service.
func (h *CallbackHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusOK)
		return
	}
	sig := c.GetHeader("X-Razorpay-Signature")
	h.service.ProcessWebhook(c.Request.Context(), body, sig)
	c.Status(http.StatusOK)
}

func (h *CallbackHandler) receivedURL(order *models.Order) string {
	return h.cfg.CheckoutURL + "/order-received/" + order.ID.String() +
		"?key=" + url.QueryEscape(order.OrderKey)
}

func (h *CallbackHandler) checkoutURL(notice string) string {
	return h.cfg.CheckoutURL + "?payment=" + notice
}
