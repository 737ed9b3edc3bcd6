package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const DefaultBaseURL = "https://api.razorpay.com/v1"

// AuthProvider supplies the Authorization header value for API calls,
// refreshing the underlying token first when needed.
type AuthProvider interface {
	AuthHeader(ctx context.Context) (string, error)
}

// APIError is a structured rejection from the processor. Its code and
// description are surfaced verbatim to order notes and callers.
type APIError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (e *APIError) Error() string {
	return e.Code + " : " + e.Description
}

// Client is a thin client for the processor's REST API. Calls are
// synchronous with a bounded timeout and are never retried in-request;
// retry is deferred to the next natural trigger.
type Client struct {
	baseURL    string
	variant    APIVariant
	auth       AuthProvider
	httpClient *http.Client
	log        *logrus.Entry
}

// NewClient creates a new processor API client.
func NewClient(baseURL string, variant APIVariant, auth AuthProvider, logger *logrus.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		variant:    variant,
		auth:       auth,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        logger.WithField("component", "razorpay.client"),
	}
}

// Variant returns the configured API variant.
func (c *Client) Variant() APIVariant {
	return c.variant
}

// Customer is the contact info attached to a payment link.
type Customer struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Contact string `json:"contact,omitempty"`
}

// LinkRequest describes a payment link to create. Amount is in minor
// currency units.
type LinkRequest struct {
	Amount         int64
	Currency       string
	Description    string
	Reference      string
	Customer       Customer
	Notes          map[string]string
	ReminderEnable bool
	NotifySMS      bool
	NotifyEmail    bool
	CallbackURL    string
	ExpireBy       int64
}

// LinkResponse is the processor's view of a payment link.
type LinkResponse struct {
	ID       string `json:"id"`
	Entity   string `json:"entity"`
	Status   string `json:"status"`
	ShortURL string `json:"short_url"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Payment is the authoritative payment state fetched by id.
type Payment struct {
	ID               string            `json:"id"`
	Entity           string            `json:"entity"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Status           string            `json:"status"`
	Method           string            `json:"method"`
	Captured         bool              `json:"captured"`
	ErrorCode        string            `json:"error_code,omitempty"`
	ErrorDescription string            `json:"error_description,omitempty"`
	Notes            map[string]string `json:"notes"`
	CreatedAt        int64             `json:"created_at"`
}

// Authorized reports whether the payment has moved money.
func (p *Payment) Authorized() bool {
	return p.Status == "authorized" || p.Status == "captured"
}

// RefundRequest describes a refund. A nil Amount means full refund.
type RefundRequest struct {
	Amount *int64            `json:"amount,omitempty"`
	Speed  string            `json:"speed,omitempty"`
	Notes  map[string]string `json:"notes,omitempty"`
}

// Refund is the processor's refund record.
type Refund struct {
	ID        string            `json:"id"`
	Entity    string            `json:"entity"`
	Amount    int64             `json:"amount"`
	Currency  string            `json:"currency"`
	PaymentID string            `json:"payment_id"`
	Status    string            `json:"status"`
	Notes     map[string]string `json:"notes"`
}

// WebhookSubscription is a processor-side webhook registration.
type WebhookSubscription struct {
	ID     string          `json:"id,omitempty"`
	URL    string          `json:"url"`
	Active bool            `json:"active"`
	Events map[string]bool `json:"events,omitempty"`
	Secret string          `json:"secret,omitempty"`
}

type webhookList struct {
	Count int                   `json:"count"`
	Items []WebhookSubscription `json:"items"`
}

// CreateLink creates a payment link, shaping the payload for the
// configured API variant.
func (c *Client) CreateLink(ctx context.Context, req LinkRequest) (*LinkResponse, error) {
	body := map[string]interface{}{
		"amount":               req.Amount,
		"currency":             req.Currency,
		"description":          req.Description,
		c.variant.referenceField(): req.Reference,
		"customer":             req.Customer,
		"reminder_enable":      req.ReminderEnable,
		"notes":                req.Notes,
		"callback_url":         req.CallbackURL,
		"callback_method":      "get",
	}
	if req.ExpireBy > 0 {
		body["expire_by"] = req.ExpireBy
	}

	switch c.variant {
	case VariantStandard:
		body["notify"] = map[string]bool{"sms": req.NotifySMS, "email": req.NotifyEmail}
		body["upi_link"] = false
	default:
		body["type"] = "link"
		body["view_less"] = 1
		body["sms_notify"] = boolFlag(req.NotifySMS)
		body["email_notify"] = boolFlag(req.NotifyEmail)
	}

	var resp LinkResponse
	if err := c.do(ctx, http.MethodPost, c.variant.resource(), body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelLink cancels a payment link by id.
func (c *Client) CancelLink(ctx context.Context, linkID string) (*LinkResponse, error) {
	var resp LinkResponse
	path := fmt.Sprintf("%s/%s/cancel", c.variant.resource(), linkID)
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchPayment fetches the authoritative payment state by id.
func (c *Client) FetchPayment(ctx context.Context, paymentID string) (*Payment, error) {
	var resp Payment
	if err := c.do(ctx, http.MethodGet, "payments/"+paymentID, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateRefund creates a refund against a payment.
func (c *Client) CreateRefund(ctx context.Context, paymentID string, req RefundRequest) (*Refund, error) {
	var resp Refund
	if err := c.do(ctx, http.MethodPost, "payments/"+paymentID+"/refund", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListWebhooks lists the account's webhook subscriptions.
func (c *Client) ListWebhooks(ctx context.Context) ([]WebhookSubscription, error) {
	var resp webhookList
	if err := c.do(ctx, http.MethodGet, "webhooks", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// CreateWebhook registers a new webhook subscription.
func (c *Client) CreateWebhook(ctx context.Context, sub WebhookSubscription) (*WebhookSubscription, error) {
	var resp WebhookSubscription
	if err := c.do(ctx, http.MethodPost, "webhooks", sub, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateWebhook updates an existing webhook subscription.
func (c *Client) UpdateWebhook(ctx context.Context, id string, sub WebhookSubscription) (*WebhookSubscription, error) {
	var resp WebhookSubscription
	if err := c.do(ctx, http.MethodPut, "webhooks/"+id, sub, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	url := c.baseURL + "/" + path

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	auth, err := c.auth.AuthHeader(ctx)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", auth)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	decoder := json.NewDecoder(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var rejection struct {
			Error *APIError `json:"error"`
		}
		if err := decoder.Decode(&rejection); err == nil && rejection.Error != nil && rejection.Error.Code != "" {
			c.log.WithFields(logrus.Fields{
				"path": path,
				"code": rejection.Error.Code,
			}).Warn("processor rejected request")
			return rejection.Error
		}
		return fmt.Errorf("processor API error: %s %s returned %s", method, path, resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func boolFlag(b bool) int {
	if b {
		return 1
	}
	return 0
}
