package models

import "encoding/json"

// Webhook event kinds this integration acts on. Anything else is
// acknowledged and ignored.
const (
	WebhookPaymentAuthorized = "payment.authorized"
	WebhookRefundCreated     = "refund.created"
)

// Note key carrying the order reference inside processor entities.
const NoteOrderID = "order_id"

// WebhookPayload is the transient shape of a processor webhook delivery.
type WebhookPayload struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity PaymentEntity `json:"entity"`
		} `json:"payment"`
		Refund struct {
			Entity RefundEntity `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

// PaymentEntity is the payment object embedded in webhook payloads.
type PaymentEntity struct {
	ID     string            `json:"id"`
	Status string            `json:"status"`
	Amount int64             `json:"amount"`
	Notes  map[string]string `json:"notes"`
}

// RefundEntity is the refund object embedded in webhook payloads.
type RefundEntity struct {
	ID        string            `json:"id"`
	PaymentID string            `json:"payment_id"`
	Amount    int64             `json:"amount"`
	Notes     map[string]string `json:"notes"`
}

// ParseWebhookPayload decodes a raw webhook body. A decode failure is
// treated by callers as a malformed delivery, not an internal error.
func ParseWebhookPayload(body []byte) (*WebhookPayload, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// OrderRef returns the embedded order reference for the event, trying the
// refund entity's notes first and falling back to the payment entity's.
func (p *WebhookPayload) OrderRef() string {
	if id, ok := p.Payload.Refund.Entity.Notes[NoteOrderID]; ok && id != "" {
		return id
	}
	return p.Payload.Payment.Entity.Notes[NoteOrderID]
}
