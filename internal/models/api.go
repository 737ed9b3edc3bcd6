package models

// ErrorResponse is the uniform error body returned by HTTP handlers.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RefundRequest is the admin request to refund an order's payment.
type RefundRequest struct {
	// Amount in major currency units; omitted means full refund.
	Amount *float64 `json:"amount,omitempty"`
	Reason string   `json:"reason,omitempty"`
}
