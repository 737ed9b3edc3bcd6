package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrOrderNotFound            = errors.New("order not found")
	ErrCredentialsNotConfigured = errors.New("payment credentials not configured")
	ErrAuthRevoked              = errors.New("access grant revoked or expired")
)

// OrderStatus represents the order lifecycle status
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderCompleted  OrderStatus = "completed"
	OrderCancelled  OrderStatus = "cancelled"
	OrderRefunded   OrderStatus = "refunded"
	OrderFailed     OrderStatus = "failed"
)

// NeedsPaymentStatuses are the statuses in which an order can still be paid.
// MarkPaid's conditional update is restricted to these, which is what makes
// the paid transition exactly-once under racing redirect/webhook signals.
var NeedsPaymentStatuses = []OrderStatus{OrderPending, OrderFailed}

// Metadata keys for the payment-link record stored on the order
const (
	MetaInvoiceID  = "razorpay_invoice_id"
	MetaPaymentURL = "razorpay_payment_url"
	MetaRefundIDs  = "razorpay_refund_ids"
)

// JSONB custom type for PostgreSQL
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// Order represents an order record owned by the order-management platform.
// This service only reads it and drives payment-related transitions.
type Order struct {
	ID            uuid.UUID   `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	OrderKey      string      `gorm:"type:varchar(64);not null;uniqueIndex:idx_orders_key" json:"orderKey"`
	Number        string      `gorm:"type:varchar(64)" json:"number"`
	Status        OrderStatus `gorm:"type:varchar(32);not null;index:idx_orders_status" json:"status"`
	Currency      string      `gorm:"type:varchar(3);default:'INR'" json:"currency"`
	Total         float64     `gorm:"type:decimal(12,2);not null" json:"total"`
	PaymentMethod string      `gorm:"type:varchar(64)" json:"paymentMethod"`

	// Customer contact forwarded to the processor with the payment link
	CustomerName  string `gorm:"type:varchar(255)" json:"customerName,omitempty"`
	CustomerEmail string `gorm:"type:varchar(255)" json:"customerEmail,omitempty"`
	CustomerPhone string `gorm:"type:varchar(32)" json:"customerPhone,omitempty"`

	// Authoritative payment identifier once paid
	TransactionID string     `gorm:"type:varchar(255);index:idx_orders_transaction" json:"transactionId,omitempty"`
	PaidAt        *time.Time `json:"paidAt,omitempty"`

	Metadata JSONB `gorm:"type:jsonb" json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`

	Notes   []OrderNote   `gorm:"foreignKey:OrderID" json:"notes,omitempty"`
	Refunds []OrderRefund `gorm:"foreignKey:OrderID" json:"refunds,omitempty"`
}

func (Order) TableName() string {
	return "orders"
}

// NeedsPayment reports whether the order can still be paid.
func (o *Order) NeedsPayment() bool {
	for _, s := range NeedsPaymentStatuses {
		if o.Status == s {
			return true
		}
	}
	return false
}

// PaymentURL returns the active hosted checkout URL, or "" if no
// non-cancelled link exists for this order.
func (o *Order) PaymentURL() string {
	return o.metaString(MetaPaymentURL)
}

// InvoiceID returns the processor-assigned id of the created link.
func (o *Order) InvoiceID() string {
	return o.metaString(MetaInvoiceID)
}

// RefundIDs returns the set of refund identifiers already applied.
func (o *Order) RefundIDs() []string {
	raw, ok := o.Metadata[MetaRefundIDs]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		// JSONB round-trips string slices as []interface{}
		ids := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				ids = append(ids, s)
			}
		}
		return ids
	}
	return nil
}

// HasRefundID reports whether the given refund id has already been applied.
func (o *Order) HasRefundID(id string) bool {
	for _, existing := range o.RefundIDs() {
		if existing == id {
			return true
		}
	}
	return false
}

func (o *Order) metaString(key string) string {
	if o.Metadata == nil {
		return ""
	}
	if v, ok := o.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// OrderNote is one entry of an order's append-only note log.
type OrderNote struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	OrderID   uuid.UUID `gorm:"type:uuid;not null;index:idx_order_notes_order" json:"orderId"`
	Message   string    `gorm:"type:text;not null" json:"message"`
	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
}

func (OrderNote) TableName() string {
	return "order_notes"
}

// OrderRefund records a refund applied against an order, either initiated
// from this service or registered from a processor webhook.
type OrderRefund struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	OrderID  uuid.UUID `gorm:"type:uuid;not null;index:idx_order_refunds_order" json:"orderId"`
	RefundID string    `gorm:"type:varchar(255);not null;index:idx_order_refunds_refund" json:"refundId"`
	Amount   float64   `gorm:"type:decimal(12,2);not null" json:"amount"`
	Reason   string    `gorm:"type:varchar(255)" json:"reason,omitempty"`
	// External refunds come from refund.created webhooks and must not
	// trigger another outbound refund call.
	External  bool      `gorm:"default:false" json:"external"`
	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
}

func (OrderRefund) TableName() string {
	return "order_refunds"
}
