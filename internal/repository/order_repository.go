package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"razorpay-link-service/internal/models"
)

// OrderStore is the narrow view of the order platform this service needs.
// Tests substitute an in-memory implementation.
type OrderStore interface {
	GetByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	GetByKey(ctx context.Context, orderKey string) (*models.Order, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, status models.OrderStatus) error

	// MarkPaid transitions the order to processing and records the
	// transaction id iff the order still needs payment. Returns true only
	// for the single caller that actually performed the transition.
	MarkPaid(ctx context.Context, orderID uuid.UUID, paymentID string) (bool, error)

	SetLinkRecord(ctx context.Context, orderID uuid.UUID, invoiceID, paymentURL string) error
	ClearPaymentURL(ctx context.Context, orderID uuid.UUID) error
	AppendRefundID(ctx context.Context, orderID uuid.UUID, refundID string) error
	RecordRefund(ctx context.Context, refund *models.OrderRefund) error
	AddNote(ctx context.Context, orderID uuid.UUID, message string) error
}

// OrderRepository is the gorm-backed OrderStore.
type OrderRepository struct {
	db *gorm.DB
}

var _ OrderStore = (*OrderRepository)(nil)

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) GetByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).First(&order, "id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepository) GetByKey(ctx context.Context, orderKey string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Where("order_key = ?", orderKey).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID uuid.UUID, status models.OrderStatus) error {
	return r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now()}).Error
}

// MarkPaid is a conditional update on status: whichever of the racing
// redirect/webhook paths commits first wins, the other sees zero rows.
func (r *OrderRepository) MarkPaid(ctx context.Context, orderID uuid.UUID, paymentID string) (bool, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status IN ?", orderID, models.NeedsPaymentStatuses).
		Updates(map[string]interface{}{
			"status":         models.OrderProcessing,
			"transaction_id": paymentID,
			"paid_at":        now,
			"updated_at":     now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *OrderRepository) SetLinkRecord(ctx context.Context, orderID uuid.UUID, invoiceID, paymentURL string) error {
	return r.mutateMetadata(ctx, orderID, func(meta models.JSONB) {
		meta[models.MetaInvoiceID] = invoiceID
		meta[models.MetaPaymentURL] = paymentURL
	})
}

func (r *OrderRepository) ClearPaymentURL(ctx context.Context, orderID uuid.UUID) error {
	return r.mutateMetadata(ctx, orderID, func(meta models.JSONB) {
		delete(meta, models.MetaPaymentURL)
	})
}

func (r *OrderRepository) AppendRefundID(ctx context.Context, orderID uuid.UUID, refundID string) error {
	return r.mutateMetadata(ctx, orderID, func(meta models.JSONB) {
		order := models.Order{Metadata: meta}
		if order.HasRefundID(refundID) {
			return
		}
		meta[models.MetaRefundIDs] = append(order.RefundIDs(), refundID)
	})
}

// RecordRefund persists the refund row and appends its id to the order's
// applied set in one transaction.
func (r *OrderRepository) RecordRefund(ctx context.Context, refund *models.OrderRefund) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(refund).Error; err != nil {
			return err
		}
		repo := &OrderRepository{db: tx}
		return repo.AppendRefundID(ctx, refund.OrderID, refund.RefundID)
	})
}

func (r *OrderRepository) AddNote(ctx context.Context, orderID uuid.UUID, message string) error {
	note := &models.OrderNote{OrderID: orderID, Message: message}
	return r.db.WithContext(ctx).Create(note).Error
}

func (r *OrderRepository) mutateMetadata(ctx context.Context, orderID uuid.UUID, fn func(models.JSONB)) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&order, "id = ?", orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrOrderNotFound
			}
			return err
		}
		if order.Metadata == nil {
			order.Metadata = models.JSONB{}
		}
		fn(order.Metadata)
		return tx.Model(&models.Order{}).Where("id = ?", orderID).
			Updates(map[string]interface{}{"metadata": order.Metadata, "updated_at": time.Now()}).Error
	})
}
