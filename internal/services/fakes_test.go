package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"razorpay-link-service/internal/broker"
	"razorpay-link-service/internal/models"
	"razorpay-link-service/internal/razorpay"
	"razorpay-link-service/internal/repository"
)

// fakeOrderStore is an in-memory OrderStore with the same conditional-update
// semantics as the database-backed one.
type fakeOrderStore struct {
	mu      sync.Mutex
	orders  map[uuid.UUID]*models.Order
	notes   map[uuid.UUID][]string
	refunds []*models.OrderRefund
}

var _ repository.OrderStore = (*fakeOrderStore)(nil)

func newFakeOrderStore(orders ...*models.Order) *fakeOrderStore {
	s := &fakeOrderStore{
		orders: make(map[uuid.UUID]*models.Order),
		notes:  make(map[uuid.UUID][]string),
	}
	for _, o := range orders {
		if o.Metadata == nil {
			o.Metadata = models.JSONB{}
		}
		s.orders[o.ID] = o
	}
	return s
}

func (s *fakeOrderStore) get(orderID uuid.UUID) (*models.Order, error) {
	order, ok := s.orders[orderID]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	return order, nil
}

func (s *fakeOrderStore) GetByID(_ context.Context, orderID uuid.UUID) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, err := s.get(orderID)
	if err != nil {
		return nil, err
	}
	copied := *order
	return &copied, nil
}

func (s *fakeOrderStore) GetByKey(_ context.Context, orderKey string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, order := range s.orders {
		if order.OrderKey == orderKey {
			copied := *order
			return &copied, nil
		}
	}
	return nil, models.ErrOrderNotFound
}

func (s *fakeOrderStore) UpdateStatus(_ context.Context, orderID uuid.UUID, status models.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, err := s.get(orderID)
	if err != nil {
		return err
	}
	order.Status = status
	return nil
}

func (s *fakeOrderStore) MarkPaid(_ context.Context, orderID uuid.UUID, paymentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, err := s.get(orderID)
	if err != nil {
		return false, err
	}
	if !order.NeedsPayment() {
		return false, nil
	}
	now := time.Now()
	order.Status = models.OrderProcessing
	order.TransactionID = paymentID
	order.PaidAt = &now
	return true, nil
}

func (s *fakeOrderStore) SetLinkRecord(_ context.Context, orderID uuid.UUID, invoiceID, paymentURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, err := s.get(orderID)
	if err != nil {
		return err
	}
	order.Metadata[models.MetaInvoiceID] = invoiceID
	order.Metadata[models.MetaPaymentURL] = paymentURL
	return nil
}

func (s *fakeOrderStore) ClearPaymentURL(_ context.Context, orderID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, err := s.get(orderID)
	if err != nil {
		return err
	}
	delete(order.Metadata, models.MetaPaymentURL)
	return nil
}

func (s *fakeOrderStore) AppendRefundID(_ context.Context, orderID uuid.UUID, refundID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, err := s.get(orderID)
	if err != nil {
		return err
	}
	if order.HasRefundID(refundID) {
		return nil
	}
	order.Metadata[models.MetaRefundIDs] = append(order.RefundIDs(), refundID)
	return nil
}

func (s *fakeOrderStore) RecordRefund(ctx context.Context, refund *models.OrderRefund) error {
	s.mu.Lock()
	s.refunds = append(s.refunds, refund)
	s.mu.Unlock()
	return s.AppendRefundID(ctx, refund.OrderID, refund.RefundID)
}

func (s *fakeOrderStore) AddNote(_ context.Context, orderID uuid.UUID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.get(orderID); err != nil {
		return err
	}
	s.notes[orderID] = append(s.notes[orderID], message)
	return nil
}

// fakeCredentialStore is an in-memory CredentialStore.
type fakeCredentialStore struct {
	mu    sync.Mutex
	sets  map[models.Mode]*models.CredentialSet
	saves int
}

var _ repository.CredentialStore = (*fakeCredentialStore)(nil)

func newFakeCredentialStore(sets ...*models.CredentialSet) *fakeCredentialStore {
	s := &fakeCredentialStore{sets: make(map[models.Mode]*models.CredentialSet)}
	for _, c := range sets {
		s.sets[c.Mode] = c
	}
	return s
}

func (s *fakeCredentialStore) Get(_ context.Context, mode models.Mode) (*models.CredentialSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	creds, ok := s.sets[mode]
	if !ok {
		return nil, models.ErrCredentialsNotConfigured
	}
	copied := *creds
	return &copied, nil
}

func (s *fakeCredentialStore) Save(_ context.Context, creds *models.CredentialSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *creds
	s.sets[creds.Mode] = &copied
	s.saves++
	return nil
}

func (s *fakeCredentialStore) Clear(_ context.Context, mode models.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sets, mode)
	return nil
}

// mockGateway is a testify mock for the processor client.
type mockGateway struct {
	mock.Mock
	variant razorpay.APIVariant
}

var (
	_ GatewayAPI     = (*mockGateway)(nil)
	_ WebhookManager = (*mockGateway)(nil)
)

func (m *mockGateway) Variant() razorpay.APIVariant {
	if m.variant == "" {
		return razorpay.VariantStandard
	}
	return m.variant
}

func (m *mockGateway) CreateLink(ctx context.Context, req razorpay.LinkRequest) (*razorpay.LinkResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*razorpay.LinkResponse), args.Error(1)
}

func (m *mockGateway) CancelLink(ctx context.Context, linkID string) (*razorpay.LinkResponse, error) {
	args := m.Called(ctx, linkID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*razorpay.LinkResponse), args.Error(1)
}

func (m *mockGateway) FetchPayment(ctx context.Context, paymentID string) (*razorpay.Payment, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*razorpay.Payment), args.Error(1)
}

func (m *mockGateway) CreateRefund(ctx context.Context, paymentID string, req razorpay.RefundRequest) (*razorpay.Refund, error) {
	args := m.Called(ctx, paymentID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*razorpay.Refund), args.Error(1)
}

func (m *mockGateway) ListWebhooks(ctx context.Context) ([]razorpay.WebhookSubscription, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]razorpay.WebhookSubscription), args.Error(1)
}

func (m *mockGateway) CreateWebhook(ctx context.Context, sub razorpay.WebhookSubscription) (*razorpay.WebhookSubscription, error) {
	args := m.Called(ctx, sub)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*razorpay.WebhookSubscription), args.Error(1)
}

func (m *mockGateway) UpdateWebhook(ctx context.Context, id string, sub razorpay.WebhookSubscription) (*razorpay.WebhookSubscription, error) {
	args := m.Called(ctx, id, sub)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*razorpay.WebhookSubscription), args.Error(1)
}

// fakeBroker answers broker calls with injectable functions.
type fakeBroker struct {
	mu          sync.Mutex
	refreshFn   func(refreshToken, merchantID string, mode models.Mode) (*broker.TokenResponse, error)
	connectFn   func(adminReturnURL string, mode models.Mode) (string, error)
	getKeysFn   func(code, state string) (*broker.TokenResponse, error)
	refreshHits int
}

var (
	_ TokenRefresher = (*fakeBroker)(nil)
	_ ConnectBroker  = (*fakeBroker)(nil)
)

func (b *fakeBroker) Refresh(_ context.Context, refreshToken, merchantID string, mode models.Mode) (*broker.TokenResponse, error) {
	b.mu.Lock()
	b.refreshHits++
	b.mu.Unlock()
	return b.refreshFn(refreshToken, merchantID, mode)
}

func (b *fakeBroker) Connect(_ context.Context, adminReturnURL string, mode models.Mode) (string, error) {
	return b.connectFn(adminReturnURL, mode)
}

func (b *fakeBroker) GetKeys(_ context.Context, code, state string) (*broker.TokenResponse, error) {
	return b.getKeysFn(code, state)
}
