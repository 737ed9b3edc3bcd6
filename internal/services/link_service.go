package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"razorpay-link-service/internal/config"
	"razorpay-link-service/internal/events"
	"razorpay-link-service/internal/models"
	"razorpay-link-service/internal/razorpay"
	"razorpay-link-service/internal/repository"
	"razorpay-link-service/internal/signature"
)

// The processor rejects references longer than this.
const maxReferenceLen = 40

// Divisor for passing processor fees on to the customer: the grossed-up
// amount nets out to the order total after a 2.36% fee.
var feeGrossUpDivisor = decimal.RequireFromString("97.64")

// GatewayAPI is the slice of the processor client the engine needs. Tests
// substitute a mock.
type GatewayAPI interface {
	Variant() razorpay.APIVariant
	CreateLink(ctx context.Context, req razorpay.LinkRequest) (*razorpay.LinkResponse, error)
	CancelLink(ctx context.Context, linkID string) (*razorpay.LinkResponse, error)
	FetchPayment(ctx context.Context, paymentID string) (*razorpay.Payment, error)
	CreateRefund(ctx context.Context, paymentID string, req razorpay.RefundRequest) (*razorpay.Refund, error)
}

// LinkService reconciles order state against the processor: it creates and
// cancels hosted payment links and folds redirect callbacks, webhooks and
// refunds back into orders. Crediting an order is exactly-once no matter
// how many signals arrive.
type LinkService struct {
	orders     repository.OrderStore
	creds      repository.CredentialStore
	gateway    GatewayAPI
	dispatcher *events.Dispatcher
	settings   config.GatewaySettings
	baseURL    string
	mode       models.Mode
	log        *logrus.Entry
	now        func() time.Time
}

// NewLinkService creates a new link service
func NewLinkService(
	orders repository.OrderStore,
	creds repository.CredentialStore,
	gateway GatewayAPI,
	dispatcher *events.Dispatcher,
	settings config.GatewaySettings,
	publicBaseURL string,
	logger *logrus.Logger,
) *LinkService {
	mode := models.ModeLive
	if settings.TestMode {
		mode = models.ModeTest
	}
	return &LinkService{
		orders:     orders,
		creds:      creds,
		gateway:    gateway,
		dispatcher: dispatcher,
		settings:   settings,
		baseURL:    strings.TrimRight(publicBaseURL, "/"),
		mode:       mode,
		log:        logger.WithField("component", "link.service"),
		now:        time.Now,
	}
}

// CreateLink creates a hosted payment link for the order, or returns the
// existing one. An order with a live link never triggers a second outbound
// call.
func (s *LinkService) CreateLink(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.NeedsPayment() {
		return nil, fmt.Errorf("order %s is %s and cannot be paid", order.Number, order.Status)
	}
	if order.PaymentURL() != "" {
		return order, nil
	}

	req := razorpay.LinkRequest{
		Amount:      s.linkAmount(order),
		Currency:    order.Currency,
		Description: "Order #" + order.Number,
		Reference:   truncateReference(order.Number),
		Customer: razorpay.Customer{
			Name:    order.CustomerName,
			Email:   order.CustomerEmail,
			Contact: scrubPhone(order.CustomerPhone),
		},
		Notes:          map[string]string{models.NoteOrderID: order.ID.String()},
		ReminderEnable: s.settings.Reminder,
		NotifySMS:      s.settings.SMSNotification,
		NotifyEmail:    s.settings.EmailNotification,
		CallbackURL:    s.callbackURL(order),
	}
	if s.settings.LinkExpireMinutes > 0 {
		req.ExpireBy = s.now().Add(time.Duration(s.settings.LinkExpireMinutes) * time.Minute).Unix()
	}

	resp, err := s.gateway.CreateLink(ctx, req)
	if err != nil {
		s.noteGatewayError(ctx, order.ID, "payment link creation failed", err)
		return nil, err
	}
	if resp.Status != s.gateway.Variant().IssuedStatus() {
		err := fmt.Errorf("link created in unexpected status %q", resp.Status)
		s.noteGatewayError(ctx, order.ID, "payment link creation failed", err)
		return nil, err
	}

	if err := s.orders.SetLinkRecord(ctx, order.ID, resp.ID, resp.ShortURL); err != nil {
		return nil, err
	}
	s.addNote(ctx, order.ID, fmt.Sprintf("Payment link created: %s (id: %s)", resp.ShortURL, resp.ID))
	s.dispatcher.Dispatch(ctx, events.EventLinkCreated, events.Payload{
		"orderId":  order.ID.String(),
		"linkId":   resp.ID,
		"shortUrl": resp.ShortURL,
		"amount":   resp.Amount,
	})

	return s.orders.GetByID(ctx, order.ID)
}

// CaptureResult is the outcome of folding a payment signal into an order.
type CaptureResult struct {
	Order *models.Order
	// Paid is true when the order is paid after this signal, whether this
	// call performed the transition or an earlier signal already had.
	Paid bool
}

// CaptureFromRedirect processes the processor's redirect callback. The
// callback is advisory only: the payment state is always re-fetched from
// the processor before any order transition.
func (s *LinkService) CaptureFromRedirect(ctx context.Context, orderID uuid.UUID, query url.Values) (*CaptureResult, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.NeedsPayment() {
		return &CaptureResult{Order: order, Paid: order.PaidAt != nil}, nil
	}

	paramPaymentID, paramLinkID, paramReference, paramStatus, paramSig := s.gateway.Variant().CallbackParams()
	paymentID := query.Get(paramPaymentID)
	if paymentID == "" {
		s.addNote(ctx, order.ID, "Customer returned from checkout without completing payment.")
		return &CaptureResult{Order: order, Paid: false}, nil
	}

	if !s.verifyCallbackSignature(ctx, query, paymentID, paramLinkID, paramReference, paramStatus, paramSig) {
		s.addNote(ctx, order.ID, "Payment callback signature verification failed. Payment id: "+paymentID)
		return &CaptureResult{Order: order, Paid: false}, nil
	}

	return s.creditFromPayment(ctx, order, paymentID)
}

// creditFromPayment fetches the authoritative payment state and performs
// the paid transition when warranted.
func (s *LinkService) creditFromPayment(ctx context.Context, order *models.Order, paymentID string) (*CaptureResult, error) {
	payment, err := s.gateway.FetchPayment(ctx, paymentID)
	if err != nil {
		s.noteGatewayError(ctx, order.ID, "payment lookup failed", err)
		return &CaptureResult{Order: order, Paid: false}, nil
	}

	if ref := payment.Notes[models.NoteOrderID]; ref != "" && ref != order.ID.String() {
		s.addNote(ctx, order.ID, fmt.Sprintf("Payment %s belongs to a different order (%s), ignoring.", paymentID, ref))
		return &CaptureResult{Order: order, Paid: false}, nil
	}
	if payment.Amount != s.linkAmount(order) {
		s.addNote(ctx, order.ID, fmt.Sprintf("Payment %s amount %d does not match expected %d, ignoring.",
			paymentID, payment.Amount, s.linkAmount(order)))
		return &CaptureResult{Order: order, Paid: false}, nil
	}
	if !payment.Authorized() {
		s.addNote(ctx, order.ID, fmt.Sprintf("Payment %s is %s, order left unpaid.", paymentID, payment.Status))
		return &CaptureResult{Order: order, Paid: false}, nil
	}

	won, err := s.orders.MarkPaid(ctx, order.ID, paymentID)
	if err != nil {
		return nil, err
	}
	if won {
		s.addNote(ctx, order.ID, "Payment successful. Payment id: "+paymentID)
		if err := s.orders.ClearPaymentURL(ctx, order.ID); err != nil {
			s.log.WithField("orderId", order.ID).WithError(err).Warn("failed to clear payment URL")
		}
		s.dispatcher.Dispatch(ctx, events.EventOrderPaid, events.Payload{
			"orderId":   order.ID.String(),
			"paymentId": paymentID,
			"amount":    payment.Amount,
			"currency":  payment.Currency,
		})
	}

	order, err = s.orders.GetByID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return &CaptureResult{Order: order, Paid: true}, nil
}

// verifyCallbackSignature checks the redirect signature when a key secret
// is on file. Connected accounts have no shared secret, so the fetch-back
// of authoritative payment state is the only defense there.
func (s *LinkService) verifyCallbackSignature(ctx context.Context, query url.Values, paymentID, paramLinkID, paramReference, paramStatus, paramSig string) bool {
	creds, err := s.creds.Get(ctx, s.mode)
	if err != nil || creds.KeySecret == "" {
		return true
	}
	provided := query.Get(paramSig)
	if provided == "" {
		return false
	}

	var fields []string
	if s.gateway.Variant() == razorpay.VariantStandard {
		fields = []string{
			query.Get(paramLinkID),
			query.Get(paramReference),
			query.Get(paramStatus),
			paymentID,
		}
	} else {
		fields = []string{query.Get(paramLinkID), paymentID}
	}
	// Every signed field must be present; a partial callback is rejected
	// outright instead of verified over empty strings.
	for _, field := range fields {
		if field == "" {
			return false
		}
	}
	return signature.VerifyCallback(fields, creds.KeySecret, provided)
}

// ProcessWebhook folds a webhook delivery into order state. Errors are
// logged, not returned: the handler acknowledges every delivery so the
// processor does not disable the endpoint.
func (s *LinkService) ProcessWebhook(ctx context.Context, body []byte, sigHeader string) {
	if !s.settings.WebhookEnabled {
		return
	}
	if !signature.VerifyWebhook(body, s.settings.WebhookSecret, sigHeader) {
		s.log.Warn("webhook signature verification failed, delivery dropped")
		return
	}

	payload, err := models.ParseWebhookPayload(body)
	if err != nil {
		s.log.WithError(err).Warn("malformed webhook payload")
		return
	}

	switch payload.Event {
	case models.WebhookPaymentAuthorized:
		s.webhookPaymentAuthorized(ctx, payload)
	case models.WebhookRefundCreated:
		s.webhookRefundCreated(ctx, payload)
	default:
		// Subscribed events only; anything else is acknowledged unseen.
	}
}

func (s *LinkService) webhookPaymentAuthorized(ctx context.Context, payload *models.WebhookPayload) {
	order, err := s.orderFromRef(ctx, payload.OrderRef())
	if err != nil {
		s.log.WithField("ref", payload.OrderRef()).WithError(err).Warn("webhook references unknown order")
		return
	}
	if !order.NeedsPayment() {
		return
	}
	if _, err := s.creditFromPayment(ctx, order, payload.Payload.Payment.Entity.ID); err != nil {
		s.log.WithField("orderId", order.ID).WithError(err).Error("webhook crediting failed")
	}
}

func (s *LinkService) webhookRefundCreated(ctx context.Context, payload *models.WebhookPayload) {
	refund := payload.Payload.Refund.Entity
	order, err := s.orderFromRef(ctx, payload.OrderRef())
	if err != nil {
		s.log.WithField("ref", payload.OrderRef()).WithError(err).Warn("refund webhook references unknown order")
		return
	}
	// A fully refunded order accepts no further refund deliveries, even
	// ones carrying an unseen refund id.
	if order.Status == models.OrderRefunded || order.HasRefundID(refund.ID) {
		return
	}

	amount := minorToMajor(refund.Amount)
	if err := s.orders.RecordRefund(ctx, &models.OrderRefund{
		OrderID:  order.ID,
		RefundID: refund.ID,
		Amount:   amount,
		Reason:   "Refunded at the processor dashboard",
		External: true,
	}); err != nil {
		s.log.WithField("orderId", order.ID).WithError(err).Error("failed to record external refund")
		return
	}
	s.addNote(ctx, order.ID, fmt.Sprintf("Refund of %.2f %s registered from webhook. Refund id: %s",
		amount, order.Currency, refund.ID))
	s.finishRefund(ctx, order, refund.ID, amount)
}

// HandleOrderStatusChange reacts to an order leaving the payable statuses,
// including a transition to processing through some other payment method:
// its open payment link, if any, is cancelled so the hosted page cannot
// collect a second payment. Orders paid through this service have their
// link record cleared before the status event fires, so this is a no-op
// for them.
func (s *LinkService) HandleOrderStatusChange(ctx context.Context, orderID string, status models.OrderStatus) error {
	switch status {
	case models.OrderProcessing, models.OrderCompleted, models.OrderCancelled, models.OrderRefunded:
	default:
		return nil
	}
	id, err := uuid.Parse(orderID)
	if err != nil {
		return nil
	}
	return s.CancelLink(ctx, id)
}

// CancelLink cancels the order's live payment link, if any. An order with
// no live link is a no-op and never calls out.
func (s *LinkService) CancelLink(ctx context.Context, orderID uuid.UUID) error {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.PaymentURL() == "" || order.InvoiceID() == "" {
		return nil
	}

	if _, err := s.gateway.CancelLink(ctx, order.InvoiceID()); err != nil {
		// Link record kept so a retry can still find it.
		s.noteGatewayError(ctx, order.ID, "payment link cancellation failed", err)
		return err
	}

	if err := s.orders.ClearPaymentURL(ctx, order.ID); err != nil {
		return err
	}
	s.addNote(ctx, order.ID, "Payment link cancelled: "+order.InvoiceID())
	s.dispatcher.Dispatch(ctx, events.EventLinkCancelled, events.Payload{
		"orderId": order.ID.String(),
		"linkId":  order.InvoiceID(),
	})
	return nil
}

// InitiateRefund refunds the order's captured payment. A nil amount means
// a full refund. The refund id is recorded before anything else reads it,
// so a racing refund.created webhook is recognized as already applied.
func (s *LinkService) InitiateRefund(ctx context.Context, orderID uuid.UUID, amount *float64, reason string) (*razorpay.Refund, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.TransactionID == "" {
		return nil, errors.New("order has no captured payment to refund")
	}

	req := razorpay.RefundRequest{
		Speed: "normal",
		Notes: map[string]string{models.NoteOrderID: order.ID.String()},
	}
	if s.settings.InstantRefund {
		req.Speed = "optimum"
	}
	if reason != "" {
		req.Notes["comment"] = reason
	}
	refundTotal := order.Total
	if amount != nil {
		refundTotal = *amount
		minor := majorToMinor(*amount)
		req.Amount = &minor
	}

	refund, err := s.gateway.CreateRefund(ctx, order.TransactionID, req)
	if err != nil {
		s.noteGatewayError(ctx, order.ID, "refund failed", err)
		return nil, err
	}

	if err := s.orders.RecordRefund(ctx, &models.OrderRefund{
		OrderID:  order.ID,
		RefundID: refund.ID,
		Amount:   refundTotal,
		Reason:   reason,
	}); err != nil {
		return nil, err
	}
	if err := s.orders.ClearPaymentURL(ctx, order.ID); err != nil {
		s.log.WithField("orderId", order.ID).WithError(err).Warn("failed to clear payment URL")
	}
	s.addNote(ctx, order.ID, fmt.Sprintf("Refund of %.2f %s initiated. Refund id: %s",
		refundTotal, order.Currency, refund.ID))
	s.finishRefund(ctx, order, refund.ID, refundTotal)
	return refund, nil
}

// finishRefund moves a fully refunded order to refunded and emits the
// refund event.
func (s *LinkService) finishRefund(ctx context.Context, order *models.Order, refundID string, amount float64) {
	if amount >= order.Total {
		if err := s.orders.UpdateStatus(ctx, order.ID, models.OrderRefunded); err != nil {
			s.log.WithField("orderId", order.ID).WithError(err).Error("failed to mark order refunded")
		}
	}
	s.dispatcher.Dispatch(ctx, events.EventOrderRefunded, events.Payload{
		"orderId":  order.ID.String(),
		"refundId": refundID,
		"amount":   amount,
		"currency": order.Currency,
	})
}

// orderFromRef resolves a webhook note reference, which carries the order
// id for links created here but may be an order key for older records.
func (s *LinkService) orderFromRef(ctx context.Context, ref string) (*models.Order, error) {
	if ref == "" {
		return nil, models.ErrOrderNotFound
	}
	if id, err := uuid.Parse(ref); err == nil {
		return s.orders.GetByID(ctx, id)
	}
	return s.orders.GetByKey(ctx, ref)
}

// linkAmount is the minor-unit amount charged for the order, grossed up
// when the merchant passes processor fees on to the customer.
func (s *LinkService) linkAmount(order *models.Order) int64 {
	minor := majorToMinor(order.Total)
	if !s.settings.CollectGatewayFee {
		return minor
	}
	return decimal.NewFromInt(minor).
		Div(feeGrossUpDivisor).
		Mul(decimal.NewFromInt(100)).
		IntPart()
}

func (s *LinkService) callbackURL(order *models.Order) string {
	return fmt.Sprintf("%s/api/v1/callback/payment?order_id=%s&order_key=%s",
		s.baseURL, order.ID.String(), url.QueryEscape(order.OrderKey))
}

func (s *LinkService) noteGatewayError(ctx context.Context, orderID uuid.UUID, prefix string, err error) {
	var apiErr *razorpay.APIError
	if errors.As(err, &apiErr) {
		// Processor code and description are preserved verbatim.
		s.addNote(ctx, orderID, fmt.Sprintf("%s: %s", prefix, apiErr.Error()))
		return
	}
	s.addNote(ctx, orderID, prefix+": "+err.Error())
}

func (s *LinkService) addNote(ctx context.Context, orderID uuid.UUID, message string) {
	if err := s.orders.AddNote(ctx, orderID, message); err != nil {
		s.log.WithField("orderId", orderID).WithError(err).Warn("failed to add order note")
	}
}

// majorToMinor converts a major-unit amount to minor units exactly.
func majorToMinor(amount float64) int64 {
	return decimal.NewFromFloat(amount).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func minorToMajor(amount int64) float64 {
	f, _ := decimal.NewFromInt(amount).Div(decimal.NewFromInt(100)).Float64()
	return f
}

// truncateReference fits the order number into the processor's reference
// field limit.
func truncateReference(ref string) string {
	if len(ref) <= maxReferenceLen {
		return ref
	}
	return ref[:maxReferenceLen]
}

// scrubPhone strips formatting from a contact number, keeping digits and a
// leading plus.
func scrubPhone(phone string) string {
	var b strings.Builder
	for i, r := range phone {
		if r >= '0' && r <= '9' || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
