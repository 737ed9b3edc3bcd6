package events

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Subject the order platform publishes status transitions on.
const orderStatusSubject = "orders.status.changed"

type orderStatusMessage struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

// OrderStatusSubscriber listens for order status transitions from the
// order platform and re-dispatches them in-process, where the link
// lifecycle reacts (an order that stops being payable loses its link).
type OrderStatusSubscriber struct {
	conn       *nats.Conn
	dispatcher *Dispatcher
	sub        *nats.Subscription
	log        *logrus.Entry
}

// NewOrderStatusSubscriber connects to the bus at natsURL.
func NewOrderStatusSubscriber(natsURL string, dispatcher *Dispatcher, logger *logrus.Logger) (*OrderStatusSubscriber, error) {
	conn, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}
	return &OrderStatusSubscriber{
		conn:       conn,
		dispatcher: dispatcher,
		log:        logger.WithField("component", "events.subscriber"),
	}, nil
}

// Start subscribes and begins relaying messages until Stop.
func (s *OrderStatusSubscriber) Start(ctx context.Context) error {
	sub, err := s.conn.Subscribe(orderStatusSubject, func(msg *nats.Msg) {
		var m orderStatusMessage
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			s.log.WithError(err).Warn("malformed order status message")
			return
		}
		s.dispatcher.Dispatch(ctx, EventOrderStatusChanged, Payload{
			"orderId": m.OrderID,
			"status":  m.Status,
		})
	})
	if err != nil {
		return err
	}
	s.sub = sub
	s.log.Info("subscribed to order status changes")
	return nil
}

// Stop unsubscribes and closes the connection.
func (s *OrderStatusSubscriber) Stop() {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	if s.conn != nil {
		s.conn.Close()
	}
}
