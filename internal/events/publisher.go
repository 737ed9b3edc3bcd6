package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Publisher relays dispatched events onto the message bus so downstream
// services (fulfilment, notifications) can react. Publishing is best-effort;
// a bus outage never fails a payment operation.
type Publisher struct {
	conn *nats.Conn
	log  *logrus.Entry
}

// NewPublisher connects to the bus at natsURL.
func NewPublisher(natsURL string, logger *logrus.Logger) (*Publisher, error) {
	conn, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Publisher{
		conn: conn,
		log:  logger.WithField("component", "events.publisher"),
	}, nil
}

// Handle is an events.Handler that mirrors the event onto the bus. The
// event name doubles as the subject.
func (p *Publisher) Handle(_ context.Context, event string, payload Payload) error {
	body, err := json.Marshal(map[string]interface{}{
		"event":     event,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data":      payload,
	})
	if err != nil {
		return err
	}
	if err := p.conn.Publish(event, body); err != nil {
		p.log.WithField("event", event).WithError(err).Warn("failed to publish event")
		return err
	}
	return nil
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
