// Package events carries payment-lifecycle signals out of the services
// layer, both to in-process listeners and to the message bus.
package events

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Event names emitted by the reconciliation engine and connect flow.
const (
	EventLinkCreated         = "payment.link.created"
	EventLinkCancelled       = "payment.link.cancelled"
	EventOrderPaid           = "payment.order.paid"
	EventOrderRefunded       = "payment.order.refunded"
	EventOrderStatusChanged  = "payment.order.status_changed"
	EventAccountConnected    = "payment.account.connected"
	EventAccountDisconnected = "payment.account.disconnected"
)

// Payload is the loose bag of event attributes. Keys are event-specific.
type Payload map[string]interface{}

// Handler consumes one dispatched event. Handler errors are logged and do
// not stop delivery to other handlers.
type Handler func(ctx context.Context, event string, payload Payload) error

// Dispatcher fans events out to named in-process handlers, registered at
// startup. Dispatch is synchronous so callers observe handler side effects
// before responding.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	log      *logrus.Entry
}

type namedHandler struct {
	name string
	fn   Handler
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string][]namedHandler),
		log:      logger.WithField("component", "events.dispatcher"),
	}
}

// Register attaches a named handler to an event. Registration order is
// delivery order.
func (d *Dispatcher) Register(event, name string, fn Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[event] = append(d.handlers[event], namedHandler{name: name, fn: fn})
}

// Dispatch delivers the event to every registered handler.
func (d *Dispatcher) Dispatch(ctx context.Context, event string, payload Payload) {
	d.mu.RLock()
	handlers := d.handlers[event]
	d.mu.RUnlock()

	for _, h := range handlers {
		if err := h.fn(ctx, event, payload); err != nil {
			d.log.WithFields(logrus.Fields{
				"event":   event,
				"handler": h.name,
			}).WithError(err).Error("event handler failed")
		}
	}
}
