package services

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"razorpay-link-service/internal/config"
	"razorpay-link-service/internal/models"
	"razorpay-link-service/internal/razorpay"
)

// WebhookManager is the slice of the processor client that manages webhook
// subscriptions.
type WebhookManager interface {
	ListWebhooks(ctx context.Context) ([]razorpay.WebhookSubscription, error)
	CreateWebhook(ctx context.Context, sub razorpay.WebhookSubscription) (*razorpay.WebhookSubscription, error)
	UpdateWebhook(ctx context.Context, id string, sub razorpay.WebhookSubscription) (*razorpay.WebhookSubscription, error)
}

// WebhookSetupService registers this service's webhook endpoint with the
// processor. Setup is idempotent: an existing subscription for our URL is
// updated in place rather than duplicated.
type WebhookSetupService struct {
	gateway  WebhookManager
	settings config.GatewaySettings
	baseURL  string
	log      *logrus.Entry
}

// NewWebhookSetupService creates a new webhook setup service
func NewWebhookSetupService(gateway WebhookManager, settings config.GatewaySettings, publicBaseURL string, logger *logrus.Logger) *WebhookSetupService {
	return &WebhookSetupService{
		gateway:  gateway,
		settings: settings,
		baseURL:  strings.TrimRight(publicBaseURL, "/"),
		log:      logger.WithField("component", "webhook.setup"),
	}
}

// EndpointURL is the webhook delivery URL registered with the processor.
func (s *WebhookSetupService) EndpointURL() string {
	return s.baseURL + "/webhooks/razorpay"
}

// Sync ensures a subscription exists for our endpoint covering exactly the
// events this service consumes.
func (s *WebhookSetupService) Sync(ctx context.Context) (*razorpay.WebhookSubscription, error) {
	desired := razorpay.WebhookSubscription{
		URL:    s.EndpointURL(),
		Active: s.settings.WebhookEnabled,
		Events: map[string]bool{
			models.WebhookPaymentAuthorized: true,
			models.WebhookRefundCreated:     true,
		},
		Secret: s.settings.WebhookSecret,
	}

	existing, err := s.gateway.ListWebhooks(ctx)
	if err != nil {
		return nil, err
	}
	for _, sub := range existing {
		if sub.URL != desired.URL {
			continue
		}
		updated, err := s.gateway.UpdateWebhook(ctx, sub.ID, desired)
		if err != nil {
			return nil, err
		}
		s.log.WithField("webhookId", sub.ID).Info("webhook subscription updated")
		return updated, nil
	}

	created, err := s.gateway.CreateWebhook(ctx, desired)
	if err != nil {
		return nil, err
	}
	s.log.WithField("webhookId", created.ID).Info("webhook subscription created")
	return created, nil
}
