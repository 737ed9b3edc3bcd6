package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"razorpay-link-service/internal/models"
	"razorpay-link-service/internal/razorpay"
)

func TestSyncCreatesSubscriptionWhenNoneExists(t *testing.T) {
	gateway := &mockGateway{}
	svc := NewWebhookSetupService(gateway, testSettings(), "https://pay.example.com", quietLogger())

	gateway.On("ListWebhooks", mock.Anything).Return([]razorpay.WebhookSubscription{
		{ID: "wh_other", URL: "https://other.example.com/hook", Active: true},
	}, nil)
	gateway.On("CreateWebhook", mock.Anything, mock.MatchedBy(func(sub razorpay.WebhookSubscription) bool {
		return sub.URL == "https://pay.example.com/webhooks/razorpay" &&
			sub.Events[models.WebhookPaymentAuthorized] &&
			sub.Events[models.WebhookRefundCreated] &&
			sub.Secret == testWebhookSecret
	})).Return(&razorpay.WebhookSubscription{ID: "wh_new", URL: "https://pay.example.com/webhooks/razorpay", Active: true}, nil)

	sub, err := svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wh_new", sub.ID)
	gateway.AssertNotCalled(t, "UpdateWebhook", mock.Anything, mock.Anything, mock.Anything)
}

func TestSyncUpdatesExistingSubscriptionInPlace(t *testing.T) {
	gateway := &mockGateway{}
	svc := NewWebhookSetupService(gateway, testSettings(), "https://pay.example.com/", quietLogger())

	gateway.On("ListWebhooks", mock.Anything).Return([]razorpay.WebhookSubscription{
		{ID: "wh_old", URL: "https://pay.example.com/webhooks/razorpay", Active: false},
	}, nil)
	gateway.On("UpdateWebhook", mock.Anything, "wh_old", mock.MatchedBy(func(sub razorpay.WebhookSubscription) bool {
		return sub.Active && sub.Events[models.WebhookPaymentAuthorized]
	})).Return(&razorpay.WebhookSubscription{ID: "wh_old", URL: "https://pay.example.com/webhooks/razorpay", Active: true}, nil)

	sub, err := svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wh_old", sub.ID)
	gateway.AssertNotCalled(t, "CreateWebhook", mock.Anything, mock.Anything)
}
