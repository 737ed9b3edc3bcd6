// Package broker talks to the connect-broker service that performs the
// OAuth-style handshake with the processor on this integration's behalf.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"razorpay-link-service/internal/models"
	"razorpay-link-service/internal/razorpay"
)

// Broker connect states reported in token responses.
const (
	StatusConnected = "connected"
	StatusFailed    = "failed"
)

// TokenResponse is the broker's answer to get-keys and refresh calls.
type TokenResponse struct {
	ConnectStatus string             `json:"razorpay_connect_status"`
	PublicToken   string             `json:"public_token"`
	AccessToken   string             `json:"access_token"`
	RefreshToken  string             `json:"refresh_token"`
	ExpiresIn     int64              `json:"expires_in"`
	MerchantID    string             `json:"merchant_id"`
	Error         *razorpay.APIError `json:"error,omitempty"`
}

// Revoked reports whether the broker says the grant is dead. A revoked or
// expired grant must clear credentials instead of retrying.
func (t *TokenResponse) Revoked() bool {
	if t.Error == nil {
		return false
	}
	desc := t.Error.Description
	return strings.Contains(desc, "revoked") || strings.Contains(desc, "expired")
}

type connectResponse struct {
	Error     string `json:"error"`
	ReturnURL string `json:"return_url"`
}

// Client calls the broker's form-encoded endpoints.
type Client struct {
	url        string
	gatewayID  string
	httpClient *http.Client
	log        *logrus.Entry
}

// NewClient creates a broker client. The broker is slow by nature (it
// proxies the processor's auth service), hence the generous timeout.
func NewClient(brokerURL, gatewayID string, logger *logrus.Logger) *Client {
	return &Client{
		url:        brokerURL,
		gatewayID:  gatewayID,
		httpClient: &http.Client{Timeout: 90 * time.Second},
		log:        logger.WithField("component", "broker.client"),
	}
}

// Connect initiates the handshake and returns the processor-hosted
// authorization URL the user-agent must be sent to.
func (c *Client) Connect(ctx context.Context, adminReturnURL string, mode models.Mode) (string, error) {
	form := url.Values{
		"admin_url":  {adminReturnURL},
		"action":     {"connect"},
		"gateway_id": {c.gatewayID},
		"mode":       {string(mode)},
	}

	var resp connectResponse
	if err := c.post(ctx, form, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("broker refused connect: %s", resp.Error)
	}
	if resp.ReturnURL == "" {
		return "", errors.New("broker returned no authorization URL")
	}
	return resp.ReturnURL, nil
}

// GetKeys exchanges the authorization code for a token set.
func (c *Client) GetKeys(ctx context.Context, code, state string) (*TokenResponse, error) {
	form := url.Values{
		"code":       {code},
		"state":      {state},
		"gateway_id": {c.gatewayID},
		"action":     {"get-keys"},
	}

	var resp TokenResponse
	if err := c.post(ctx, form, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Refresh exchanges the refresh token for a fresh token set.
func (c *Client) Refresh(ctx context.Context, refreshToken, merchantID string, mode models.Mode) (*TokenResponse, error) {
	form := url.Values{
		"refresh_token": {refreshToken},
		"merchant_id":   {merchantID},
		"mode":          {string(mode)},
		"action":        {"refresh-access-token"},
	}

	var resp TokenResponse
	if err := c.post(ctx, form, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call broker: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read broker response: %w", err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse broker response: %w", err)
	}
	return nil
}
