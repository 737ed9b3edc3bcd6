package services

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"razorpay-link-service/internal/broker"
	"razorpay-link-service/internal/cache"
	"razorpay-link-service/internal/config"
	"razorpay-link-service/internal/events"
	"razorpay-link-service/internal/models"
	"razorpay-link-service/internal/repository"
)

// State nonces outlive the user's trip through the processor's consent
// screens by a comfortable margin.
const connectStateTTL = time.Hour

// ConnectBroker is the slice of the broker client the connect flow needs.
type ConnectBroker interface {
	Connect(ctx context.Context, adminReturnURL string, mode models.Mode) (string, error)
	GetKeys(ctx context.Context, code, state string) (*broker.TokenResponse, error)
}

// ConnectService drives the connect/disconnect handshake with the broker.
// The state nonce issued during connect is the only thing that ties the
// return leg back to a mode, so it is stored server-side with a TTL.
type ConnectService struct {
	creds      repository.CredentialStore
	broker     ConnectBroker
	states     cache.StateStore
	locker     cache.Locker
	tokens     *TokenService
	dispatcher *events.Dispatcher
	settings   config.BrokerSettings
	log        *logrus.Entry
	now        func() time.Time
}

// NewConnectService creates a new connect service
func NewConnectService(
	creds repository.CredentialStore,
	connectBroker ConnectBroker,
	states cache.StateStore,
	locker cache.Locker,
	tokens *TokenService,
	dispatcher *events.Dispatcher,
	settings config.BrokerSettings,
	logger *logrus.Logger,
) *ConnectService {
	return &ConnectService{
		creds:      creds,
		broker:     connectBroker,
		states:     states,
		locker:     locker,
		tokens:     tokens,
		dispatcher: dispatcher,
		settings:   settings,
		log:        logger.WithField("component", "connect.service"),
		now:        time.Now,
	}
}

// Connect starts a handshake for mode and returns the processor-hosted
// authorization URL. Any existing credentials for the mode are destroyed
// first; a half-finished handshake must never leave stale tokens behind.
func (s *ConnectService) Connect(ctx context.Context, mode models.Mode, returnURL, callbackURL string) (string, error) {
	if err := s.creds.Clear(ctx, mode); err != nil {
		return "", fmt.Errorf("failed to clear existing credentials: %w", err)
	}
	s.tokens.CancelRefresh(mode)

	authURL, err := s.broker.Connect(ctx, returnURL, mode)
	if err != nil {
		return "", err
	}

	parsed, err := url.Parse(authURL)
	if err != nil {
		return "", fmt.Errorf("broker returned unparseable authorization URL: %w", err)
	}
	// Only the processor's own auth host may receive the user-agent.
	if parsed.Host != s.settings.AuthHost {
		return "", fmt.Errorf("authorization URL host %q is not %q", parsed.Host, s.settings.AuthHost)
	}

	state := parsed.Query().Get("state")
	if state == "" {
		return "", fmt.Errorf("authorization URL carries no state")
	}
	if err := s.states.Put(ctx, state, string(mode), connectStateTTL); err != nil {
		return "", fmt.Errorf("failed to store handshake state: %w", err)
	}

	query := parsed.Query()
	query.Set("redirect_uri", callbackURL)
	parsed.RawQuery = query.Encode()

	s.log.WithField("mode", mode).Info("connect handshake started")
	return parsed.String(), nil
}

// ReturnOutcome is the result of the handshake's return leg, rendered by
// the handler as a redirect back to the settings screen.
type ReturnOutcome struct {
	Success bool
	Mode    models.Mode
}

// HandleReturn completes the handshake when the user-agent comes back from
// the consent screens. A failed or tampered return clears exactly the mode
// the state was issued for; an unknown state mutates nothing.
func (s *ConnectService) HandleReturn(ctx context.Context, state, code, status string) (*ReturnOutcome, error) {
	if state == "" {
		return &ReturnOutcome{Success: false}, nil
	}

	modeStr, err := s.states.Get(ctx, state)
	if err != nil {
		s.log.WithError(err).Warn("return leg with unknown or expired state")
		return &ReturnOutcome{Success: false}, nil
	}
	mode := models.ParseMode(modeStr)

	if code == "" || status == broker.StatusFailed {
		s.log.WithField("mode", mode).Warn("handshake failed at consent, clearing credentials")
		if err := s.creds.Clear(ctx, mode); err != nil {
			return nil, err
		}
		return &ReturnOutcome{Success: false, Mode: mode}, nil
	}

	resp, err := s.broker.GetKeys(ctx, code, state)
	if err != nil {
		// Transport failure: keep everything as-is so a retry can succeed.
		s.log.WithField("mode", mode).WithError(err).Error("key exchange failed")
		return &ReturnOutcome{Success: false, Mode: mode}, nil
	}
	if resp.ConnectStatus != broker.StatusConnected || resp.AccessToken == "" {
		s.log.WithField("mode", mode).Warn("broker rejected key exchange, clearing credentials")
		if err := s.creds.Clear(ctx, mode); err != nil {
			return nil, err
		}
		return &ReturnOutcome{Success: false, Mode: mode}, nil
	}

	// The fresh token set needs no refresh for a while; the cooldown lock
	// stops an eager scheduled refresh racing the save.
	if _, err := s.locker.TryLock(ctx, refreshLockKey(mode), refreshCooldown); err != nil {
		s.log.WithField("mode", mode).WithError(err).Warn("failed to set refresh cooldown")
	}

	now := s.now()
	creds := &models.CredentialSet{
		Mode:         mode,
		KeyID:        resp.PublicToken,
		PublicToken:  resp.PublicToken,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(resp.ExpiresIn)*time.Second - tokenExpirySlack).Unix(),
		MerchantID:   resp.MerchantID,
		ConnectedAt:  &now,
	}
	if err := s.creds.Save(ctx, creds); err != nil {
		return nil, err
	}
	s.tokens.scheduleAt(mode, s.tokens.nextTarget(creds.ExpiresAt))

	s.log.WithFields(logrus.Fields{
		"mode":       mode,
		"merchantId": creds.MerchantID,
	}).Info("account connected")
	s.dispatcher.Dispatch(ctx, events.EventAccountConnected, events.Payload{
		"mode":       string(mode),
		"merchantId": creds.MerchantID,
	})
	return &ReturnOutcome{Success: true, Mode: mode}, nil
}

// Disconnect destroys the credentials for mode and stops its renewals.
func (s *ConnectService) Disconnect(ctx context.Context, mode models.Mode) error {
	s.tokens.CancelRefresh(mode)
	if err := s.creds.Clear(ctx, mode); err != nil {
		return err
	}
	s.log.WithField("mode", mode).Info("account disconnected")
	s.dispatcher.Dispatch(ctx, events.EventAccountDisconnected, events.Payload{
		"mode": string(mode),
	})
	return nil
}

// Status reports the connection state for mode without exposing secrets.
func (s *ConnectService) Status(ctx context.Context, mode models.Mode) (map[string]interface{}, error) {
	creds, err := s.creds.Get(ctx, mode)
	if err != nil {
		if err == models.ErrCredentialsNotConfigured {
			return map[string]interface{}{"mode": mode, "configured": false}, nil
		}
		return nil, err
	}
	status := map[string]interface{}{
		"mode":       mode,
		"configured": true,
		"connected":  creds.Connected(),
		"staticKeys": creds.StaticOnly(),
	}
	if creds.MerchantID != "" {
		status["merchantId"] = creds.MerchantID
	}
	if creds.ConnectedAt != nil {
		status["connectedAt"] = creds.ConnectedAt
	}
	return status, nil
}
