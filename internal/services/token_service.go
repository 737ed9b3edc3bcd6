package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"razorpay-link-service/internal/broker"
	"razorpay-link-service/internal/cache"
	"razorpay-link-service/internal/models"
	"razorpay-link-service/internal/razorpay"
	"razorpay-link-service/internal/repository"
)

const (
	// Access tokens are renewed this long before their recorded expiry.
	renewalWindow = 15 * time.Minute
	// Only one refresh attempt may run per mode within this window.
	refreshCooldown = time.Minute
	// Recorded expiry is pulled in by this much so a token is never used
	// in its final moments.
	tokenExpirySlack = 45 * time.Second
	// Scheduled refreshes are spread over this much jitter so a fleet of
	// instances does not hit the broker in lockstep.
	maxScheduleJitter = 60 * time.Second
	// Consecutive refresh failures beyond this ceiling clear the
	// credential set entirely; the merchant must reconnect.
	refreshFailCeiling = 30
)

// TokenRefresher is the slice of the broker the token manager needs.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken, merchantID string, mode models.Mode) (*broker.TokenResponse, error)
}

type refreshTimer struct {
	timer  *time.Timer
	fireAt time.Time
}

// TokenService keeps per-mode access tokens fresh. Connected credentials
// are renewed ahead of expiry by a per-mode background timer; static
// key/secret credentials never refresh.
type TokenService struct {
	creds  repository.CredentialStore
	broker TokenRefresher
	locker cache.Locker
	log    *logrus.Entry

	mu     sync.Mutex
	timers map[models.Mode]*refreshTimer

	// Injectable for deterministic scheduling in tests.
	now    func() time.Time
	jitter func() time.Duration
}

// NewTokenService creates a new token service
func NewTokenService(creds repository.CredentialStore, refresher TokenRefresher, locker cache.Locker, logger *logrus.Logger) *TokenService {
	return &TokenService{
		creds:  creds,
		broker: refresher,
		locker: locker,
		log:    logger.WithField("component", "token.service"),
		timers: make(map[models.Mode]*refreshTimer),
		now:    time.Now,
		jitter: func() time.Duration {
			return time.Duration(rand.Int63n(int64(maxScheduleJitter)))
		},
	}
}

func refreshLockKey(mode models.Mode) string {
	return "token-refresh:" + string(mode)
}

// AuthHeaderProvider returns an auth provider bound to one mode, suitable
// for constructing the processor client.
func (s *TokenService) AuthHeaderProvider(mode models.Mode) razorpay.AuthProvider {
	return &modeAuthProvider{svc: s, mode: mode}
}

type modeAuthProvider struct {
	svc  *TokenService
	mode models.Mode
}

func (p *modeAuthProvider) AuthHeader(ctx context.Context) (string, error) {
	return p.svc.AuthHeader(ctx, p.mode)
}

// AuthHeader returns the Authorization header value for mode, refreshing
// the access token first when it is inside the renewal window.
func (s *TokenService) AuthHeader(ctx context.Context, mode models.Mode) (string, error) {
	creds, err := s.EnsureFreshToken(ctx, mode)
	if err != nil {
		return "", err
	}
	if creds.Connected() {
		return "Bearer " + creds.AccessToken, nil
	}
	if creds.KeyID == "" || creds.KeySecret == "" {
		return "", models.ErrCredentialsNotConfigured
	}
	pair := creds.KeyID + ":" + creds.KeySecret
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(pair)), nil
}

// EnsureFreshToken returns usable credentials for mode, refreshing first if
// the access token is expired or inside the renewal window. A failed
// refresh on a still-valid token returns the existing credentials.
func (s *TokenService) EnsureFreshToken(ctx context.Context, mode models.Mode) (*models.CredentialSet, error) {
	creds, err := s.creds.Get(ctx, mode)
	if err != nil {
		return nil, err
	}
	if creds.StaticOnly() || !creds.Connected() {
		return creds, nil
	}

	now := s.now()
	deadline := time.Unix(creds.ExpiresAt, 0)
	if now.Before(deadline.Add(-renewalWindow)) {
		return creds, nil
	}

	refreshed, err := s.RefreshAccessToken(ctx, mode)
	if err != nil {
		if !creds.ExpiredAt(now) {
			// Token still usable; the scheduled retry will try again.
			s.log.WithField("mode", mode).WithError(err).Warn("refresh failed, using current token")
			return creds, nil
		}
		return nil, err
	}
	return refreshed, nil
}

// RefreshAccessToken exchanges the refresh token for a new token set. At
// most one attempt runs per mode per cooldown window; losing the race
// returns the stored credentials untouched.
func (s *TokenService) RefreshAccessToken(ctx context.Context, mode models.Mode) (*models.CredentialSet, error) {
	creds, err := s.creds.Get(ctx, mode)
	if err != nil {
		return nil, err
	}
	if creds.StaticOnly() {
		return creds, nil
	}
	if creds.RefreshToken == "" {
		// A connection without a refresh token can never recover.
		s.log.WithField("mode", mode).Warn("connection has no refresh token, clearing credentials")
		if err := s.creds.Clear(ctx, mode); err != nil {
			return nil, err
		}
		return nil, models.ErrAuthRevoked
	}

	acquired, err := s.locker.TryLock(ctx, refreshLockKey(mode), refreshCooldown)
	if err != nil {
		return nil, err
	}
	if !acquired {
		s.log.WithField("mode", mode).Debug("refresh already in progress, skipping")
		return creds, nil
	}

	resp, err := s.broker.Refresh(ctx, creds.RefreshToken, creds.MerchantID, mode)
	if err != nil {
		s.incFailCounter(ctx, mode, creds)
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}

	if resp.Revoked() {
		s.log.WithField("mode", mode).Warn("grant revoked or expired, clearing credentials")
		s.cancelTimer(mode)
		if err := s.creds.Clear(ctx, mode); err != nil {
			return nil, err
		}
		return nil, models.ErrAuthRevoked
	}
	if resp.ConnectStatus != broker.StatusConnected || resp.AccessToken == "" {
		s.incFailCounter(ctx, mode, creds)
		if resp.Error != nil {
			return nil, fmt.Errorf("token refresh rejected: %w", resp.Error)
		}
		return nil, fmt.Errorf("token refresh returned status %q", resp.ConnectStatus)
	}

	return s.saveToken(ctx, mode, creds, resp)
}

// saveToken persists a fresh token set and schedules the next renewal.
// The public token doubles as the key id for checkout-side assets.
func (s *TokenService) saveToken(ctx context.Context, mode models.Mode, creds *models.CredentialSet, resp *broker.TokenResponse) (*models.CredentialSet, error) {
	creds.PublicToken = resp.PublicToken
	creds.KeyID = resp.PublicToken
	creds.AccessToken = resp.AccessToken
	creds.RefreshToken = resp.RefreshToken
	creds.ExpiresAt = s.now().Add(time.Duration(resp.ExpiresIn)*time.Second - tokenExpirySlack).Unix()
	if resp.MerchantID != "" {
		creds.MerchantID = resp.MerchantID
	}
	creds.ConnectionFailCount = 0

	if err := s.creds.Save(ctx, creds); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"mode":      mode,
		"expiresAt": creds.ExpiresAt,
	}).Info("access token refreshed")

	// Scheduled directly: the cooldown lock from this refresh is still
	// held and must not suppress arming the next renewal.
	s.scheduleAt(mode, s.nextTarget(creds.ExpiresAt))
	return creds, nil
}

// ScheduleNextRefresh arms the per-mode renewal timer to fire a renewal
// window before expiresAt, plus jitter. A target in the past fires almost
// immediately. An already-armed timer that fires earlier is kept.
func (s *TokenService) ScheduleNextRefresh(mode models.Mode, expiresAt int64) {
	if locked, err := s.locker.Locked(context.Background(), refreshLockKey(mode)); err == nil && locked {
		// A refresh is in flight; it will schedule on completion.
		return
	}

	s.scheduleAt(mode, s.nextTarget(expiresAt))
}

// nextTarget is the renewal instant for a token expiring at expiresAt: a
// renewal window early, jittered, and never in the past.
func (s *TokenService) nextTarget(expiresAt int64) time.Time {
	now := s.now()
	target := time.Unix(expiresAt, 0).Add(-renewalWindow).Add(s.jitter())
	if target.Before(now) {
		target = now.Add(s.jitter())
	}
	return target
}

func (s *TokenService) scheduleAt(mode models.Mode, target time.Time) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.timers[mode]; ok {
		if existing.fireAt.Before(target) {
			return
		}
		existing.timer.Stop()
	}
	s.timers[mode] = &refreshTimer{
		fireAt: target,
		timer: time.AfterFunc(target.Sub(now), func() {
			s.refreshOnTimer(mode)
		}),
	}
	s.log.WithFields(logrus.Fields{
		"mode":   mode,
		"fireAt": target.Format(time.RFC3339),
	}).Debug("scheduled token refresh")
}

func (s *TokenService) refreshOnTimer(mode models.Mode) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	s.mu.Lock()
	delete(s.timers, mode)
	s.mu.Unlock()

	if _, err := s.RefreshAccessToken(ctx, mode); err != nil {
		s.log.WithField("mode", mode).WithError(err).Warn("scheduled refresh failed")
	}
}

// incFailCounter bumps the consecutive-failure count. Beyond the ceiling
// the credential set is cleared and the renewal timer cancelled; a shorter
// retry is scheduled otherwise.
func (s *TokenService) incFailCounter(ctx context.Context, mode models.Mode, creds *models.CredentialSet) {
	creds.ConnectionFailCount++
	if creds.ConnectionFailCount > refreshFailCeiling {
		s.log.WithFields(logrus.Fields{
			"mode":     mode,
			"failures": creds.ConnectionFailCount,
		}).Error("refresh failure ceiling exceeded, clearing credentials")
		s.cancelTimer(mode)
		if err := s.creds.Clear(ctx, mode); err != nil {
			s.log.WithField("mode", mode).WithError(err).Error("failed to clear credentials")
		}
		return
	}
	if err := s.creds.Save(ctx, creds); err != nil {
		s.log.WithField("mode", mode).WithError(err).Error("failed to persist failure count")
	}
	// Retry once the cooldown lock from this attempt has lapsed.
	s.scheduleAt(mode, s.now().Add(refreshCooldown+s.jitter()))
}

// CancelRefresh stops the renewal timer for mode, if armed. Used when the
// mode's credentials are being replaced or destroyed.
func (s *TokenService) CancelRefresh(mode models.Mode) {
	s.cancelTimer(mode)
}

func (s *TokenService) cancelTimer(mode models.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.timers[mode]; ok {
		existing.timer.Stop()
		delete(s.timers, mode)
	}
}

// StartupSchedule arms renewal timers for every connected mode. Called once
// at boot so tokens survive process restarts without waiting for traffic.
func (s *TokenService) StartupSchedule(ctx context.Context) {
	for _, mode := range []models.Mode{models.ModeTest, models.ModeLive} {
		creds, err := s.creds.Get(ctx, mode)
		if err != nil || creds.StaticOnly() || !creds.Connected() {
			continue
		}
		s.ScheduleNextRefresh(mode, creds.ExpiresAt)
	}
}

// Stop cancels all renewal timers.
func (s *TokenService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for mode, t := range s.timers {
		t.timer.Stop()
		delete(s.timers, mode)
	}
}
