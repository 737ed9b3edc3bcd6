package services

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"razorpay-link-service/internal/broker"
	"razorpay-link-service/internal/cache"
	"razorpay-link-service/internal/models"
	"razorpay-link-service/internal/razorpay"
)

func connectedCreds(mode models.Mode, expiresAt int64) *models.CredentialSet {
	return &models.CredentialSet{
		Mode:         mode,
		KeyID:        "pub_old",
		PublicToken:  "pub_old",
		AccessToken:  "access_old",
		RefreshToken: "refresh_old",
		ExpiresAt:    expiresAt,
		MerchantID:   "merchant_1",
	}
}

func freshTokens() *broker.TokenResponse {
	return &broker.TokenResponse{
		ConnectStatus: broker.StatusConnected,
		PublicToken:   "pub_new",
		AccessToken:   "access_new",
		RefreshToken:  "refresh_new",
		ExpiresIn:     3600,
		MerchantID:    "merchant_1",
	}
}

func newTestTokenService(creds *fakeCredentialStore, b *fakeBroker) (*TokenService, time.Time) {
	svc := NewTokenService(creds, b, cache.NewMemoryCache(), quietLogger())
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }
	svc.jitter = func() time.Duration { return 30 * time.Second }
	return svc, base
}

func TestScheduleFiresBeforeExpiry(t *testing.T) {
	creds := newFakeCredentialStore()
	svc, base := newTestTokenService(creds, &fakeBroker{})
	defer svc.Stop()

	expiresAt := base.Add(20 * time.Minute).Unix()
	svc.ScheduleNextRefresh(models.ModeLive, expiresAt)

	timer := svc.timers[models.ModeLive]
	require.NotNil(t, timer)
	// Renewal window before expiry, plus the injected 30s jitter
	expected := base.Add(5 * time.Minute).Add(30 * time.Second)
	assert.Equal(t, expected.Unix(), timer.fireAt.Unix())
}

func TestSchedulePastTargetClampsToNow(t *testing.T) {
	creds := newFakeCredentialStore()
	svc, base := newTestTokenService(creds, &fakeBroker{})
	defer svc.Stop()

	svc.ScheduleNextRefresh(models.ModeLive, base.Add(-time.Hour).Unix())

	timer := svc.timers[models.ModeLive]
	require.NotNil(t, timer)
	assert.Equal(t, base.Add(30*time.Second).Unix(), timer.fireAt.Unix())
}

func TestScheduleKeepsEarlierTimer(t *testing.T) {
	creds := newFakeCredentialStore()
	svc, base := newTestTokenService(creds, &fakeBroker{})
	defer svc.Stop()

	svc.ScheduleNextRefresh(models.ModeLive, base.Add(20*time.Minute).Unix())
	early := svc.timers[models.ModeLive].fireAt

	svc.ScheduleNextRefresh(models.ModeLive, base.Add(2*time.Hour).Unix())
	assert.Equal(t, early, svc.timers[models.ModeLive].fireAt)
}

func TestScheduleSkippedWhileRefreshInFlight(t *testing.T) {
	creds := newFakeCredentialStore()
	svc, base := newTestTokenService(creds, &fakeBroker{})
	defer svc.Stop()

	locked, err := svc.locker.TryLock(context.Background(), refreshLockKey(models.ModeLive), time.Minute)
	require.NoError(t, err)
	require.True(t, locked)

	svc.ScheduleNextRefresh(models.ModeLive, base.Add(20*time.Minute).Unix())
	assert.Nil(t, svc.timers[models.ModeLive])
}

func TestRefreshPersistsNewTokenSet(t *testing.T) {
	store := newFakeCredentialStore(connectedCreds(models.ModeLive, 0))
	b := &fakeBroker{refreshFn: func(refreshToken, merchantID string, mode models.Mode) (*broker.TokenResponse, error) {
		assert.Equal(t, "refresh_old", refreshToken)
		assert.Equal(t, "merchant_1", merchantID)
		return freshTokens(), nil
	}}
	svc, base := newTestTokenService(store, b)
	defer svc.Stop()

	creds, err := svc.RefreshAccessToken(context.Background(), models.ModeLive)
	require.NoError(t, err)

	assert.Equal(t, "access_new", creds.AccessToken)
	assert.Equal(t, "refresh_new", creds.RefreshToken)
	// The public token doubles as the key id
	assert.Equal(t, "pub_new", creds.KeyID)
	assert.Equal(t, base.Add(3600*time.Second-45*time.Second).Unix(), creds.ExpiresAt)
	assert.Zero(t, creds.ConnectionFailCount)

	saved, err := store.Get(context.Background(), models.ModeLive)
	require.NoError(t, err)
	assert.Equal(t, "access_new", saved.AccessToken)
	assert.NotNil(t, svc.timers[models.ModeLive])
}

func TestRefreshIsSingleFlightPerCooldown(t *testing.T) {
	store := newFakeCredentialStore(connectedCreds(models.ModeLive, 0))
	b := &fakeBroker{refreshFn: func(string, string, models.Mode) (*broker.TokenResponse, error) {
		return freshTokens(), nil
	}}
	svc, _ := newTestTokenService(store, b)
	defer svc.Stop()

	locked, err := svc.locker.TryLock(context.Background(), refreshLockKey(models.ModeLive), time.Minute)
	require.NoError(t, err)
	require.True(t, locked)

	creds, err := svc.RefreshAccessToken(context.Background(), models.ModeLive)
	require.NoError(t, err)
	assert.Equal(t, "access_old", creds.AccessToken)
	assert.Zero(t, b.refreshHits)
}

func TestRefreshRevokedGrantClearsCredentials(t *testing.T) {
	store := newFakeCredentialStore(connectedCreds(models.ModeLive, 0))
	b := &fakeBroker{refreshFn: func(string, string, models.Mode) (*broker.TokenResponse, error) {
		return &broker.TokenResponse{
			ConnectStatus: broker.StatusFailed,
			Error:         &razorpay.APIError{Code: "BAD_REQUEST_ERROR", Description: "token has been revoked"},
		}, nil
	}}
	svc, _ := newTestTokenService(store, b)
	defer svc.Stop()

	_, err := svc.RefreshAccessToken(context.Background(), models.ModeLive)
	assert.ErrorIs(t, err, models.ErrAuthRevoked)

	_, err = store.Get(context.Background(), models.ModeLive)
	assert.ErrorIs(t, err, models.ErrCredentialsNotConfigured)
}

func TestRefreshFailureSchedulesRetry(t *testing.T) {
	store := newFakeCredentialStore(connectedCreds(models.ModeLive, 0))
	b := &fakeBroker{refreshFn: func(string, string, models.Mode) (*broker.TokenResponse, error) {
		return nil, errors.New("broker unreachable")
	}}
	svc, base := newTestTokenService(store, b)
	defer svc.Stop()

	_, err := svc.RefreshAccessToken(context.Background(), models.ModeLive)
	require.Error(t, err)

	saved, err := store.Get(context.Background(), models.ModeLive)
	require.NoError(t, err)
	assert.Equal(t, 1, saved.ConnectionFailCount)

	timer := svc.timers[models.ModeLive]
	require.NotNil(t, timer)
	assert.Equal(t, base.Add(refreshCooldown+30*time.Second).Unix(), timer.fireAt.Unix())
}

func TestRefreshFailureCeilingClearsCredentials(t *testing.T) {
	creds := connectedCreds(models.ModeLive, 0)
	creds.ConnectionFailCount = refreshFailCeiling
	store := newFakeCredentialStore(creds)
	b := &fakeBroker{refreshFn: func(string, string, models.Mode) (*broker.TokenResponse, error) {
		return nil, errors.New("broker unreachable")
	}}
	svc, _ := newTestTokenService(store, b)
	defer svc.Stop()

	_, err := svc.RefreshAccessToken(context.Background(), models.ModeLive)
	require.Error(t, err)

	// The 31st consecutive failure is terminal: no credentials, no retry
	_, err = store.Get(context.Background(), models.ModeLive)
	assert.ErrorIs(t, err, models.ErrCredentialsNotConfigured)
	assert.Nil(t, svc.timers[models.ModeLive])
}

func TestRefreshWithoutRefreshTokenClears(t *testing.T) {
	store := newFakeCredentialStore(&models.CredentialSet{
		Mode:        models.ModeLive,
		AccessToken: "access_old",
	})
	svc, _ := newTestTokenService(store, &fakeBroker{})
	defer svc.Stop()

	_, err := svc.RefreshAccessToken(context.Background(), models.ModeLive)
	assert.ErrorIs(t, err, models.ErrAuthRevoked)

	_, err = store.Get(context.Background(), models.ModeLive)
	assert.ErrorIs(t, err, models.ErrCredentialsNotConfigured)
}

func TestStaticCredentialsNeverRefresh(t *testing.T) {
	store := newFakeCredentialStore(&models.CredentialSet{
		Mode:      models.ModeTest,
		KeyID:     "rzp_test_key",
		KeySecret: "secret",
	})
	b := &fakeBroker{}
	svc, _ := newTestTokenService(store, b)
	defer svc.Stop()

	creds, err := svc.EnsureFreshToken(context.Background(), models.ModeTest)
	require.NoError(t, err)
	assert.Equal(t, "rzp_test_key", creds.KeyID)
	assert.Zero(t, b.refreshHits)
}

func TestAuthHeaderBasicForStaticKeys(t *testing.T) {
	store := newFakeCredentialStore(&models.CredentialSet{
		Mode:      models.ModeTest,
		KeyID:     "rzp_test_key",
		KeySecret: "secret",
	})
	svc, _ := newTestTokenService(store, &fakeBroker{})
	defer svc.Stop()

	header, err := svc.AuthHeader(context.Background(), models.ModeTest)
	require.NoError(t, err)
	expected := "Basic " + base64.StdEncoding.EncodeToString([]byte("rzp_test_key:secret"))
	assert.Equal(t, expected, header)
}

func TestAuthHeaderBearerForConnectedAccount(t *testing.T) {
	store := newFakeCredentialStore(connectedCreds(models.ModeLive, 0))
	b := &fakeBroker{}
	svc, base := newTestTokenService(store, b)
	defer svc.Stop()
	store.sets[models.ModeLive].ExpiresAt = base.Add(2 * time.Hour).Unix()

	header, err := svc.AuthHeader(context.Background(), models.ModeLive)
	require.NoError(t, err)
	assert.Equal(t, "Bearer access_old", header)
	assert.Zero(t, b.refreshHits)
}

func TestEnsureFreshTokenUsesStaleTokenWhenRefreshFails(t *testing.T) {
	svcNow := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	// Inside the renewal window but not yet expired
	store := newFakeCredentialStore(connectedCreds(models.ModeLive, svcNow.Add(10*time.Minute).Unix()))
	b := &fakeBroker{refreshFn: func(string, string, models.Mode) (*broker.TokenResponse, error) {
		return nil, errors.New("broker unreachable")
	}}
	svc, _ := newTestTokenService(store, b)
	defer svc.Stop()

	creds, err := svc.EnsureFreshToken(context.Background(), models.ModeLive)
	require.NoError(t, err)
	assert.Equal(t, "access_old", creds.AccessToken)
	assert.Equal(t, 1, b.refreshHits)
}
