package device

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blogpress/authguard/pkg/audit"
)

func newTestDeviceService() *DeviceService {
	service, _ := newTestDeviceServiceWithEvents()
	return service
}

func newTestDeviceServiceWithEvents() (*DeviceService, *audit.InMemEventRepository) {
	events := audit.NewInMemEventRepository()
	return NewDeviceService(NewInMemTrustRepository(), audit.NewService(events)), events
}

func TestTrustDefaultsAndClampsTTL(t *testing.T) {
	service := newTestDeviceService()
	userID := uuid.New()

	tests := []struct {
		name     string
		ttl      time.Duration
		wantDays int
	}{
		{name: "zero gets default", ttl: 0, wantDays: DefaultTrustDays},
		{name: "negative gets default", ttl: -time.Hour, wantDays: DefaultTrustDays},
		{name: "explicit within cap", ttl: 7 * 24 * time.Hour, wantDays: 7},
		{name: "above cap is clamped", ttl: 365 * 24 * time.Hour, wantDays: MaxTrustDays},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trust, err := service.Trust(context.Background(), TrustRequest{
				UserID:      userID,
				Fingerprint: "fp-" + tt.name,
				TTL:         tt.ttl,
			})
			require.NoError(t, err)

			lifetime := trust.ExpiresAt.Sub(trust.TrustedAt)
			assert.Equal(t, time.Duration(tt.wantDays)*24*time.Hour, lifetime)
		})
	}
}

func TestIsTrustedExpiryIsExclusive(t *testing.T) {
	service := newTestDeviceService()
	userID := uuid.New()

	trust, err := service.Trust(context.Background(), TrustRequest{
		UserID:      userID,
		Fingerprint: "fp-1",
	})
	require.NoError(t, err)

	ok, err := service.IsTrusted(context.Background(), userID, "fp-1", trust.ExpiresAt.Add(-time.Second))
	require.NoError(t, err)
	assert.True(t, ok)

	// No grace period at or after expiry.
	ok, err = service.IsTrusted(context.Background(), userID, "fp-1", trust.ExpiresAt)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = service.IsTrusted(context.Background(), userID, "fp-1", trust.ExpiresAt.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsTrustedUnknownFingerprint(t *testing.T) {
	service := newTestDeviceService()

	ok, err := service.IsTrusted(context.Background(), uuid.New(), "never-seen", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRevokeEndsTrustImmediately(t *testing.T) {
	service := newTestDeviceService()
	userID := uuid.New()

	trust, err := service.Trust(context.Background(), TrustRequest{UserID: userID, Fingerprint: "fp-1"})
	require.NoError(t, err)

	require.NoError(t, service.Revoke(context.Background(), userID, trust.ID))

	ok, err := service.IsTrusted(context.Background(), userID, "fp-1", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRevokeAll(t *testing.T) {
	service := newTestDeviceService()
	userID := uuid.New()

	for _, fp := range []string{"fp-1", "fp-2", "fp-3"} {
		_, err := service.Trust(context.Background(), TrustRequest{UserID: userID, Fingerprint: fp})
		require.NoError(t, err)
	}

	count, err := service.RevokeAll(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	for _, fp := range []string{"fp-1", "fp-2", "fp-3"} {
		ok, err := service.IsTrusted(context.Background(), userID, fp, time.Now().UTC())
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestRevocationsAreAudited(t *testing.T) {
	service, events := newTestDeviceServiceWithEvents()
	userID := uuid.New()

	trust, err := service.Trust(context.Background(), TrustRequest{UserID: userID, Fingerprint: "fp-1"})
	require.NoError(t, err)
	_, err = service.Trust(context.Background(), TrustRequest{UserID: userID, Fingerprint: "fp-2"})
	require.NoError(t, err)

	require.NoError(t, service.Revoke(context.Background(), userID, trust.ID))

	count, err := service.RevokeAll(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Revoking with nothing left writes no event.
	count, err = service.RevokeAll(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	history, err := events.FindRecentByUser(context.Background(), userID, time.Now().UTC().Add(-time.Hour), 0)
	require.NoError(t, err)
	var revoked int
	for _, e := range history {
		if e.Type == audit.EventDeviceRevoked {
			revoked++
		}
	}
	assert.Equal(t, 2, revoked)
}

func TestTrustExtendsExistingGrant(t *testing.T) {
	service := newTestDeviceService()
	userID := uuid.New()

	first, err := service.Trust(context.Background(), TrustRequest{
		UserID:      userID,
		Fingerprint: "fp-1",
		TTL:         24 * time.Hour,
	})
	require.NoError(t, err)

	second, err := service.Trust(context.Background(), TrustRequest{
		UserID:      userID,
		Fingerprint: "fp-1",
		TTL:         48 * time.Hour,
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "re-trusting the same device should extend, not duplicate")
	assert.True(t, second.ExpiresAt.After(first.ExpiresAt))

	trusts, err := service.ListTrusted(context.Background(), userID)
	require.NoError(t, err)
	assert.Len(t, trusts, 1)
}
