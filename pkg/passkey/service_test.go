package passkey

import (
	"context"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blogpress/authguard/pkg/directory"
	"github.com/blogpress/authguard/pkg/errors"
)

func newTestService(t *testing.T) (*Service, *InMemCredentialRepository, *InMemCeremonyStore) {
	t.Helper()
	credentials := NewInMemCredentialRepository()
	ceremonies := NewInMemCeremonyStore()
	service, err := NewService(Config{
		RPDisplayName: "BlogPress",
		RPID:          "blogpress.example",
		RPOrigins:     []string{"https://blogpress.example"},
	}, credentials, ceremonies)
	require.NoError(t, err)
	return service, credentials, ceremonies
}

func storeCredential(t *testing.T, repo *InMemCredentialRepository, userID uuid.UUID, signCount uint32) Credential {
	t.Helper()
	credential, err := repo.CreateCredential(context.Background(), Credential{
		UserID: userID,
		Name:   "yubikey",
		Credential: webauthn.Credential{
			ID:        []byte("credential-1"),
			PublicKey: []byte("public-key"),
			Authenticator: webauthn.Authenticator{
				SignCount: signCount,
			},
		},
	})
	require.NoError(t, err)
	return credential
}

func TestRecordAssertionAdvancesCounter(t *testing.T) {
	service, credentials, _ := newTestService(t)
	userID := uuid.New()
	stored := storeCredential(t, credentials, userID, 5)

	err := service.recordAssertion(context.Background(), &stored, 6)
	require.NoError(t, err)
	assert.Equal(t, uint32(6), stored.Credential.Authenticator.SignCount)

	persisted, err := credentials.FindCredentialsByUser(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, uint32(6), persisted[0].Credential.Authenticator.SignCount)
	assert.NotNil(t, persisted[0].LastUsedAt)
}

func TestRecordAssertionRegressionDisablesCredential(t *testing.T) {
	tests := []struct {
		name     string
		stored   uint32
		asserted uint32
	}{
		{name: "equal counter", stored: 5, asserted: 5},
		{name: "lower counter", stored: 5, asserted: 3},
		{name: "zero against zero", stored: 0, asserted: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, credentials, _ := newTestService(t)
			userID := uuid.New()
			stored := storeCredential(t, credentials, userID, tt.stored)

			err := service.recordAssertion(context.Background(), &stored, tt.asserted)
			assert.True(t, errors.IsCode(err, errors.ErrCodeReplayDetected))

			persisted, err2 := credentials.FindCredentialsByUser(context.Background(), userID)
			require.NoError(t, err2)
			require.Len(t, persisted, 1)
			assert.False(t, persisted[0].Active(), "credential must be disabled after regression")
		})
	}
}

func TestRecordAssertionStaleBaseIsReplay(t *testing.T) {
	service, credentials, _ := newTestService(t)
	userID := uuid.New()
	stored := storeCredential(t, credentials, userID, 5)

	// Another instance advanced the stored counter meanwhile.
	advanced, err := credentials.UpdateSignCount(context.Background(), stored.ID, 5, 7, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, advanced)

	err = service.recordAssertion(context.Background(), &stored, 6)
	assert.True(t, errors.IsCode(err, errors.ErrCodeReplayDetected))
}

func TestBeginLoginRequiresActiveCredential(t *testing.T) {
	service, credentials, _ := newTestService(t)
	user := directory.User{ID: uuid.New(), Username: "alice"}

	_, _, err := service.BeginLogin(context.Background(), user)
	assert.True(t, errors.IsCode(err, errors.ErrCodeMethodNotEnrolled))

	stored := storeCredential(t, credentials, user.ID, 1)
	require.NoError(t, credentials.DisableCredential(context.Background(), stored.ID, time.Now().UTC()))

	_, _, err = service.BeginLogin(context.Background(), user)
	assert.True(t, errors.IsCode(err, errors.ErrCodeMethodNotEnrolled))
}

func TestBeginLoginStoresSingleUseCeremony(t *testing.T) {
	service, credentials, ceremonies := newTestService(t)
	user := directory.User{ID: uuid.New(), Username: "alice"}
	storeCredential(t, credentials, user.ID, 1)

	options, ceremonyID, err := service.BeginLogin(context.Background(), user)
	require.NoError(t, err)
	require.NotNil(t, options)
	require.NotEmpty(t, ceremonyID)

	ceremony, ok, err := ceremonies.Take(context.Background(), ceremonyID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, user.ID, ceremony.UserID)
	assert.Equal(t, PurposeLogin, ceremony.Purpose)
	assert.WithinDuration(t, time.Now().UTC().Add(CeremonyTTL), ceremony.ExpiresAt, time.Minute)

	// Taken once, gone forever.
	_, ok, err = ceremonies.Take(context.Background(), ceremonyID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTakeCeremonyChecksOwnerAndPurpose(t *testing.T) {
	service, credentials, _ := newTestService(t)
	user := directory.User{ID: uuid.New(), Username: "alice"}
	storeCredential(t, credentials, user.ID, 1)

	_, ceremonyID, err := service.BeginLogin(context.Background(), user)
	require.NoError(t, err)

	// Wrong user.
	_, err = service.takeCeremony(context.Background(), uuid.New(), ceremonyID, PurposeLogin)
	assert.True(t, errors.IsCode(err, errors.ErrCodeCeremonyUnknown))

	// Consumed by the failed attempt above.
	_, err = service.takeCeremony(context.Background(), user.ID, ceremonyID, PurposeLogin)
	assert.True(t, errors.IsCode(err, errors.ErrCodeCeremonyUnknown))
}

func TestCeremonyExpires(t *testing.T) {
	store := NewInMemCeremonyStore()
	ceremony := Ceremony{
		ID:        "expired",
		UserID:    uuid.New(),
		Purpose:   PurposeLogin,
		ExpiresAt: time.Now().UTC().Add(-time.Second),
	}
	require.NoError(t, store.Save(context.Background(), ceremony))

	_, ok, err := store.Take(context.Background(), "expired")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDisableCredentialByOwner(t *testing.T) {
	service, credentials, _ := newTestService(t)
	userID := uuid.New()
	stored := storeCredential(t, credentials, userID, 1)

	// Another user cannot disable it.
	err := service.DisableCredential(context.Background(), uuid.New(), stored.ID)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))

	require.NoError(t, service.DisableCredential(context.Background(), userID, stored.ID))

	active, err := service.HasActiveCredential(context.Background(), userID)
	require.NoError(t, err)
	assert.False(t, active)
}
