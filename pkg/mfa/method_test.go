package mfa

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	for _, valid := range []string{"totp", "sms", "email", "hardware_key", "recovery"} {
		kind, err := ParseKind(valid)
		require.NoError(t, err)
		assert.Equal(t, Kind(valid), kind)
	}

	_, err := ParseKind("carrier_pigeon")
	assert.Error(t, err)
}

func TestMethodColumnsRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		method Method
	}{
		{"totp", TotpMethod{Secret: "JBSWY3DPEHPK3PXP"}},
		{"sms", SmsMethod{PhoneNumber: "+15550100", Secret: "JBSWY3DPEHPK3PXP"}},
		{"email", EmailMethod{Address: "a@example.com", Secret: "JBSWY3DPEHPK3PXP"}},
		{"hardware key", HardwareKeyMethod{CredentialID: uuid.NewString()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			destination, material := methodColumns(tt.method)
			rebuilt, err := newMethod(tt.method.Kind(), destination, material)
			require.NoError(t, err)
			assert.Equal(t, tt.method, rebuilt)
		})
	}
}

func TestEnrollmentActive(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Hour)

	assert.False(t, Enrollment{EnrolledAt: past}.Active(), "unconfirmed")
	assert.True(t, Enrollment{EnrolledAt: past, ConfirmedAt: &past}.Active(), "confirmed")
	assert.False(t, Enrollment{EnrolledAt: past, ConfirmedAt: &past, DisabledAt: &now}.Active(), "disabled")
}

func TestEnrollmentLifecycle(t *testing.T) {
	repo := NewInMemEnrollmentRepository()
	ctx := context.Background()
	userID := uuid.New()

	enrollment, err := repo.CreateEnrollment(ctx, Enrollment{
		UserID: userID,
		Method: TotpMethod{Secret: "JBSWY3DPEHPK3PXP"},
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, enrollment.ID)
	assert.False(t, enrollment.Active())

	now := time.Now().UTC()
	require.NoError(t, repo.ConfirmEnrollment(ctx, enrollment.ID, now))

	found, err := repo.FindEnrollmentsByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.True(t, found[0].Active())

	require.NoError(t, repo.DisableEnrollment(ctx, enrollment.ID, now))
	got, err := repo.GetEnrollment(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.False(t, got.Active())
	assert.Equal(t, TotpMethod{}, got.Method, "disable must wipe the stored secret")
}

func TestTwoFactorForcedPolicy(t *testing.T) {
	repo := NewInMemEnrollmentRepository()
	ctx := context.Background()
	userID := uuid.New()

	forced, err := repo.GetTwoFactorForced(ctx, userID)
	require.NoError(t, err)
	assert.False(t, forced)

	require.NoError(t, repo.SetTwoFactorForced(ctx, userID, true))
	forced, err = repo.GetTwoFactorForced(ctx, userID)
	require.NoError(t, err)
	assert.True(t, forced)
}

func TestSecurityProfileActiveByKind(t *testing.T) {
	now := time.Now().UTC()
	profile := SecurityProfile{
		Enrollments: []Enrollment{
			{Method: TotpMethod{Secret: "s"}, ConfirmedAt: &now},
			{Method: SmsMethod{PhoneNumber: "+15550100", Secret: "s"}},
		},
	}

	assert.True(t, profile.HasActiveMethod())

	_, ok := profile.ActiveByKind(KindTotp)
	assert.True(t, ok)
	_, ok = profile.ActiveByKind(KindSms)
	assert.False(t, ok, "unconfirmed sms method is not active")
}
