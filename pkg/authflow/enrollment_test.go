package authflow

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blogpress/authguard/pkg/directory"
	"github.com/blogpress/authguard/pkg/errors"
	"github.com/blogpress/authguard/pkg/mfa"
	"github.com/blogpress/authguard/pkg/notification"
)

func TestTotpEnrollmentLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Fresh user so this confirmation activates their first method.
	user := directory.User{ID: uuid.New(), Username: "dave", Email: "dave@example.com"}
	f.directory.AddUser(user)

	offer, err := f.service.StartTotpEnrollment(ctx, user.ID, "phone app")
	require.NoError(t, err)
	assert.NotEmpty(t, offer.Secret)
	assert.Contains(t, offer.URI, "otpauth://totp/")

	// Unconfirmed methods cannot verify.
	request := f.request(t, "123456")
	request.UserID = user.ID
	result := f.service.AssessAndVerify(ctx, request)
	assert.Equal(t, OutcomeFailed, result.Outcome)

	code, err := f.codes.GenerateCode(offer.Secret, time.Now().UTC())
	require.NoError(t, err)
	confirmed, err := f.service.ConfirmTotpEnrollment(ctx, user.ID, offer.EnrollmentID, code)
	require.NoError(t, err)
	assert.NotNil(t, confirmed.Enrollment.ConfirmedAt)
	// First active method seeds the recovery batch.
	assert.Len(t, confirmed.RecoveryCodes, 10)

	profile, err := f.service.Profile(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, profile.HasActiveMethod())
	assert.Equal(t, mfa.KindTotp, profile.PreferredKind)
	assert.Equal(t, 10, profile.RecoveryCodesAlive)
}

func TestConfirmTotpEnrollmentWrongCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user := directory.User{ID: uuid.New(), Username: "erin", Email: "erin@example.com"}
	f.directory.AddUser(user)

	offer, err := f.service.StartTotpEnrollment(ctx, user.ID, "phone app")
	require.NoError(t, err)

	_, err = f.service.ConfirmTotpEnrollment(ctx, user.ID, offer.EnrollmentID, "000000")
	assert.True(t, errors.IsCode(err, errors.ErrCodeAuthFailed))
}

func TestConfirmTotpEnrollmentOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user := directory.User{ID: uuid.New(), Username: "frank", Email: "frank@example.com"}
	f.directory.AddUser(user)

	offer, err := f.service.StartTotpEnrollment(ctx, user.ID, "phone app")
	require.NoError(t, err)

	code, err := f.codes.GenerateCode(offer.Secret, time.Now().UTC())
	require.NoError(t, err)

	// A different user cannot confirm someone else's enrollment.
	_, err = f.service.ConfirmTotpEnrollment(ctx, f.user.ID, offer.EnrollmentID, code)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestSecondActiveMethodKeepsRecoveryBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The fixture user already has an active method; a second confirmation
	// must not rotate their codes.
	enrollmentID, err := f.service.EnrollDeliveryMethod(ctx, f.user.ID, mfa.KindEmail, f.user.Email, "work email")
	require.NoError(t, err)

	sent := f.notifier.Sent()
	require.NotEmpty(t, sent)
	code := sent[len(sent)-1].Data["code"]

	confirmed, err := f.service.ConfirmDeliveryMethod(ctx, f.user.ID, enrollmentID, code)
	require.NoError(t, err)
	assert.Empty(t, confirmed.RecoveryCodes)
}

func TestDisableMethod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	profile, err := f.service.Profile(ctx, f.user.ID)
	require.NoError(t, err)
	require.Len(t, profile.Enrollments, 1)
	enrollmentID := profile.Enrollments[0].ID

	err = f.service.DisableMethod(ctx, f.user.ID, enrollmentID, "hunter2")
	require.NoError(t, err)

	profile, err = f.service.Profile(ctx, f.user.ID)
	require.NoError(t, err)
	assert.False(t, profile.HasActiveMethod())

	// The stored secret does not survive the disable.
	stored, err := f.enrollments.GetEnrollment(ctx, enrollmentID)
	require.NoError(t, err)
	assert.Equal(t, mfa.TotpMethod{}, stored.Method)

	// The disabled method no longer verifies.
	result := f.service.AssessAndVerify(ctx, f.request(t, f.currentCode(t)))
	assert.Equal(t, OutcomeFailed, result.Outcome)
}

func TestDisableMethodRequiresReauth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.service.passwords = stubPasswords{ok: false}

	profile, err := f.service.Profile(ctx, f.user.ID)
	require.NoError(t, err)
	enrollmentID := profile.Enrollments[0].ID

	err = f.service.DisableMethod(ctx, f.user.ID, enrollmentID, "wrong")
	assert.True(t, errors.IsCode(err, errors.ErrCodeAuthFailed))
}

func TestRegenerateRecoveryCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.recovery.GenerateBatch(ctx, f.user.ID)
	require.NoError(t, err)

	second, err := f.service.RegenerateRecoveryCodes(ctx, f.user.ID, "hunter2")
	require.NoError(t, err)
	require.Len(t, second, 10)
	assert.NotEqual(t, first, second)

	// The old batch is dead.
	request := f.request(t, first[0])
	request.Method = mfa.KindRecovery
	result := f.service.AssessAndVerify(ctx, request)
	assert.Equal(t, OutcomeFailed, result.Outcome)

	var regeneratedNotices int
	for _, n := range f.notifier.Sent() {
		if n.NoticeType == notification.NoticeRecoveryRegenerated {
			regeneratedNotices++
		}
	}
	assert.Equal(t, 1, regeneratedNotices)
}

func TestSetTwoFactorForced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.SetTwoFactorForced(ctx, f.user.ID, true))

	profile, err := f.service.Profile(ctx, f.user.ID)
	require.NoError(t, err)
	assert.True(t, profile.TwoFactorForced)
}
