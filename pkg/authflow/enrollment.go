package authflow

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/google/uuid"

	"github.com/blogpress/authguard/pkg/audit"
	"github.com/blogpress/authguard/pkg/errors"
	"github.com/blogpress/authguard/pkg/mfa"
	"github.com/blogpress/authguard/pkg/notification"
)

// TotpEnrollmentOffer is the provisioning material handed back when a TOTP
// enrollment starts. The secret is shown once.
type TotpEnrollmentOffer struct {
	EnrollmentID uuid.UUID `json:"enrollment_id"`
	Secret       string    `json:"secret"`
	URI          string    `json:"uri"`
}

// ConfirmResult reports a confirmed enrollment. RecoveryCodes is non-empty
// only when this confirmation activated the user's first method; the plain
// codes are never retrievable again.
type ConfirmResult struct {
	Enrollment    mfa.Enrollment `json:"enrollment"`
	RecoveryCodes []string       `json:"recovery_codes,omitempty"`
}

// StartTotpEnrollment generates a secret and stores an unconfirmed
// enrollment. The method cannot verify anything until confirmed.
func (s *Service) StartTotpEnrollment(ctx context.Context, userID uuid.UUID, displayName string) (TotpEnrollmentOffer, error) {
	user, err := s.directory.FindUser(ctx, userID)
	if err != nil {
		return TotpEnrollmentOffer{}, fmt.Errorf("failed to resolve user: %w", err)
	}

	key, err := s.codes.GenerateSecret(user.Username)
	if err != nil {
		return TotpEnrollmentOffer{}, err
	}

	enrollment, err := s.enrollments.CreateEnrollment(ctx, mfa.Enrollment{
		UserID:      userID,
		Method:      mfa.TotpMethod{Secret: key.Secret()},
		DisplayName: displayName,
		EnrolledAt:  time.Now().UTC(),
	})
	if err != nil {
		return TotpEnrollmentOffer{}, fmt.Errorf("failed to store enrollment: %w", err)
	}

	s.recordLifecycle(ctx, userID, audit.EventMethodEnrolled, mfa.KindTotp)
	return TotpEnrollmentOffer{
		EnrollmentID: enrollment.ID,
		Secret:       key.Secret(),
		URI:          key.URL(),
	}, nil
}

// ConfirmTotpEnrollment proves possession of the secret with a live code
// and activates the method.
func (s *Service) ConfirmTotpEnrollment(ctx context.Context, userID, enrollmentID uuid.UUID, code string) (ConfirmResult, error) {
	enrollment, err := s.pendingEnrollment(ctx, userID, enrollmentID, mfa.KindTotp)
	if err != nil {
		return ConfirmResult{}, err
	}

	method := enrollment.Method.(mfa.TotpMethod)
	if err := s.codes.Verify(ctx, userID, method.Secret, code, time.Now().UTC()); err != nil {
		return ConfirmResult{}, err
	}
	return s.activate(ctx, userID, enrollment)
}

// EnrollDeliveryMethod stores an unconfirmed email or SMS method and sends
// a passcode to the destination to prove the user controls it.
func (s *Service) EnrollDeliveryMethod(ctx context.Context, userID uuid.UUID, kind mfa.Kind, destination, displayName string) (uuid.UUID, error) {
	if destination == "" {
		return uuid.Nil, errors.InvalidInput("destination", "destination is required")
	}

	secret, err := randomSecret()
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to generate method secret: %w", err)
	}

	var method mfa.Method
	var channel notification.Channel
	switch kind {
	case mfa.KindEmail:
		method = mfa.EmailMethod{Address: destination, Secret: secret}
		channel = notification.ChannelEmail
	case mfa.KindSms:
		method = mfa.SmsMethod{PhoneNumber: destination, Secret: secret}
		channel = notification.ChannelSMS
	default:
		return uuid.Nil, errors.InvalidInput("method", "only email and sms methods take a destination")
	}

	enrollment, err := s.enrollments.CreateEnrollment(ctx, mfa.Enrollment{
		UserID:      userID,
		Method:      method,
		DisplayName: displayName,
		EnrolledAt:  time.Now().UTC(),
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to store enrollment: %w", err)
	}

	code, err := s.passcodes.GenerateCode(secret, time.Now().UTC())
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to generate passcode: %w", err)
	}
	err = s.notifier.Send(notification.NoticePasscode, channel, notification.NotificationData{
		To:   destination,
		Data: map[string]string{"code": code},
	})
	if err != nil {
		return uuid.Nil, errors.Wrap(err, errors.ErrCodeDeliveryFailed, "passcode delivery failed")
	}

	s.recordLifecycle(ctx, userID, audit.EventMethodEnrolled, kind)
	return enrollment.ID, nil
}

// ConfirmDeliveryMethod activates an email or SMS method once the delivered
// passcode comes back.
func (s *Service) ConfirmDeliveryMethod(ctx context.Context, userID, enrollmentID uuid.UUID, code string) (ConfirmResult, error) {
	enrollment, err := s.enrollments.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return ConfirmResult{}, err
	}
	if enrollment.UserID != userID {
		return ConfirmResult{}, errors.New(errors.ErrCodeNotFound, "enrollment not found")
	}
	if enrollment.ConfirmedAt != nil || enrollment.DisabledAt != nil {
		return ConfirmResult{}, errors.New(errors.ErrCodeMethodNotConfirmed, "enrollment is not pending confirmation")
	}

	var secret string
	switch m := enrollment.Method.(type) {
	case mfa.EmailMethod:
		secret = m.Secret
	case mfa.SmsMethod:
		secret = m.Secret
	default:
		return ConfirmResult{}, errors.InvalidInput("method", "enrollment is not a delivery method")
	}

	if err := s.passcodes.Verify(ctx, userID, secret, code, time.Now().UTC()); err != nil {
		return ConfirmResult{}, err
	}
	return s.activate(ctx, userID, enrollment)
}

// BeginHardwareKeyEnrollment starts a WebAuthn registration ceremony.
func (s *Service) BeginHardwareKeyEnrollment(ctx context.Context, userID uuid.UUID) (*protocol.CredentialCreation, string, error) {
	user, err := s.directory.FindUser(ctx, userID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve user: %w", err)
	}
	return s.passkeys.BeginRegistration(ctx, user)
}

// FinishHardwareKeyEnrollment completes the registration ceremony and
// records the credential as an active method. Attestation proves
// possession, so no separate confirmation round is needed.
func (s *Service) FinishHardwareKeyEnrollment(ctx context.Context, userID uuid.UUID, ceremonyID, displayName string, response []byte) (ConfirmResult, error) {
	user, err := s.directory.FindUser(ctx, userID)
	if err != nil {
		return ConfirmResult{}, fmt.Errorf("failed to resolve user: %w", err)
	}

	credential, err := s.passkeys.FinishRegistration(ctx, user, ceremonyID, displayName, bytes.NewReader(response))
	if err != nil {
		return ConfirmResult{}, err
	}

	now := time.Now().UTC()
	enrollment, err := s.enrollments.CreateEnrollment(ctx, mfa.Enrollment{
		UserID:      userID,
		Method:      mfa.HardwareKeyMethod{CredentialID: credential.ID.String()},
		DisplayName: displayName,
		EnrolledAt:  now,
	})
	if err != nil {
		return ConfirmResult{}, fmt.Errorf("failed to store enrollment: %w", err)
	}

	s.recordLifecycle(ctx, userID, audit.EventMethodEnrolled, mfa.KindHardwareKey)
	return s.activate(ctx, userID, enrollment)
}

// DisableMethod turns a method off after password re-authentication. The
// stored secret material is wiped; the audit log keeps the history.
func (s *Service) DisableMethod(ctx context.Context, userID, enrollmentID uuid.UUID, password string) error {
	ok, err := s.passwords.VerifyPassword(ctx, userID, password)
	if err != nil {
		return fmt.Errorf("failed to re-authenticate: %w", err)
	}
	if !ok {
		return errors.New(errors.ErrCodeAuthFailed, "re-authentication failed")
	}

	enrollment, err := s.enrollments.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return err
	}
	if enrollment.UserID != userID {
		return errors.New(errors.ErrCodeNotFound, "enrollment not found")
	}

	if err := s.enrollments.DisableEnrollment(ctx, enrollmentID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to disable enrollment: %w", err)
	}
	if hk, ok := enrollment.Method.(mfa.HardwareKeyMethod); ok {
		credentialID, err := uuid.Parse(hk.CredentialID)
		if err != nil {
			return fmt.Errorf("failed to parse credential id: %w", err)
		}
		if err := s.passkeys.DisableCredential(ctx, userID, credentialID); err != nil {
			return fmt.Errorf("failed to disable credential: %w", err)
		}
	}

	s.recordLifecycle(ctx, userID, audit.EventMethodDisabled, enrollment.Method.Kind())
	return nil
}

// RegenerateRecoveryCodes replaces the whole batch after password
// re-authentication and tells the user it happened.
func (s *Service) RegenerateRecoveryCodes(ctx context.Context, userID uuid.UUID, password string) ([]string, error) {
	ok, err := s.passwords.VerifyPassword(ctx, userID, password)
	if err != nil {
		return nil, fmt.Errorf("failed to re-authenticate: %w", err)
	}
	if !ok {
		return nil, errors.New(errors.ErrCodeAuthFailed, "re-authentication failed")
	}

	codes, err := s.recovery.GenerateBatch(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.recordLifecycle(ctx, userID, audit.EventRecoveryRegenerated, mfa.KindRecovery)
	if user, err := s.directory.FindUser(ctx, userID); err == nil && user.Email != "" {
		notifyErr := s.notifier.Send(notification.NoticeRecoveryRegenerated, notification.ChannelEmail, notification.NotificationData{
			To:   user.Email,
			Data: map[string]string{"count": fmt.Sprintf("%d", len(codes))},
		})
		if notifyErr != nil {
			logNotifyFailure(notifyErr)
		}
	}
	return codes, nil
}

// SetTwoFactorForced flips the admin policy bit that makes step-up
// mandatory regardless of risk.
func (s *Service) SetTwoFactorForced(ctx context.Context, userID uuid.UUID, forced bool) error {
	if err := s.enrollments.SetTwoFactorForced(ctx, userID, forced); err != nil {
		return fmt.Errorf("failed to update policy: %w", err)
	}
	s.recordLifecycle(ctx, userID, audit.EventStepUpRequired, "")
	return nil
}

// Profile assembles the user's current second-factor posture.
func (s *Service) Profile(ctx context.Context, userID uuid.UUID) (mfa.SecurityProfile, error) {
	enrollments, err := s.enrollments.FindEnrollmentsByUser(ctx, userID)
	if err != nil {
		return mfa.SecurityProfile{}, fmt.Errorf("failed to load enrollments: %w", err)
	}
	forced, err := s.enrollments.GetTwoFactorForced(ctx, userID)
	if err != nil {
		return mfa.SecurityProfile{}, fmt.Errorf("failed to load policy: %w", err)
	}
	remaining, err := s.recovery.Remaining(ctx, userID)
	if err != nil {
		return mfa.SecurityProfile{}, fmt.Errorf("failed to count recovery codes: %w", err)
	}

	profile := mfa.SecurityProfile{
		UserID:             userID,
		Enrollments:        enrollments,
		TwoFactorForced:    forced,
		RecoveryCodesAlive: remaining,
	}
	for _, e := range enrollments {
		if e.Active() {
			profile.PreferredKind = e.Method.Kind()
			break
		}
	}
	return profile, nil
}

// pendingEnrollment loads an enrollment and checks it belongs to the user,
// matches the kind, and is still awaiting confirmation.
func (s *Service) pendingEnrollment(ctx context.Context, userID, enrollmentID uuid.UUID, kind mfa.Kind) (mfa.Enrollment, error) {
	enrollment, err := s.enrollments.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return mfa.Enrollment{}, err
	}
	if enrollment.UserID != userID || enrollment.Method.Kind() != kind {
		return mfa.Enrollment{}, errors.New(errors.ErrCodeNotFound, "enrollment not found")
	}
	if enrollment.ConfirmedAt != nil || enrollment.DisabledAt != nil {
		return mfa.Enrollment{}, errors.New(errors.ErrCodeMethodNotConfirmed, "enrollment is not pending confirmation")
	}
	return enrollment, nil
}

// activate confirms the enrollment. The first active method also gets a
// fresh recovery batch so the user cannot enroll themselves into a state
// with no backup path.
func (s *Service) activate(ctx context.Context, userID uuid.UUID, enrollment mfa.Enrollment) (ConfirmResult, error) {
	existing, err := s.enrollments.FindEnrollmentsByUser(ctx, userID)
	if err != nil {
		return ConfirmResult{}, fmt.Errorf("failed to load enrollments: %w", err)
	}
	firstActive := true
	for _, e := range existing {
		if e.ID != enrollment.ID && e.Active() {
			firstActive = false
			break
		}
	}

	now := time.Now().UTC()
	if err := s.enrollments.ConfirmEnrollment(ctx, enrollment.ID, now); err != nil {
		return ConfirmResult{}, fmt.Errorf("failed to confirm enrollment: %w", err)
	}
	enrollment.ConfirmedAt = &now
	s.recordLifecycle(ctx, userID, audit.EventMethodConfirmed, enrollment.Method.Kind())

	result := ConfirmResult{Enrollment: enrollment}
	if firstActive {
		codes, err := s.recovery.GenerateBatch(ctx, userID)
		if err != nil {
			return ConfirmResult{}, err
		}
		result.RecoveryCodes = codes
		s.recordLifecycle(ctx, userID, audit.EventRecoveryRegenerated, mfa.KindRecovery)
	}
	return result, nil
}

func logNotifyFailure(err error) {
	// Delivery problems never fail the operation that triggered them.
	slog.Error("failed to send notification", "err", err)
}
