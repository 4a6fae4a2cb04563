package authflow

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/google/uuid"

	"github.com/blogpress/authguard/pkg/audit"
	"github.com/blogpress/authguard/pkg/device"
	"github.com/blogpress/authguard/pkg/directory"
	"github.com/blogpress/authguard/pkg/errors"
	"github.com/blogpress/authguard/pkg/geoip"
	"github.com/blogpress/authguard/pkg/mfa"
	"github.com/blogpress/authguard/pkg/notification"
	"github.com/blogpress/authguard/pkg/passkey"
	"github.com/blogpress/authguard/pkg/recovery"
	"github.com/blogpress/authguard/pkg/risk"
	"github.com/blogpress/authguard/pkg/totp"
)

// PasswordVerifier is the re-authentication collaborator for
// security-sensitive management operations. Password storage lives outside
// this subsystem.
type PasswordVerifier interface {
	VerifyPassword(ctx context.Context, userID uuid.UUID, password string) (bool, error)
}

// Policy holds the orchestrator's tunables.
type Policy struct {
	Lockout LockoutPolicy
	// FallbackEmailOTP controls what happens when risk requires a second
	// factor but the user has no enrolled method: when true an email OTP
	// method is auto-enrolled against the directory address; when false
	// the user must enroll first.
	FallbackEmailOTP bool
}

func DefaultPolicy() Policy {
	return Policy{
		Lockout:          DefaultLockoutPolicy(),
		FallbackEmailOTP: true,
	}
}

// Deps wires the orchestrator's collaborators.
type Deps struct {
	Codes       *totp.Engine // authenticator codes, 30-second period
	Passcodes   *totp.Engine // delivered passcodes, 300-second period
	Recovery    *recovery.Service
	Passkeys    *passkey.Service
	Devices     *device.DeviceService
	RiskEngine  *risk.Engine
	Audit       *audit.Service
	Enrollments mfa.EnrollmentRepository
	Directory   directory.Directory
	Geo         geoip.Resolver
	Lockouts    LockoutStore
	Notifier    *notification.Manager
	Passwords   PasswordVerifier
}

// Service is the 2FA orchestrator: the only component that decides. It runs
// verification as an ordered step flow and owns method lifecycle, lockout,
// and device-trust grants.
type Service struct {
	codes       *totp.Engine
	passcodes   *totp.Engine
	recovery    *recovery.Service
	passkeys    *passkey.Service
	devices     *device.DeviceService
	riskEngine  *risk.Engine
	audit       *audit.Service
	enrollments mfa.EnrollmentRepository
	directory   directory.Directory
	geo         geoip.Resolver
	lockouts    LockoutStore
	notifier    *notification.Manager
	passwords   PasswordVerifier
	policy      Policy
	registry    *StepRegistry
}

func NewService(deps Deps, policy Policy) *Service {
	registry := NewStepRegistry().
		AddStep(&LoadUserStep{}).
		AddStep(&LockoutCheckStep{}).
		AddStep(&RiskAssessmentStep{}).
		AddStep(&PolicyGateStep{}).
		AddStep(&VerifyMethodStep{}).
		AddStep(&FinalizeStep{})

	return &Service{
		codes:       deps.Codes,
		passcodes:   deps.Passcodes,
		recovery:    deps.Recovery,
		passkeys:    deps.Passkeys,
		devices:     deps.Devices,
		riskEngine:  deps.RiskEngine,
		audit:       deps.Audit,
		enrollments: deps.Enrollments,
		directory:   deps.Directory,
		geo:         deps.Geo,
		lockouts:    deps.Lockouts,
		notifier:    deps.Notifier,
		passwords:   deps.Passwords,
		policy:      policy,
		registry:    registry,
	}
}

// AssessAndVerify runs one verification attempt end to end: lockout check,
// risk assessment, policy gate, method verification, and finalization. The
// returned Result carries a generic message only; the audit log holds the
// specifics.
func (s *Service) AssessAndVerify(ctx context.Context, request Request) Result {
	if request.At.IsZero() {
		request.At = time.Now().UTC()
	}
	return s.execute(ctx, request)
}

// IsStepUpRequired reports whether the current context needs a second
// factor: admin-forced 2FA always does, a policy-exempt user never does,
// and otherwise a trusted device with an Allow recommendation passes
// without one.
func (s *Service) IsStepUpRequired(ctx context.Context, userID uuid.UUID, ip, userAgent, fingerprint string) (bool, error) {
	user, err := s.directory.FindUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to resolve user: %w", err)
	}
	if user.TwoFactorExempt {
		return false, nil
	}

	forced, err := s.enrollments.GetTwoFactorForced(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to load policy: %w", err)
	}
	if forced {
		return true, nil
	}

	assessment, err := s.riskEngine.Assess(ctx, risk.Input{
		UserID:      userID,
		IP:          ip,
		UserAgent:   userAgent,
		Fingerprint: fingerprint,
	})
	if err != nil {
		return false, fmt.Errorf("failed to assess risk: %w", err)
	}
	if assessment.Recommendation != risk.RecommendAllow {
		return true, nil
	}

	trusted, err := s.devices.IsTrusted(ctx, userID, fingerprint, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to check device trust: %w", err)
	}
	return !trusted, nil
}

// SelectMethod picks the method to challenge with: the user's preferred
// active method, else any active one. With no enrolled method the outcome
// depends on policy: auto-enroll an email OTP against the directory
// address, or require enrollment.
func (s *Service) SelectMethod(ctx context.Context, userID uuid.UUID) (mfa.Enrollment, error) {
	enrollments, err := s.enrollments.FindEnrollmentsByUser(ctx, userID)
	if err != nil {
		return mfa.Enrollment{}, fmt.Errorf("failed to load enrollments: %w", err)
	}
	for _, e := range enrollments {
		if e.Active() {
			return e, nil
		}
	}

	if !s.policy.FallbackEmailOTP {
		return mfa.Enrollment{}, errors.New(errors.ErrCodeMethodNotEnrolled, "no second factor enrolled")
	}

	user, err := s.directory.FindUser(ctx, userID)
	if err != nil {
		return mfa.Enrollment{}, fmt.Errorf("failed to resolve user: %w", err)
	}
	if user.Email == "" {
		return mfa.Enrollment{}, errors.New(errors.ErrCodeMethodNotEnrolled, "no second factor enrolled")
	}

	secret, err := randomSecret()
	if err != nil {
		return mfa.Enrollment{}, fmt.Errorf("failed to generate fallback secret: %w", err)
	}
	now := time.Now().UTC()
	enrollment, err := s.enrollments.CreateEnrollment(ctx, mfa.Enrollment{
		UserID:      userID,
		Method:      mfa.EmailMethod{Address: user.Email, Secret: secret},
		DisplayName: "email fallback",
		EnrolledAt:  now,
		ConfirmedAt: &now, // delivery to the directory address is the confirmation
	})
	if err != nil {
		return mfa.Enrollment{}, fmt.Errorf("failed to enroll fallback method: %w", err)
	}

	slog.Info("auto-enrolled email fallback", "userID", userID)
	s.recordLifecycle(ctx, userID, audit.EventMethodEnrolled, mfa.KindEmail)
	return enrollment, nil
}

// SendPasscode generates and delivers a passcode for an email or SMS
// method. Delivery failure is recoverable and never a verification failure.
func (s *Service) SendPasscode(ctx context.Context, userID uuid.UUID, kind mfa.Kind) error {
	if kind != mfa.KindEmail && kind != mfa.KindSms {
		return errors.InvalidInput("method", "passcodes are only delivered for email and sms")
	}

	enrollments, err := s.enrollments.FindEnrollmentsByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load enrollments: %w", err)
	}

	var destination, secret string
	found := false
	for _, e := range enrollments {
		if !e.Active() || e.Method.Kind() != kind {
			continue
		}
		switch m := e.Method.(type) {
		case mfa.EmailMethod:
			destination, secret = m.Address, m.Secret
		case mfa.SmsMethod:
			destination, secret = m.PhoneNumber, m.Secret
		}
		found = true
		break
	}
	if !found {
		return errors.New(errors.ErrCodeMethodNotEnrolled, "method not enrolled")
	}

	code, err := s.passcodes.GenerateCode(secret, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to generate passcode: %w", err)
	}

	channel := notification.ChannelEmail
	if kind == mfa.KindSms {
		channel = notification.ChannelSMS
	}
	err = s.notifier.Send(notification.NoticePasscode, channel, notification.NotificationData{
		To: destination,
		Data: map[string]string{
			"code":            code,
			"expires_minutes": strconv.Itoa(int(s.passcodes.Period() / 60)),
		},
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDeliveryFailed, "passcode delivery failed")
	}

	s.recordLifecycle(ctx, userID, audit.EventChallengeIssued, kind)
	return nil
}

// BeginHardwareKeyLogin starts a WebAuthn login ceremony for the user.
func (s *Service) BeginHardwareKeyLogin(ctx context.Context, userID uuid.UUID) (*protocol.CredentialAssertion, string, error) {
	user, err := s.directory.FindUser(ctx, userID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve user: %w", err)
	}
	options, ceremonyID, err := s.passkeys.BeginLogin(ctx, user)
	if err != nil {
		return nil, "", err
	}
	s.recordLifecycle(ctx, userID, audit.EventChallengeIssued, mfa.KindHardwareKey)
	return options, ceremonyID, nil
}

// verifyMethod dispatches to the verifier for the requested method.
func (s *Service) verifyMethod(ctx context.Context, flowContext *FlowContext) error {
	request := flowContext.Request

	switch request.Method {
	case mfa.KindRecovery:
		return s.recovery.Consume(ctx, request.UserID, request.Code)

	case mfa.KindTotp:
		enrollment, ok := activeByKind(flowContext.Enrollments, mfa.KindTotp)
		if !ok {
			return errors.New(errors.ErrCodeMethodNotEnrolled, "method not enrolled")
		}
		method := enrollment.Method.(mfa.TotpMethod)
		return s.codes.Verify(ctx, request.UserID, method.Secret, request.Code, request.At)

	case mfa.KindEmail, mfa.KindSms:
		enrollment, ok := activeByKind(flowContext.Enrollments, request.Method)
		if !ok {
			return errors.New(errors.ErrCodeMethodNotEnrolled, "method not enrolled")
		}
		var secret string
		switch m := enrollment.Method.(type) {
		case mfa.EmailMethod:
			secret = m.Secret
		case mfa.SmsMethod:
			secret = m.Secret
		}
		return s.passcodes.Verify(ctx, request.UserID, secret, request.Code, request.At)

	case mfa.KindHardwareKey:
		if request.AssertionCeremonyID == "" || len(request.AssertionResponse) == 0 {
			return errors.New(errors.ErrCodeValidation, "missing assertion")
		}
		_, err := s.passkeys.FinishLogin(ctx, flowContext.User, request.AssertionCeremonyID, bytes.NewReader(request.AssertionResponse))
		return err

	default:
		return errors.New(errors.ErrCodeValidation, "unsupported method")
	}
}

// registerFailure advances both lockout counters and returns the lockout
// expiry when either key crossed the threshold.
func (s *Service) registerFailure(ctx context.Context, flowContext *FlowContext) *time.Time {
	var lockedUntil *time.Time
	for _, key := range s.lockoutKeys(flowContext.Request) {
		locked, failures, err := s.lockouts.RegisterFailure(ctx, key, s.policy.Lockout)
		if err != nil {
			slog.Error("failed to register verification failure", "key", key, "err", err)
			continue
		}
		if locked {
			until := time.Now().UTC().Add(s.policy.Lockout.Cooldown)
			lockedUntil = &until
			slog.Warn("lockout engaged", "key", key, "failures", failures)
		}
	}

	if lockedUntil != nil {
		s.record(ctx, flowContext, audit.Event{
			Type:     audit.EventLockout,
			Severity: audit.SeverityWarning,
			Details:  map[string]interface{}{"until": lockedUntil.Format(time.RFC3339)},
		})
		s.notifyLockout(flowContext.User, *lockedUntil)
	}
	return lockedUntil
}

// notifyLockout tells the user their account is cooling down. Best effort.
func (s *Service) notifyLockout(user directory.User, until time.Time) {
	if user.Email == "" {
		return
	}
	err := s.notifier.Send(notification.NoticeLockout, notification.ChannelEmail, notification.NotificationData{
		To:   user.Email,
		Data: map[string]string{"until": until.Format(time.RFC1123)},
	})
	if err != nil {
		slog.Error("failed to send lockout notice", "userID", user.ID, "err", err)
	}
}

func (s *Service) lockoutKeys(request Request) []string {
	keys := []string{
		fmt.Sprintf("user:%s:%s", request.UserID, request.Method),
	}
	if request.IP != "" {
		keys = append(keys, "ip:"+request.IP)
	}
	return keys
}

// record appends an audit event enriched with the request context and, when
// available, the resolved geo country.
func (s *Service) record(ctx context.Context, flowContext *FlowContext, event audit.Event) {
	request := flowContext.Request
	event.UserID = request.UserID
	event.Method = string(request.Method)
	event.IP = request.IP
	event.Fingerprint = request.Fingerprint
	event.CreatedAt = request.At
	if flowContext.Location.Known {
		event.Country = flowContext.Location.Country
		event.Latitude = flowContext.Location.Latitude
		event.Longitude = flowContext.Location.Longitude
	}
	if err := s.audit.Record(ctx, event); err != nil {
		logAuditFailure(err)
	}
}

func (s *Service) recordLifecycle(ctx context.Context, userID uuid.UUID, eventType audit.EventType, kind mfa.Kind) {
	err := s.audit.Record(ctx, audit.Event{
		UserID: userID,
		Type:   eventType,
		Method: string(kind),
	})
	if err != nil {
		logAuditFailure(err)
	}
}

func logAuditFailure(err error) {
	slog.Error("failed to record audit event", "err", err)
}

func activeByKind(enrollments []mfa.Enrollment, kind mfa.Kind) (mfa.Enrollment, bool) {
	for _, e := range enrollments {
		if e.Active() && e.Method.Kind() == kind {
			return e, true
		}
	}
	return mfa.Enrollment{}, false
}

// randomSecret draws a 160-bit Base32 secret for delivered-passcode
// methods.
func randomSecret() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}
