package authflow

import (
	"context"
	"fmt"

	"github.com/blogpress/authguard/pkg/audit"
	"github.com/blogpress/authguard/pkg/device"
	"github.com/blogpress/authguard/pkg/errors"
	"github.com/blogpress/authguard/pkg/mfa"
	"github.com/blogpress/authguard/pkg/risk"
)

// LoadUserStep resolves the user and their enrollments.
type LoadUserStep struct{}

func (s *LoadUserStep) Name() string { return "load_user" }
func (s *LoadUserStep) Order() int   { return 10 }
func (s *LoadUserStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return false
}

func (s *LoadUserStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	service := flowContext.Service

	user, err := service.directory.FindUser(ctx, flowContext.Request.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}
	enrollments, err := service.enrollments.FindEnrollmentsByUser(ctx, flowContext.Request.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load enrollments: %w", err)
	}

	flowContext.User = user
	flowContext.Enrollments = enrollments
	return &StepResult{Continue: true}, nil
}

// LockoutCheckStep rejects attempts during an active cooldown before any
// verification runs, so a correct code during cooldown still comes back
// Locked.
type LockoutCheckStep struct{}

func (s *LockoutCheckStep) Name() string { return "lockout_check" }
func (s *LockoutCheckStep) Order() int   { return 20 }
func (s *LockoutCheckStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return false
}

func (s *LockoutCheckStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	service := flowContext.Service
	request := flowContext.Request

	for _, key := range service.lockoutKeys(request) {
		locked, until, err := service.lockouts.IsLocked(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to check lockout: %w", err)
		}
		if locked {
			service.record(ctx, flowContext, audit.Event{
				Type:     audit.EventPolicyBlock,
				Severity: audit.SeverityWarning,
				Details:  map[string]interface{}{"reason": "lockout_active", "key": key},
			})
			flowContext.Result.Outcome = OutcomeLocked
			flowContext.Result.State = StateLocked
			flowContext.Result.LockedUntil = &until
			flowContext.Result.Message = msgLocked
			return &StepResult{EarlyReturn: true}, nil
		}
	}
	return &StepResult{Continue: true}, nil
}

// RiskAssessmentStep scores the attempt and records the assessment.
type RiskAssessmentStep struct{}

func (s *RiskAssessmentStep) Name() string { return "risk_assessment" }
func (s *RiskAssessmentStep) Order() int   { return 30 }
func (s *RiskAssessmentStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return false
}

func (s *RiskAssessmentStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	service := flowContext.Service
	request := flowContext.Request

	assessment, err := service.riskEngine.Assess(ctx, risk.Input{
		UserID:      request.UserID,
		IP:          request.IP,
		UserAgent:   request.UserAgent,
		Fingerprint: request.Fingerprint,
		At:          request.At,
		Location:    &flowContext.Location,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to assess risk: %w", err)
	}

	flowContext.Assessment = &assessment
	flowContext.Result.State = StateRiskAssessed
	flowContext.Result.RiskScore = assessment.Score
	flowContext.Result.Recommendation = assessment.Recommendation
	flowContext.Result.FlaggedForReview = assessment.Recommendation == risk.RecommendTwoFactorAndReview

	service.record(ctx, flowContext, audit.Event{
		Type: audit.EventRiskAssessed,
		Details: map[string]interface{}{
			"score":          assessment.Score,
			"recommendation": string(assessment.Recommendation),
		},
	})

	if flowContext.Result.FlaggedForReview {
		service.record(ctx, flowContext, audit.Event{
			Type:     audit.EventAnomalyFlagged,
			Severity: audit.SeverityWarning,
			Details: map[string]interface{}{
				"score":   assessment.Score,
				"factors": assessment.Factors,
			},
		})
	}
	return &StepResult{Continue: true}, nil
}

// PolicyGateStep enforces a Block recommendation before verification; a
// correct code cannot override it.
type PolicyGateStep struct{}

func (s *PolicyGateStep) Name() string { return "policy_gate" }
func (s *PolicyGateStep) Order() int   { return 40 }
func (s *PolicyGateStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return flowContext.Assessment == nil
}

func (s *PolicyGateStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	if flowContext.Assessment.Recommendation != risk.RecommendBlock {
		return &StepResult{Continue: true}, nil
	}

	service := flowContext.Service
	service.record(ctx, flowContext, audit.Event{
		Type:     audit.EventPolicyBlock,
		Severity: audit.SeverityCritical,
		Details: map[string]interface{}{
			"reason": "risk_block",
			"score":  flowContext.Assessment.Score,
		},
	})
	flowContext.Result.Outcome = OutcomeBlocked
	flowContext.Result.State = StateBlocked
	flowContext.Result.Message = msgBlocked
	return &StepResult{EarlyReturn: true}, nil
}

// VerifyMethodStep dispatches to the verifier for the requested method and
// applies the failure taxonomy: validation errors do not advance the
// lockout counter, authentication failures and replays do.
type VerifyMethodStep struct{}

func (s *VerifyMethodStep) Name() string { return "verify_method" }
func (s *VerifyMethodStep) Order() int   { return 50 }
func (s *VerifyMethodStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return false
}

func (s *VerifyMethodStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	service := flowContext.Service
	flowContext.Result.State = StateMethodSelected

	err := service.verifyMethod(ctx, flowContext)
	if err == nil {
		if flowContext.Request.Method == mfa.KindRecovery {
			service.record(ctx, flowContext, audit.Event{
				Type: audit.EventRecoveryConsumed,
			})
		}
		return &StepResult{Continue: true}, nil
	}

	code := errors.GetCode(err)
	switch code {
	case errors.ErrCodeReplayDetected:
		service.record(ctx, flowContext, audit.Event{
			Type:     audit.EventReplayDetected,
			Severity: audit.SeverityCritical,
			Details:  map[string]interface{}{"error": err.Error()},
		})
		if flowContext.Request.Method == mfa.KindHardwareKey {
			// The credential was disabled by the ceremony manager.
			service.record(ctx, flowContext, audit.Event{
				Type:     audit.EventCredentialDisabled,
				Severity: audit.SeverityCritical,
			})
		}
	default:
		service.record(ctx, flowContext, audit.Event{
			Type:     audit.EventVerificationFailure,
			Severity: audit.SeverityWarning,
			Details:  map[string]interface{}{"code": string(code)},
		})
	}

	flowContext.Result.Outcome = OutcomeFailed
	flowContext.Result.State = StateFailed
	flowContext.Result.Message = msgFailed

	if errors.CountsTowardLockout(err) {
		if lockedUntil := service.registerFailure(ctx, flowContext); lockedUntil != nil {
			flowContext.Result.Outcome = OutcomeLocked
			flowContext.Result.State = StateLocked
			flowContext.Result.LockedUntil = lockedUntil
			flowContext.Result.Message = msgLocked
		}
	}
	return &StepResult{EarlyReturn: true}, nil
}

// FinalizeStep records success, clears counters, and grants device trust
// when the user asked to be remembered.
type FinalizeStep struct{}

func (s *FinalizeStep) Name() string { return "finalize" }
func (s *FinalizeStep) Order() int   { return 60 }
func (s *FinalizeStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return false
}

func (s *FinalizeStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	service := flowContext.Service
	request := flowContext.Request

	for _, key := range service.lockoutKeys(request) {
		if err := service.lockouts.Reset(ctx, key); err != nil {
			return nil, fmt.Errorf("failed to reset lockout counter: %w", err)
		}
	}

	service.record(ctx, flowContext, audit.Event{
		Type: audit.EventVerificationSuccess,
		Details: map[string]interface{}{
			"risk_score": flowContext.Result.RiskScore,
		},
	})

	if request.RememberDevice && request.Fingerprint != "" {
		trust, err := service.devices.Trust(ctx, device.TrustRequest{
			UserID:      request.UserID,
			Fingerprint: request.Fingerprint,
			UserAgent:   request.UserAgent,
			IP:          request.IP,
			SessionID:   request.SessionID,
			TTL:         request.TrustTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to grant device trust: %w", err)
		}
		service.record(ctx, flowContext, audit.Event{
			Type:    audit.EventDeviceTrusted,
			Details: map[string]interface{}{"trust_id": trust.ID.String(), "expires_at": trust.ExpiresAt},
		})
		flowContext.Result.DeviceTrusted = true
	}

	remaining, err := service.recovery.Remaining(ctx, request.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to count recovery codes: %w", err)
	}

	flowContext.Result.Outcome = OutcomeVerified
	flowContext.Result.State = StateVerified
	flowContext.Result.RecoveryRemaining = remaining
	flowContext.Result.Message = msgVerified
	return &StepResult{Continue: true}, nil
}
