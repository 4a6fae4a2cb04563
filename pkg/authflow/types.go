package authflow

import (
	"time"

	"github.com/google/uuid"

	"github.com/blogpress/authguard/pkg/mfa"
	"github.com/blogpress/authguard/pkg/risk"
)

// State is the verification flow state. Every transition is recorded as an
// audit event, including early returns.
type State string

const (
	StateStarted        State = "started"
	StateRiskAssessed   State = "risk_assessed"
	StateMethodSelected State = "method_selected"
	StateVerified       State = "verified"
	StateFailed         State = "failed"
	StateLocked         State = "locked"
	StateBlocked        State = "blocked"
)

// Outcome is the terminal result of a verification attempt.
type Outcome string

const (
	OutcomeVerified Outcome = "verified"
	OutcomeFailed   Outcome = "failed"
	OutcomeLocked   Outcome = "locked"
	OutcomeBlocked  Outcome = "blocked"
)

// Request is one verification attempt. Every operation takes the user and
// request context explicitly; there is no ambient "current user".
type Request struct {
	UserID uuid.UUID
	Method mfa.Kind

	// Code is the submitted TOTP code, delivered passcode, or recovery code.
	Code string
	// AssertionCeremonyID and AssertionResponse carry hardware key logins.
	AssertionCeremonyID string
	AssertionResponse   []byte

	IP          string
	UserAgent   string
	Fingerprint string
	SessionID   string

	// RememberDevice asks for a device-trust grant after success.
	RememberDevice bool
	TrustTTL       time.Duration

	// At defaults to now; tests pin it.
	At time.Time
}

// Result is what the caller gets back. Message is safe to show to the user
// and never reveals which check failed.
type Result struct {
	Outcome          Outcome             `json:"outcome"`
	State            State               `json:"state"`
	RiskScore        int                 `json:"risk_score"`
	Recommendation   risk.Recommendation `json:"recommendation,omitempty"`
	FlaggedForReview bool                `json:"flagged_for_review,omitempty"`
	DeviceTrusted    bool                `json:"device_trusted,omitempty"`
	RecoveryRemaining int                `json:"recovery_remaining,omitempty"`
	LockedUntil      *time.Time          `json:"locked_until,omitempty"`
	Message          string              `json:"message"`
}

// Generic user-facing messages. Internal detail stays in audit events and
// logs so responses cannot be used as an oracle.
const (
	msgVerified = "verification successful"
	msgFailed   = "verification failed"
	msgLocked   = "too many attempts, try again later"
	msgBlocked  = "verification is not available right now"
)
