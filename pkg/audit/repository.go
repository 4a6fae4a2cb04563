package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType classifies audit events.
type EventType string

const (
	EventChallengeIssued      EventType = "challenge_issued"
	EventVerificationSuccess  EventType = "verification_success"
	EventVerificationFailure  EventType = "verification_failure"
	EventReplayDetected       EventType = "replay_detected"
	EventPolicyBlock          EventType = "policy_block"
	EventLockout              EventType = "lockout"
	EventRiskAssessed         EventType = "risk_assessed"
	EventMethodEnrolled       EventType = "method_enrolled"
	EventMethodConfirmed      EventType = "method_confirmed"
	EventMethodDisabled       EventType = "method_disabled"
	EventRecoveryConsumed     EventType = "recovery_code_consumed"
	EventRecoveryRegenerated  EventType = "recovery_codes_regenerated"
	EventDeviceTrusted        EventType = "device_trusted"
	EventDeviceRevoked        EventType = "device_revoked"
	EventCredentialDisabled   EventType = "credential_disabled"
	EventStepUpRequired       EventType = "step_up_required"
	EventAnomalyFlagged       EventType = "anomaly_flagged"
)

// Severity grades an event for alerting.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is one append-only audit record. Events are never updated or
// individually deleted; the only removal path is the retention purge.
type Event struct {
	ID          uuid.UUID              `json:"id"`
	UserID      uuid.UUID              `json:"user_id"`
	Type        EventType              `json:"type"`
	Severity    Severity               `json:"severity"`
	Method      string                 `json:"method,omitempty"`
	IP          string                 `json:"ip,omitempty"`
	Country     string                 `json:"country,omitempty"`
	Latitude    float64                `json:"latitude,omitempty"`
	Longitude   float64                `json:"longitude,omitempty"`
	Fingerprint string                 `json:"fingerprint,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// Success reports whether the event is a successful verification.
func (e Event) Success() bool {
	return e.Type == EventVerificationSuccess
}

// Failure reports whether the event is a failed or replayed verification.
func (e Event) Failure() bool {
	return e.Type == EventVerificationFailure || e.Type == EventReplayDetected
}

// EventRepository is the append-only event store.
type EventRepository interface {
	AppendEvent(ctx context.Context, event Event) error
	// FindRecentByUser returns events for the user newer than since, newest
	// first, at most limit.
	FindRecentByUser(ctx context.Context, userID uuid.UUID, since time.Time, limit int) ([]Event, error)
	CountFailuresByUserSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
	CountFailuresByIPSince(ctx context.Context, ip string, since time.Time) (int, error)
	// PurgeOlderThan removes events older than the cutoff and returns how
	// many were removed.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// Transaction support
	WithTx(tx interface{}) EventRepository
}
