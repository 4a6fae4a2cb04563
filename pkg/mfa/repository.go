package mfa

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Enrollment is one enrolled second-factor method for one user. A method is
// usable for verification only after it has been confirmed and while it is
// not disabled.
type Enrollment struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Method      Method
	DisplayName string
	EnrolledAt  time.Time
	ConfirmedAt *time.Time
	DisabledAt  *time.Time
}

// Active reports whether the enrollment can be used for verification.
func (e Enrollment) Active() bool {
	return e.ConfirmedAt != nil && e.DisabledAt == nil
}

// SecurityProfile is the aggregate 2FA posture of a user.
type SecurityProfile struct {
	UserID             uuid.UUID
	Enrollments        []Enrollment
	TwoFactorForced    bool // admin-forced 2FA, overrides an Allow recommendation
	PreferredKind      Kind
	RecoveryCodesAlive int
}

// HasActiveMethod reports whether any confirmed, enabled method exists.
func (p SecurityProfile) HasActiveMethod() bool {
	for _, e := range p.Enrollments {
		if e.Active() {
			return true
		}
	}
	return false
}

// ActiveByKind returns the first active enrollment of the given kind.
func (p SecurityProfile) ActiveByKind(kind Kind) (Enrollment, bool) {
	for _, e := range p.Enrollments {
		if e.Active() && e.Method.Kind() == kind {
			return e, true
		}
	}
	return Enrollment{}, false
}

// EnrollmentRepository stores second-factor enrollments and per-user policy
// flags.
type EnrollmentRepository interface {
	CreateEnrollment(ctx context.Context, enrollment Enrollment) (Enrollment, error)
	GetEnrollment(ctx context.Context, id uuid.UUID) (Enrollment, error)
	FindEnrollmentsByUser(ctx context.Context, userID uuid.UUID) ([]Enrollment, error)
	ConfirmEnrollment(ctx context.Context, id uuid.UUID, confirmedAt time.Time) error
	// DisableEnrollment turns the method off and wipes its stored secret
	// material. The row survives for display and history.
	DisableEnrollment(ctx context.Context, id uuid.UUID, disabledAt time.Time) error

	GetTwoFactorForced(ctx context.Context, userID uuid.UUID) (bool, error)
	SetTwoFactorForced(ctx context.Context, userID uuid.UUID, forced bool) error

	// Transaction support
	WithTx(tx interface{}) EnrollmentRepository
}
