package mfa

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blogpress/authguard/pkg/errors"
)

// InMemEnrollmentRepository implements EnrollmentRepository with in-memory
// maps. Used in tests and single-node deployments.
type InMemEnrollmentRepository struct {
	mu          sync.RWMutex
	enrollments map[uuid.UUID]Enrollment
	forced      map[uuid.UUID]bool
}

func NewInMemEnrollmentRepository() *InMemEnrollmentRepository {
	return &InMemEnrollmentRepository{
		enrollments: make(map[uuid.UUID]Enrollment),
		forced:      make(map[uuid.UUID]bool),
	}
}

func (r *InMemEnrollmentRepository) CreateEnrollment(ctx context.Context, enrollment Enrollment) (Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if enrollment.ID == uuid.Nil {
		enrollment.ID = uuid.New()
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	r.enrollments[enrollment.ID] = enrollment
	return enrollment, nil
}

func (r *InMemEnrollmentRepository) GetEnrollment(ctx context.Context, id uuid.UUID) (Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	enrollment, ok := r.enrollments[id]
	if !ok {
		return Enrollment{}, errors.NotFound("enrollment", id.String())
	}
	return enrollment, nil
}

func (r *InMemEnrollmentRepository) FindEnrollmentsByUser(ctx context.Context, userID uuid.UUID) ([]Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Enrollment
	for _, e := range r.enrollments {
		if e.UserID == userID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (r *InMemEnrollmentRepository) ConfirmEnrollment(ctx context.Context, id uuid.UUID, confirmedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	enrollment, ok := r.enrollments[id]
	if !ok {
		return errors.NotFound("enrollment", id.String())
	}
	enrollment.ConfirmedAt = &confirmedAt
	r.enrollments[id] = enrollment
	return nil
}

func (r *InMemEnrollmentRepository) DisableEnrollment(ctx context.Context, id uuid.UUID, disabledAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	enrollment, ok := r.enrollments[id]
	if !ok {
		return errors.NotFound("enrollment", id.String())
	}
	enrollment.DisabledAt = &disabledAt
	enrollment.Method = wipeMaterial(enrollment.Method)
	r.enrollments[id] = enrollment
	return nil
}

func (r *InMemEnrollmentRepository) GetTwoFactorForced(ctx context.Context, userID uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.forced[userID], nil
}

func (r *InMemEnrollmentRepository) SetTwoFactorForced(ctx context.Context, userID uuid.UUID, forced bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forced[userID] = forced
	return nil
}

// WithTx returns the same repository; in-memory operations are not
// transactional.
func (r *InMemEnrollmentRepository) WithTx(tx interface{}) EnrollmentRepository {
	return r
}
