package device

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blogpress/authguard/pkg/errors"
)

// InMemTrustRepository implements TrustRepository with in-memory maps.
type InMemTrustRepository struct {
	mu     sync.RWMutex
	trusts map[uuid.UUID]TrustedDevice
}

func NewInMemTrustRepository() *InMemTrustRepository {
	return &InMemTrustRepository{
		trusts: make(map[uuid.UUID]TrustedDevice),
	}
}

func (r *InMemTrustRepository) CreateTrust(ctx context.Context, trust TrustedDevice) (TrustedDevice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if trust.ID == uuid.Nil {
		trust.ID = uuid.New()
	}
	r.trusts[trust.ID] = trust
	return trust, nil
}

// FindTrustByFingerprint returns the newest grant for the pair, or nil when
// none exists.
func (r *InMemTrustRepository) FindTrustByFingerprint(ctx context.Context, userID uuid.UUID, fingerprint string) (*TrustedDevice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var newest *TrustedDevice
	for _, trust := range r.trusts {
		if trust.UserID != userID || trust.Fingerprint != fingerprint {
			continue
		}
		t := trust
		if newest == nil || t.TrustedAt.After(newest.TrustedAt) {
			newest = &t
		}
	}
	return newest, nil
}

func (r *InMemTrustRepository) FindTrustsByUser(ctx context.Context, userID uuid.UUID) ([]TrustedDevice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []TrustedDevice
	for _, trust := range r.trusts {
		if trust.UserID == userID {
			result = append(result, trust)
		}
	}
	return result, nil
}

func (r *InMemTrustRepository) RevokeTrust(ctx context.Context, userID, trustID uuid.UUID, revokedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	trust, ok := r.trusts[trustID]
	if !ok || trust.UserID != userID {
		return errors.NotFound("device trust", trustID.String())
	}
	if trust.RevokedAt == nil {
		trust.RevokedAt = &revokedAt
		r.trusts[trustID] = trust
	}
	return nil
}

func (r *InMemTrustRepository) RevokeAllTrusts(ctx context.Context, userID uuid.UUID, revokedAt time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for id, trust := range r.trusts {
		if trust.UserID == userID && trust.RevokedAt == nil {
			trust.RevokedAt = &revokedAt
			r.trusts[id] = trust
			count++
		}
	}
	return count, nil
}

func (r *InMemTrustRepository) ExtendTrustExpiry(ctx context.Context, trustID uuid.UUID, newExpiry time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	trust, ok := r.trusts[trustID]
	if !ok {
		return errors.NotFound("device trust", trustID.String())
	}
	trust.ExpiresAt = newExpiry
	r.trusts[trustID] = trust
	return nil
}

// WithTx returns the same repository; in-memory operations are not
// transactional.
func (r *InMemTrustRepository) WithTx(tx interface{}) TrustRepository {
	return r
}
