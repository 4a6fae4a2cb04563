package device

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TrustedDevice is a time-bounded trust grant for one (user, fingerprint)
// pair. Trust is never permanent: ExpiresAt is always set, and a revoked or
// expired grant is dead with no grace period.
type TrustedDevice struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Fingerprint string
	UserAgent   string
	Network     string // coarse network block at grant time, for display
	SessionID   string // session that completed the verification granting trust
	TrustedAt   time.Time
	ExpiresAt   time.Time
	RevokedAt   *time.Time
}

// ActiveAt reports whether the grant is live at the given instant. Expiry is
// exclusive: a grant is no longer active at its ExpiresAt.
func (d *TrustedDevice) ActiveAt(at time.Time) bool {
	if d.RevokedAt != nil {
		return false
	}
	return at.Before(d.ExpiresAt)
}

// TrustRepository stores trusted-device grants.
type TrustRepository interface {
	CreateTrust(ctx context.Context, trust TrustedDevice) (TrustedDevice, error)
	FindTrustByFingerprint(ctx context.Context, userID uuid.UUID, fingerprint string) (*TrustedDevice, error)
	FindTrustsByUser(ctx context.Context, userID uuid.UUID) ([]TrustedDevice, error)
	RevokeTrust(ctx context.Context, userID, trustID uuid.UUID, revokedAt time.Time) error
	RevokeAllTrusts(ctx context.Context, userID uuid.UUID, revokedAt time.Time) (int, error)
	ExtendTrustExpiry(ctx context.Context, trustID uuid.UUID, newExpiry time.Time) error

	// Transaction support
	WithTx(tx interface{}) TrustRepository
}

const (
	// DefaultTrustDays is the trust lifetime when the caller does not ask
	// for one.
	DefaultTrustDays = 30
	// MaxTrustDays caps any requested lifetime.
	MaxTrustDays = 90
)
