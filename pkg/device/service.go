package device

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/blogpress/authguard/pkg/audit"
)

// DeviceService manages trusted-device grants. It only records grants; the
// decision to grant trust belongs to the verification flow, which calls
// Trust exclusively after a fully verified 2FA challenge. Grants are audited
// by the flow; revocations are audited here, since they have no flow around
// them.
type DeviceService struct {
	trustRepository TrustRepository
	audit           *audit.Service
}

func NewDeviceService(trustRepository TrustRepository, auditService *audit.Service) *DeviceService {
	return &DeviceService{
		trustRepository: trustRepository,
		audit:           auditService,
	}
}

// TrustRequest carries the inputs for a trust grant.
type TrustRequest struct {
	UserID      uuid.UUID
	Fingerprint string
	UserAgent   string
	IP          string
	SessionID   string
	TTL         time.Duration // zero means DefaultTrustDays
}

// Trust records a trust grant for the device. The lifetime is clamped: zero
// or negative requests get the default, anything above the cap gets the cap.
// An existing live grant for the same fingerprint has its expiry extended
// instead of creating a duplicate.
func (s *DeviceService) Trust(ctx context.Context, req TrustRequest) (TrustedDevice, error) {
	now := time.Now().UTC()
	ttl := clampTTL(req.TTL)
	expiresAt := now.Add(ttl)

	existing, err := s.trustRepository.FindTrustByFingerprint(ctx, req.UserID, req.Fingerprint)
	if err == nil && existing != nil && existing.ActiveAt(now) {
		if err := s.trustRepository.ExtendTrustExpiry(ctx, existing.ID, expiresAt); err != nil {
			return TrustedDevice{}, fmt.Errorf("failed to extend trust expiry: %w", err)
		}
		existing.ExpiresAt = expiresAt
		slog.Info("extended device trust", "userID", req.UserID, "trustID", existing.ID, "expiresAt", expiresAt.Format(time.RFC3339))
		return *existing, nil
	}

	trust := TrustedDevice{
		ID:          uuid.New(),
		UserID:      req.UserID,
		Fingerprint: req.Fingerprint,
		UserAgent:   req.UserAgent,
		Network:     networkBlock(req.IP),
		SessionID:   req.SessionID,
		TrustedAt:   now,
		ExpiresAt:   expiresAt,
	}
	created, err := s.trustRepository.CreateTrust(ctx, trust)
	if err != nil {
		return TrustedDevice{}, fmt.Errorf("failed to create device trust: %w", err)
	}

	slog.Info("granted device trust",
		"userID", req.UserID,
		"trustID", created.ID,
		"expiresAt", created.ExpiresAt.Format(time.RFC3339))
	return created, nil
}

// IsTrusted reports whether the fingerprint has a live trust grant for the
// user at the given instant.
func (s *DeviceService) IsTrusted(ctx context.Context, userID uuid.UUID, fingerprint string, at time.Time) (bool, error) {
	trust, err := s.trustRepository.FindTrustByFingerprint(ctx, userID, fingerprint)
	if err != nil {
		return false, fmt.Errorf("failed to look up device trust: %w", err)
	}
	if trust == nil {
		return false, nil
	}
	return trust.ActiveAt(at), nil
}

// Revoke withdraws one trust grant.
func (s *DeviceService) Revoke(ctx context.Context, userID, trustID uuid.UUID) error {
	if err := s.trustRepository.RevokeTrust(ctx, userID, trustID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to revoke device trust: %w", err)
	}
	s.recordRevocation(ctx, userID, map[string]interface{}{"trust_id": trustID.String()})
	slog.Info("revoked device trust", "userID", userID, "trustID", trustID)
	return nil
}

// RevokeAll withdraws every live grant for the user. Used on account
// compromise and on security-sensitive profile changes.
func (s *DeviceService) RevokeAll(ctx context.Context, userID uuid.UUID) (int, error) {
	count, err := s.trustRepository.RevokeAllTrusts(ctx, userID, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to revoke device trusts: %w", err)
	}
	if count > 0 {
		s.recordRevocation(ctx, userID, map[string]interface{}{"count": count})
	}
	slog.Info("revoked all device trusts", "userID", userID, "count", count)
	return count, nil
}

func (s *DeviceService) recordRevocation(ctx context.Context, userID uuid.UUID, details map[string]interface{}) {
	err := s.audit.Record(ctx, audit.Event{
		UserID:  userID,
		Type:    audit.EventDeviceRevoked,
		Details: details,
	})
	if err != nil {
		slog.Error("failed to record audit event", "err", err)
	}
}

// ListTrusted returns all grants for the user, live and dead, for the device
// management screen.
func (s *DeviceService) ListTrusted(ctx context.Context, userID uuid.UUID) ([]TrustedDevice, error) {
	trusts, err := s.trustRepository.FindTrustsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list device trusts: %w", err)
	}
	return trusts, nil
}

func clampTTL(ttl time.Duration) time.Duration {
	max := time.Duration(MaxTrustDays) * 24 * time.Hour
	if ttl <= 0 {
		return time.Duration(DefaultTrustDays) * 24 * time.Hour
	}
	if ttl > max {
		return max
	}
	return ttl
}
