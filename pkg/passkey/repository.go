package passkey

import (
	"context"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
)

// Credential is one registered hardware key. The embedded webauthn.Credential
// carries the credential id, public key, and authenticator state including
// the signature counter.
type Credential struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Name       string
	Credential webauthn.Credential
	CreatedAt  time.Time
	LastUsedAt *time.Time
	DisabledAt *time.Time
}

// Active reports whether the credential may be used for assertions.
func (c Credential) Active() bool {
	return c.DisabledAt == nil
}

// CredentialRepository stores hardware key credentials. UpdateSignCount is a
// compare-and-set on the stored counter so concurrent assertions cannot both
// advance from the same base value.
type CredentialRepository interface {
	CreateCredential(ctx context.Context, credential Credential) (Credential, error)
	FindCredentialsByUser(ctx context.Context, userID uuid.UUID) ([]Credential, error)
	// FindCredentialByCredentialID looks up by the WebAuthn credential id.
	FindCredentialByCredentialID(ctx context.Context, credentialID []byte) (Credential, error)
	// UpdateSignCount advances the counter only if the stored value still
	// equals old. Returns false when another assertion advanced it first.
	UpdateSignCount(ctx context.Context, id uuid.UUID, old, new uint32, usedAt time.Time) (bool, error)
	// DisableCredential marks the credential compromised.
	DisableCredential(ctx context.Context, id uuid.UUID, disabledAt time.Time) error

	// Transaction support
	WithTx(tx interface{}) CredentialRepository
}
