package passkey

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blogpress/authguard/pkg/errors"
)

// InMemCredentialRepository implements CredentialRepository with in-memory
// maps. UpdateSignCount holds the lock across compare-and-set, matching the
// conditional UPDATE the Postgres implementation uses.
type InMemCredentialRepository struct {
	mu          sync.Mutex
	credentials map[uuid.UUID]Credential
}

func NewInMemCredentialRepository() *InMemCredentialRepository {
	return &InMemCredentialRepository{
		credentials: make(map[uuid.UUID]Credential),
	}
}

func (r *InMemCredentialRepository) CreateCredential(ctx context.Context, credential Credential) (Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if credential.ID == uuid.Nil {
		credential.ID = uuid.New()
	}
	if credential.CreatedAt.IsZero() {
		credential.CreatedAt = time.Now().UTC()
	}
	r.credentials[credential.ID] = credential
	return credential, nil
}

func (r *InMemCredentialRepository) FindCredentialsByUser(ctx context.Context, userID uuid.UUID) ([]Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Credential
	for _, c := range r.credentials {
		if c.UserID == userID {
			result = append(result, c)
		}
	}
	return result, nil
}

func (r *InMemCredentialRepository) FindCredentialByCredentialID(ctx context.Context, credentialID []byte) (Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.credentials {
		if bytes.Equal(c.Credential.ID, credentialID) {
			return c, nil
		}
	}
	return Credential{}, errors.NotFound("credential", "by credential id")
}

func (r *InMemCredentialRepository) UpdateSignCount(ctx context.Context, id uuid.UUID, old, new uint32, usedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	credential, ok := r.credentials[id]
	if !ok || credential.DisabledAt != nil {
		return false, nil
	}
	if credential.Credential.Authenticator.SignCount != old {
		return false, nil
	}
	credential.Credential.Authenticator.SignCount = new
	credential.LastUsedAt = &usedAt
	r.credentials[id] = credential
	return true, nil
}

func (r *InMemCredentialRepository) DisableCredential(ctx context.Context, id uuid.UUID, disabledAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	credential, ok := r.credentials[id]
	if !ok {
		return errors.NotFound("credential", id.String())
	}
	if credential.DisabledAt == nil {
		credential.DisabledAt = &disabledAt
		r.credentials[id] = credential
	}
	return nil
}

// WithTx returns the same repository; in-memory operations are not
// transactional.
func (r *InMemCredentialRepository) WithTx(tx interface{}) CredentialRepository {
	return r
}
