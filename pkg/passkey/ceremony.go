package passkey

import (
	"context"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
)

// CeremonyPurpose distinguishes registration from login ceremonies so a
// session started for one cannot finish the other.
type CeremonyPurpose string

const (
	PurposeRegistration CeremonyPurpose = "registration"
	PurposeLogin        CeremonyPurpose = "login"
)

// Ceremony is one in-flight WebAuthn ceremony. The challenge and session
// data never leave the server; the client only sees the ceremony id.
type Ceremony struct {
	ID        string               `json:"id"`
	UserID    uuid.UUID            `json:"user_id"`
	Purpose   CeremonyPurpose      `json:"purpose"`
	Session   webauthn.SessionData `json:"session"`
	ExpiresAt time.Time            `json:"expires_at"`
}

// CeremonyStore holds in-flight ceremonies. Take removes the ceremony as it
// reads it, making every ceremony single-use; an expired or unknown id
// yields ok=false.
type CeremonyStore interface {
	Save(ctx context.Context, ceremony Ceremony) error
	Take(ctx context.Context, id string) (Ceremony, bool, error)
}

// InMemCeremonyStore keeps ceremonies in memory with lazy expiry.
type InMemCeremonyStore struct {
	mu         sync.Mutex
	ceremonies map[string]Ceremony
}

func NewInMemCeremonyStore() *InMemCeremonyStore {
	return &InMemCeremonyStore{
		ceremonies: make(map[string]Ceremony),
	}
}

func (s *InMemCeremonyStore) Save(ctx context.Context, ceremony Ceremony) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ceremonies[ceremony.ID] = ceremony
	return nil
}

func (s *InMemCeremonyStore) Take(ctx context.Context, id string) (Ceremony, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ceremony, ok := s.ceremonies[id]
	if !ok {
		return Ceremony{}, false, nil
	}
	delete(s.ceremonies, id)
	if time.Now().UTC().After(ceremony.ExpiresAt) {
		return Ceremony{}, false, nil
	}
	return ceremony, true, nil
}
