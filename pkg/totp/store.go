package totp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// UsedStepStore marks TOTP time-steps as consumed per user. Consume returns
// false when the step was already consumed. Entries only need to live for
// the accepted verification window.
type UsedStepStore interface {
	Consume(ctx context.Context, userID uuid.UUID, step uint64, ttl time.Duration) (bool, error)
}

type usedStepKey struct {
	userID uuid.UUID
	step   uint64
}

// InMemUsedStepStore keeps consumed steps in memory with lazy expiry.
type InMemUsedStepStore struct {
	mu    sync.Mutex
	steps map[usedStepKey]time.Time
}

func NewInMemUsedStepStore() *InMemUsedStepStore {
	return &InMemUsedStepStore{
		steps: make(map[usedStepKey]time.Time),
	}
}

func (s *InMemUsedStepStore) Consume(ctx context.Context, userID uuid.UUID, step uint64, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	key := usedStepKey{userID: userID, step: step}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.prune(now)
	if expiry, ok := s.steps[key]; ok && now.Before(expiry) {
		return false, nil
	}
	s.steps[key] = now.Add(ttl)
	return true, nil
}

// prune drops expired markers. Called under the lock.
func (s *InMemUsedStepStore) prune(now time.Time) {
	for key, expiry := range s.steps {
		if !now.Before(expiry) {
			delete(s.steps, key)
		}
	}
}
