package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemCodeRepository implements CodeRepository with in-memory maps. The
// consume path holds the lock across check-and-set, matching the conditional
// update the Postgres implementation gets from SQL.
type InMemCodeRepository struct {
	mu    sync.Mutex
	codes map[uuid.UUID]Code
}

func NewInMemCodeRepository() *InMemCodeRepository {
	return &InMemCodeRepository{
		codes: make(map[uuid.UUID]Code),
	}
}

func (r *InMemCodeRepository) ReplaceBatch(ctx context.Context, userID uuid.UUID, codes []Code) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, code := range r.codes {
		if code.UserID == userID && code.UsedAt == nil {
			delete(r.codes, id)
		}
	}
	for _, code := range codes {
		r.codes[code.ID] = code
	}
	return nil
}

func (r *InMemCodeRepository) FindCodes(ctx context.Context, userID uuid.UUID) ([]Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Code
	for _, code := range r.codes {
		if code.UserID == userID {
			result = append(result, code)
		}
	}
	return result, nil
}

func (r *InMemCodeRepository) ConsumeCode(ctx context.Context, id uuid.UUID, usedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, ok := r.codes[id]
	if !ok || code.UsedAt != nil {
		return false, nil
	}
	code.UsedAt = &usedAt
	r.codes[id] = code
	return true, nil
}

func (r *InMemCodeRepository) CountRemaining(ctx context.Context, userID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, code := range r.codes {
		if code.UserID == userID && code.UsedAt == nil {
			count++
		}
	}
	return count, nil
}

// WithTx returns the same repository; in-memory operations are not
// transactional.
func (r *InMemCodeRepository) WithTx(tx interface{}) CodeRepository {
	return r
}
