package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemEventRepository implements EventRepository with an in-memory slice.
type InMemEventRepository struct {
	mu     sync.RWMutex
	events []Event
}

func NewInMemEventRepository() *InMemEventRepository {
	return &InMemEventRepository{}
}

func (r *InMemEventRepository) AppendEvent(ctx context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *InMemEventRepository) FindRecentByUser(ctx context.Context, userID uuid.UUID, since time.Time, limit int) ([]Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Event
	for _, e := range r.events {
		if e.UserID == userID && e.CreatedAt.After(since) {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *InMemEventRepository) CountFailuresByUserSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, e := range r.events {
		if e.UserID == userID && e.Failure() && e.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (r *InMemEventRepository) CountFailuresByIPSince(ctx context.Context, ip string, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, e := range r.events {
		if e.IP == ip && e.Failure() && e.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (r *InMemEventRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.events[:0]
	purged := 0
	for _, e := range r.events {
		if e.CreatedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	r.events = kept
	return purged, nil
}

// WithTx returns the same repository; in-memory operations are not
// transactional.
func (r *InMemEventRepository) WithTx(tx interface{}) EventRepository {
	return r
}
