package authflow

import (
	"context"
	"sync"
	"time"
)

// LockoutPolicy controls the failure counter: threshold consecutive
// failures inside the rolling window trigger a cooldown.
type LockoutPolicy struct {
	Threshold int
	Window    time.Duration
	Cooldown  time.Duration
}

func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		Threshold: 5,
		Window:    15 * time.Minute,
		Cooldown:  15 * time.Minute,
	}
}

// LockoutStore tracks failure counters and active lockouts per key. Keys are
// (user, method) and client IP; RegisterFailure must be atomic so concurrent
// failures cannot both observe the pre-threshold count.
type LockoutStore interface {
	// RegisterFailure increments the counter and reports whether the key
	// just crossed into lockout.
	RegisterFailure(ctx context.Context, key string, policy LockoutPolicy) (locked bool, failures int, err error)
	// IsLocked reports an active lockout and when it ends.
	IsLocked(ctx context.Context, key string) (bool, time.Time, error)
	// Reset clears the counter after a successful verification.
	Reset(ctx context.Context, key string) error
}

// InMemLockoutStore implements LockoutStore with in-memory state.
type InMemLockoutStore struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	locked   map[string]time.Time
}

func NewInMemLockoutStore() *InMemLockoutStore {
	return &InMemLockoutStore{
		failures: make(map[string][]time.Time),
		locked:   make(map[string]time.Time),
	}
}

func (s *InMemLockoutStore) RegisterFailure(ctx context.Context, key string, policy LockoutPolicy) (bool, int, error) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-policy.Window)
	recent := s.failures[key][:0]
	for _, t := range s.failures[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	recent = append(recent, now)
	s.failures[key] = recent

	if len(recent) >= policy.Threshold {
		s.locked[key] = now.Add(policy.Cooldown)
		return true, len(recent), nil
	}
	return false, len(recent), nil
}

func (s *InMemLockoutStore) IsLocked(ctx context.Context, key string) (bool, time.Time, error) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.locked[key]
	if !ok {
		return false, time.Time{}, nil
	}
	if now.After(until) {
		delete(s.locked, key)
		delete(s.failures, key)
		return false, time.Time{}, nil
	}
	return true, until, nil
}

func (s *InMemLockoutStore) Reset(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, key)
	delete(s.locked, key)
	return nil
}
