package authflow

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLockoutStore implements LockoutStore in Redis so failure counters
// and lockouts are shared across instances. INCR on a windowed key gives the
// atomic count; the lock key's TTL is the cooldown.
type RedisLockoutStore struct {
	client *redis.Client
	prefix string
}

func NewRedisLockoutStore(client *redis.Client) *RedisLockoutStore {
	return &RedisLockoutStore{
		client: client,
		prefix: "lockout:",
	}
}

func (s *RedisLockoutStore) failureKey(key string) string {
	return s.prefix + "fail:" + key
}

func (s *RedisLockoutStore) lockKey(key string) string {
	return s.prefix + "lock:" + key
}

func (s *RedisLockoutStore) RegisterFailure(ctx context.Context, key string, policy LockoutPolicy) (bool, int, error) {
	failKey := s.failureKey(key)

	count, err := s.client.Incr(ctx, failKey).Result()
	if err != nil {
		return false, 0, fmt.Errorf("failed to register failure: %w", err)
	}
	if count == 1 {
		// First failure opens the rolling window.
		if err := s.client.Expire(ctx, failKey, policy.Window).Err(); err != nil {
			return false, 0, fmt.Errorf("failed to set failure window: %w", err)
		}
	}

	if int(count) >= policy.Threshold {
		until := time.Now().UTC().Add(policy.Cooldown)
		if err := s.client.Set(ctx, s.lockKey(key), until.Format(time.RFC3339), policy.Cooldown).Err(); err != nil {
			return false, int(count), fmt.Errorf("failed to set lockout: %w", err)
		}
		return true, int(count), nil
	}
	return false, int(count), nil
}

func (s *RedisLockoutStore) IsLocked(ctx context.Context, key string) (bool, time.Time, error) {
	value, err := s.client.Get(ctx, s.lockKey(key)).Result()
	if err == redis.Nil {
		return false, time.Time{}, nil
	}
	if err != nil {
		return false, time.Time{}, fmt.Errorf("failed to check lockout: %w", err)
	}
	until, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("failed to parse lockout expiry: %w", err)
	}
	return true, until, nil
}

func (s *RedisLockoutStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.failureKey(key), s.lockKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to reset lockout: %w", err)
	}
	return nil
}
