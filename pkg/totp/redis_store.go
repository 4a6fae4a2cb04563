package totp

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisUsedStepStore marks consumed steps in Redis so the replay guard holds
// across instances. SET NX with a TTL gives the atomic consume.
type RedisUsedStepStore struct {
	client *redis.Client
	prefix string
}

func NewRedisUsedStepStore(client *redis.Client) *RedisUsedStepStore {
	return &RedisUsedStepStore{
		client: client,
		prefix: "totp:step:",
	}
}

func (s *RedisUsedStepStore) Consume(ctx context.Context, userID uuid.UUID, step uint64, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("%s%s:%d", s.prefix, userID, step)
	ok, err := s.client.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark used step: %w", err)
	}
	return ok, nil
}
