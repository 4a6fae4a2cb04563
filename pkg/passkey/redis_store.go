package passkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCeremonyStore keeps in-flight ceremonies in Redis so any instance can
// finish a ceremony another instance began. GETDEL gives the single-use
// take; the key TTL enforces expiry.
type RedisCeremonyStore struct {
	client *redis.Client
	prefix string
}

func NewRedisCeremonyStore(client *redis.Client) *RedisCeremonyStore {
	return &RedisCeremonyStore{
		client: client,
		prefix: "passkey:ceremony:",
	}
}

func (s *RedisCeremonyStore) Save(ctx context.Context, ceremony Ceremony) error {
	payload, err := json.Marshal(ceremony)
	if err != nil {
		return fmt.Errorf("failed to marshal ceremony: %w", err)
	}
	ttl := time.Until(ceremony.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("ceremony already expired")
	}
	if err := s.client.Set(ctx, s.prefix+ceremony.ID, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store ceremony: %w", err)
	}
	return nil
}

func (s *RedisCeremonyStore) Take(ctx context.Context, id string) (Ceremony, bool, error) {
	payload, err := s.client.GetDel(ctx, s.prefix+id).Bytes()
	if err == redis.Nil {
		return Ceremony{}, false, nil
	}
	if err != nil {
		return Ceremony{}, false, fmt.Errorf("failed to take ceremony: %w", err)
	}
	var ceremony Ceremony
	if err := json.Unmarshal(payload, &ceremony); err != nil {
		return Ceremony{}, false, fmt.Errorf("failed to unmarshal ceremony: %w", err)
	}
	if time.Now().UTC().After(ceremony.ExpiresAt) {
		return Ceremony{}, false, nil
	}
	return ceremony, true, nil
}
