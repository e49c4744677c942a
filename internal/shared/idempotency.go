package shared

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyHeader is the request header carrying the client key.
const IdempotencyHeader = "Idempotency-Key"

// IdempotencyStore remembers processed request keys in Redis.
type IdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(client *redis.Client, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{client: client, ttl: ttl}
}

// Claim records value under key for module. When the key was already claimed
// it returns the stored value and false.
func (s *IdempotencyStore) Claim(ctx context.Context, module, key, value string) (string, bool, error) {
	if s == nil || s.client == nil {
		return "", false, errors.New("idempotency store not initialised")
	}
	if key == "" {
		return "", false, errors.New("idempotency key required")
	}
	if module == "" {
		return "", false, errors.New("idempotency module required")
	}
	redisKey := s.key(module, key)
	ok, err := s.client.SetNX(ctx, redisKey, value, s.ttl).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return value, true, nil
	}
	existing, err := s.client.Get(ctx, redisKey).Result()
	if errors.Is(err, redis.Nil) {
		return s.Claim(ctx, module, key, value)
	}
	if err != nil {
		return "", false, err
	}
	return existing, false, nil
}

// Update replaces the value of a claimed key, keeping the claim TTL fresh.
func (s *IdempotencyStore) Update(ctx context.Context, module, key, value string) error {
	if s == nil || s.client == nil {
		return errors.New("idempotency store not initialised")
	}
	return s.client.SetXX(ctx, s.key(module, key), value, s.ttl).Err()
}

// Delete removes a key, typically used to roll back failed processing.
func (s *IdempotencyStore) Delete(ctx context.Context, module, key string) error {
	if s == nil || s.client == nil {
		return nil
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	return s.client.Del(ctx, s.key(module, key)).Err()
}

func (s *IdempotencyStore) key(module, key string) string {
	return "idempotency:" + module + ":" + key
}
