package dedup

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisStore keeps marks as plain keys with an expiry.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	if client == nil {
		return nil
	}
	return &RedisStore{client: client}
}

func (s *RedisStore) Seen(ctx context.Context, key string) (bool, error) {
	if s == nil || s.client == nil {
		return false, errors.New("dedup client not configured")
	}
	if key == "" {
		return false, ErrEmptyKey
	}
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) Mark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if s == nil || s.client == nil {
		return false, errors.New("dedup client not configured")
	}
	if err := validate(key, ttl); err != nil {
		return false, err
	}
	return s.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
}
