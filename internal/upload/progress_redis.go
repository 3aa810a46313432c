package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// progressKeyPrefix namespaces progress entries in a shared cache.
const progressKeyPrefix = "upload_percent_"

// RedisProgressStore keeps progress in Redis so every instance behind a load
// balancer observes the same migration.
type RedisProgressStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisProgressStore creates a store whose entries expire after ttl.
func NewRedisProgressStore(client redis.Cmdable, ttl time.Duration) *RedisProgressStore {
	if ttl <= 0 {
		ttl = DefaultProgressTTL
	}
	return &RedisProgressStore{client: client, ttl: ttl}
}

// Set stores percent under key with the store TTL.
func (s *RedisProgressStore) Set(ctx context.Context, key string, percent int) error {
	if err := s.client.Set(ctx, progressKeyPrefix+key, percent, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set upload progress: %w", err)
	}
	return nil
}

// Get returns the percent for key, or 100 with ProgressUntracked when the
// key is absent.
func (s *RedisProgressStore) Get(ctx context.Context, key string) (int, ProgressState, error) {
	v, err := s.client.Get(ctx, progressKeyPrefix+key).Int()
	if errors.Is(err, redis.Nil) {
		percent, state := stateOf(0, false)
		return percent, state, nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("failed to get upload progress: %w", err)
	}
	percent, state := stateOf(v, true)
	return percent, state, nil
}

// Clear deletes key.
func (s *RedisProgressStore) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, progressKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to clear upload progress: %w", err)
	}
	return nil
}
