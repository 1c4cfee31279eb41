package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/helixir/unpaywall-client/internal/domain"
)

// RedisClient is the subset of redis.Cmdable used by RedisStore.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisStore keeps the blob under a single redis key.
type RedisStore struct {
	client RedisClient
	key    string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store for key. An empty key selects DefaultPath.
func NewRedisStore(client RedisClient, key string) *RedisStore {
	if key == "" {
		key = DefaultPath
	}
	return &RedisStore{client: client, key: key}
}

// Location returns the redis key.
func (s *RedisStore) Location() string {
	return "redis:" + s.key
}

// Load reads the key.
func (s *RedisStore) Load(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.NewNotFoundError("cache", s.Location())
		}
		return nil, fmt.Errorf("loading cache blob: %w", err)
	}
	return data, nil
}

// Save overwrites the key. Entries expire individually, never the key.
func (s *RedisStore) Save(ctx context.Context, blob []byte) error {
	if err := s.client.Set(ctx, s.key, blob, 0).Err(); err != nil {
		return fmt.Errorf("saving cache blob: %w", err)
	}
	return nil
}
