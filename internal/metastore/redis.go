package metastore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists per-file metadata in Redis, keyed by fileHash
// under a fixed prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore dials addr and verifies connectivity before returning.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("metastore: redis ping failed: %w", err)
	}

	return &RedisStore{client: client, prefix: "metasort:meta:", ttl: 30 * 24 * time.Hour}, nil
}

func (s *RedisStore) key(fileHash string) string {
	return s.prefix + fileHash
}

func (s *RedisStore) Get(fileHash string) (map[string]any, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := s.client.Get(ctx, s.key(fileHash)).Bytes()
	if err != nil {
		// redis.Nil (missing key) and transport errors both read as
		// "no existing metadata" to the dispatch path.
		return nil, false
	}

	var value map[string]any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, false
	}
	return value, true
}

func (s *RedisStore) Put(fileHash string, value map[string]any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(fileHash), raw, s.ttl).Err()
}
