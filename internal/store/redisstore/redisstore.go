// Package redisstore is a session backend on Redis. Each session is a plain
// string key whose TTL is the record lifetime, so Redis expires sessions on its
// own and no GC pass is needed:
//
//	Key:   sess:<session_id>
//	Value: serialized session data
//	TTL:   gc_maxlifetime
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisper/sessiond/internal/store"
)

// KeyPrefix is the Redis key prefix for session records.
const KeyPrefix = "sess:"

// Store keeps session records in Redis.
type Store struct {
	client *redis.Client
	prefix string
}

// NewWithClient wraps an existing client. The caller keeps ownership of it.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client, prefix: KeyPrefix}
}

// WithPrefix returns a copy of s that namespaces keys under prefix.
func (s *Store) WithPrefix(prefix string) *Store {
	return &Store{client: s.client, prefix: prefix}
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

// Load fetches the record for id.
func (s *Store) Load(ctx context.Context, id string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redisstore: load: %w", err)
	}
	return data, true, nil
}

// Save writes the record with ttl.
func (s *Store) Save(ctx context.Context, id string, data []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(id), data, ttl).Err(); err != nil {
		return fmt.Errorf("redisstore: save: %w", err)
	}
	return nil
}

// Destroy deletes the record.
func (s *Store) Destroy(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("redisstore: destroy: %w", err)
	}
	return nil
}

// Touch refreshes the record's TTL. A missing key is left missing.
func (s *Store) Touch(ctx context.Context, id string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, s.key(id), ttl).Err(); err != nil {
		return fmt.Errorf("redisstore: touch: %w", err)
	}
	return nil
}

// TTL returns the remaining lifetime of the record, or 0 if it is missing.
func (s *Store) TTL(ctx context.Context, id string) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, s.key(id)).Result()
	if err != nil {
		return 0, fmt.Errorf("redisstore: ttl: %w", err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

var (
	_ store.Backend = (*Store)(nil)
	_ store.Toucher = (*Store)(nil)
)
