package lock

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisKeyPrefix is the key prefix for session locks.
const RedisKeyPrefix = "sesslock:"

// releaseLua deletes the lock only if it still carries our token, so a holder
// whose lock expired cannot release someone else's.
const releaseLua = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisConfig tunes the distributed lock.
type RedisConfig struct {
	TTL          time.Duration // lock auto-expiry if the holder dies
	PollInterval time.Duration // wait between acquisition attempts
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		TTL:          30 * time.Second,
		PollInterval: 25 * time.Millisecond,
	}
}

// Redis is a Locker shared by every process talking to the same Redis.
type Redis struct {
	client  *redis.Client
	config  RedisConfig
	release *redis.Script
}

// NewRedis creates a distributed Locker on client.
func NewRedis(client *redis.Client, config RedisConfig) *Redis {
	if config.TTL <= 0 {
		config.TTL = DefaultRedisConfig().TTL
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultRedisConfig().PollInterval
	}
	return &Redis{
		client:  client,
		config:  config,
		release: redis.NewScript(releaseLua),
	}
}

// Lock polls SET NX until it wins or ctx is done.
func (r *Redis) Lock(ctx context.Context, id string) (func(), error) {
	key := RedisKeyPrefix + id
	token := uuid.NewString()

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.config.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("lock: redis setnx: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := r.release.Run(relCtx, r.client, []string{key}, token).Err(); err != nil {
				log.Printf("[lock] release %s failed: %v", key, err)
			}
		})
	}, nil
}

var _ Locker = (*Redis)(nil)
