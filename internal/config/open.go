package config

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisper/sessiond/internal/codec"
	"github.com/whisper/sessiond/internal/lock"
	"github.com/whisper/sessiond/internal/store"
	"github.com/whisper/sessiond/internal/store/boltstore"
	"github.com/whisper/sessiond/internal/store/pgstore"
	"github.com/whisper/sessiond/internal/store/redisstore"
)

// Services are the storage-side collaborators opened from a Config.
type Services struct {
	Backend    store.Backend
	Serializer codec.Serializer
	Locker     lock.Locker
	Redis      *redis.Client // nil unless UsesRedis

	closers []func() error
}

// Open connects the backend, locker and serializer named by c. The caller
// must Close the result.
func Open(c Config) (*Services, error) {
	svc := &Services{}

	serializer, err := codec.ByName(c.Codec)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	svc.Serializer = serializer

	if c.UsesRedis() {
		client := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("config: redis connection failed: %w", err)
		}
		svc.Redis = client
		svc.closers = append(svc.closers, client.Close)
	}

	switch c.Backend {
	case BackendMemory:
		svc.Backend = store.NewMemory()
	case BackendRedis:
		svc.Backend = redisstore.NewWithClient(svc.Redis)
	case BackendBolt:
		bs, err := boltstore.Open(c.BoltPath)
		if err != nil {
			svc.Close()
			return nil, fmt.Errorf("config: %w", err)
		}
		svc.Backend = bs
		svc.closers = append(svc.closers, bs.Close)
	case BackendPostgres:
		if c.DatabaseURL == "" {
			svc.Close()
			return nil, errors.New("config: postgres backend requires DATABASE_URL")
		}
		if err := pgstore.Migrate(c.DatabaseURL); err != nil {
			svc.Close()
			return nil, fmt.Errorf("config: %w", err)
		}
		ps, err := pgstore.Open(c.DatabaseURL)
		if err != nil {
			svc.Close()
			return nil, fmt.Errorf("config: %w", err)
		}
		svc.Backend = ps
		svc.closers = append(svc.closers, ps.Close)
	default:
		svc.Close()
		return nil, fmt.Errorf("config: unknown session backend %q", c.Backend)
	}

	switch c.Locker {
	case "redis":
		svc.Locker = lock.NewRedis(svc.Redis, lock.DefaultRedisConfig())
	case "local":
		svc.Locker = lock.NewLocal()
	case "none":
		log.Printf("[config] session locking disabled")
		svc.Locker = lock.Nop{}
	case "":
		if c.Backend == BackendRedis {
			svc.Locker = lock.NewRedis(svc.Redis, lock.DefaultRedisConfig())
		} else {
			svc.Locker = lock.NewLocal()
		}
	default:
		svc.Close()
		return nil, fmt.Errorf("config: unknown session locker %q", c.Locker)
	}

	log.Printf("[config] backend=%s codec=%s locker=%T", c.Backend, c.Codec, svc.Locker)
	return svc, nil
}

// Collector returns the backend's expiry sweeper, if it has one. Redis
// expires records natively.
func (s *Services) Collector() (store.Collector, bool) {
	c, ok := s.Backend.(store.Collector)
	return c, ok
}

// Close releases every connection Open made, in reverse order.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
