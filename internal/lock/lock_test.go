package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestLocalExcludes(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "abc")
	if err != nil {
		t.Fatalf("Lock() error: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		u, err := l.Lock(ctx, "abc")
		if err == nil {
			close(acquired)
			u()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock() acquired while first still held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second Lock() never acquired after unlock")
	}
}

func TestLocalIndependentIDs(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	u1, err := l.Lock(ctx, "a")
	if err != nil {
		t.Fatalf("Lock(a) error: %v", err)
	}
	defer u1()

	ctx2, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	u2, err := l.Lock(ctx2, "b")
	if err != nil {
		t.Fatalf("Lock(b) blocked on unrelated id: %v", err)
	}
	u2()
}

func TestLocalContextCancel(t *testing.T) {
	l := NewLocal()

	unlock, _ := l.Lock(context.Background(), "abc")
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "abc"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if n := l.held("abc"); n != 1 {
		t.Errorf("expected 1 holder after cancelled wait, got %d", n)
	}
}

func TestLocalUnlockIdempotentAndCleansUp(t *testing.T) {
	l := NewLocal()

	unlock, _ := l.Lock(context.Background(), "abc")
	unlock()
	unlock()

	if n := l.held("abc"); n != 0 {
		t.Errorf("expected entry removed, got %d refs", n)
	}
}

func TestLocalCounterUnderContention(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "shared")
			if err != nil {
				t.Errorf("Lock() error: %v", err)
				return
			}
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
			unlock()
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("expected counter=50, got %d", counter)
	}
}

// newTestRedis requires a running Redis on localhost:6379.
func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() {
		client.Del(context.Background(), RedisKeyPrefix+"test_lock")
		client.Close()
	})
	return NewRedis(client, RedisConfig{TTL: 5 * time.Second, PollInterval: 5 * time.Millisecond})
}

func TestRedisExcludes(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	unlock, err := r.Lock(ctx, "test_lock")
	if err != nil {
		t.Fatalf("Lock() error: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := r.Lock(waitCtx, "test_lock"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded while held, got %v", err)
	}

	unlock()
	unlock2, err := r.Lock(ctx, "test_lock")
	if err != nil {
		t.Fatalf("Lock() after release error: %v", err)
	}
	unlock2()
}
