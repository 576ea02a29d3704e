// Package lock serializes access to a single session across concurrent
// requests. A session is locked from Start until it is committed, aborted or
// destroyed, so two requests carrying the same identifier never interleave
// their read-modify-write cycles.
package lock

import (
	"context"
	"sync"
)

// Locker acquires an exclusive lock on a session ID. The returned unlock
// function releases it and is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, id string) (unlock func(), err error)
}

// Nop is a Locker that never blocks.
type Nop struct{}

// Lock returns immediately.
func (Nop) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}

type localEntry struct {
	sem  chan struct{}
	refs int
}

// Local is an in-process Locker. Waiters give up when their context ends.
type Local struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

// NewLocal creates an empty in-process Locker.
func NewLocal() *Local {
	return &Local{entries: make(map[string]*localEntry)}
}

// Lock blocks until id is free or ctx is done.
func (l *Local) Lock(ctx context.Context, id string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[id]
	if !ok {
		e = &localEntry{sem: make(chan struct{}, 1)}
		l.entries[id] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(id, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.release(id, e)
		})
	}, nil
}

func (l *Local) release(id string, e *localEntry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, id)
	}
	l.mu.Unlock()
}

// held reports how many callers hold or wait on id.
func (l *Local) held(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[id]; ok {
		return e.refs
	}
	return 0
}

var (
	_ Locker = Nop{}
	_ Locker = (*Local)(nil)
)
