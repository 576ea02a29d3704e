// Package store defines the persistence contract for session records and the
// in-memory implementation. Records are opaque byte payloads addressed by
// session ID; every write carries a time-to-live after which the record is
// treated as absent.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by backends used after Close.
var ErrClosed = errors.New("store: backend closed")

// Backend persists serialized session records.
type Backend interface {
	// Load returns the record for id. found is false when the record does
	// not exist or has expired.
	Load(ctx context.Context, id string) (data []byte, found bool, err error)

	// Save writes the record for id, replacing any previous one, and makes
	// it expire after ttl.
	Save(ctx context.Context, id string, data []byte, ttl time.Duration) error

	// Destroy removes the record for id. Destroying a missing record is not
	// an error.
	Destroy(ctx context.Context, id string) error
}

// Toucher is implemented by backends that can extend a record's lifetime
// without rewriting it.
type Toucher interface {
	Touch(ctx context.Context, id string, ttl time.Duration) error
}

// Collector is implemented by backends whose expired records must be swept
// explicitly. It returns the number of records removed.
type Collector interface {
	GC(ctx context.Context, now time.Time) (int, error)
}
