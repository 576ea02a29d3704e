// Package boltstore is a session backend that keeps every record in a single
// bbolt database file, the same role the "files" save handler plays for
// classic session runtimes. Records are CBOR-framed with their expiry time;
// expired records are hidden from Load and removed by GC.
package boltstore

import (
	"context"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/whisper/sessiond/internal/store"
)

const (
	openTimeout = 5 * time.Second
	bucketName  = "sessions"
)

// record is the on-disk framing of one session.
type record struct {
	ExpiresAt int64  `cbor:"1,keyasint"` // unix nanoseconds
	Data      []byte `cbor:"2,keyasint"`
}

// Store keeps session records in a bbolt file.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: create bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Load returns the record for id unless it has expired.
func (s *Store) Load(_ context.Context, id string) ([]byte, bool, error) {
	var (
		data  []byte
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bucketName)).Get([]byte(id))
		if raw == nil {
			return nil
		}
		var rec record
		if err := cbor.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode record: %w", err)
		}
		if time.Now().UnixNano() >= rec.ExpiresAt {
			return nil
		}
		// rec.Data was decoded into fresh memory, so it outlives the tx.
		data, found = rec.Data, true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("boltstore: load: %w", err)
	}
	return data, found, nil
}

// Save writes the record for id.
func (s *Store) Save(_ context.Context, id string, data []byte, ttl time.Duration) error {
	raw, err := cbor.Marshal(record{
		ExpiresAt: time.Now().Add(ttl).UnixNano(),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("boltstore: encode record: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(id), raw)
	})
	if err != nil {
		return fmt.Errorf("boltstore: save: %w", err)
	}
	return nil
}

// Destroy deletes the record for id.
func (s *Store) Destroy(_ context.Context, id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("boltstore: destroy: %w", err)
	}
	return nil
}

// Touch rewrites the expiry of a live record.
func (s *Store) Touch(_ context.Context, id string, ttl time.Duration) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		raw := b.Get([]byte(id))
		if raw == nil {
			return nil
		}
		var rec record
		if err := cbor.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode record: %w", err)
		}
		now := time.Now()
		if now.UnixNano() >= rec.ExpiresAt {
			return nil
		}
		rec.ExpiresAt = now.Add(ttl).UnixNano()
		out, err := cbor.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		return b.Put([]byte(id), out)
	})
	if err != nil {
		return fmt.Errorf("boltstore: touch: %w", err)
	}
	return nil
}

// GC deletes every record expired at now. Undecodable records are removed too.
func (s *Store) GC(_ context.Context, now time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		var expired [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var rec record
			if err := cbor.Unmarshal(v, &rec); err != nil || now.UnixNano() >= rec.ExpiresAt {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("boltstore: gc: %w", err)
	}
	return removed, nil
}

// Close closes the database file.
func (s *Store) Close() error {
	return s.db.Close()
}

var (
	_ store.Backend   = (*Store)(nil)
	_ store.Toucher   = (*Store)(nil)
	_ store.Collector = (*Store)(nil)
)
