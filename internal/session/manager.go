package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/whisper/sessiond/internal/codec"
	"github.com/whisper/sessiond/internal/lock"
	"github.com/whisper/sessiond/internal/metrics"
	"github.com/whisper/sessiond/internal/store"
)

// maxIDAttempts bounds the retries when a generated ID is already taken.
const maxIDAttempts = 3

// ManagerConfig wires a Manager to its collaborators. Only Backend is
// required.
type ManagerConfig struct {
	Backend    store.Backend
	Serializer codec.Serializer // default codec.JSON
	Locker     lock.Locker      // default lock.NewLocal()
	IDs        IDGenerator      // default UUIDGenerator
	Defaults   Options          // merged over DefaultOptions()
	Notifier   Notifier         // optional lifecycle event sink
}

// Manager owns everything a Session delegates: storage, serialization,
// locking, identifier generation and default options. It is safe for
// concurrent use and is normally shared by all requests.
type Manager struct {
	backend    store.Backend
	serializer codec.Serializer
	locker     lock.Locker
	ids        IDGenerator
	defaults   Options
	notifier   Notifier
}

// NewManager validates cfg and fills in defaults.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Backend == nil {
		return nil, errors.New("session: manager requires a backend")
	}
	if cfg.Serializer == nil {
		cfg.Serializer = codec.JSON{}
	}
	if cfg.Locker == nil {
		cfg.Locker = lock.NewLocal()
	}
	if cfg.IDs == nil {
		cfg.IDs = UUIDGenerator{}
	}

	defaults := DefaultOptions().Merge(cfg.Defaults)
	if _, err := resolve(defaults); err != nil {
		return nil, fmt.Errorf("session: default options: %w", err)
	}

	return &Manager{
		backend:    cfg.Backend,
		serializer: cfg.Serializer,
		locker:     cfg.Locker,
		ids:        cfg.IDs,
		defaults:   defaults,
		notifier:   cfg.Notifier,
	}, nil
}

// New returns an unstarted Session bound to one request. Either argument may
// be nil outside HTTP, in which case no cookie is read or written.
func (m *Manager) New(w http.ResponseWriter, r *http.Request) *Session {
	return &Session{
		m:      m,
		w:      w,
		r:      r,
		values: make(map[string]any),
		opts:   m.Defaults(),
	}
}

// Defaults returns a copy of the options every Start merges over.
func (m *Manager) Defaults() Options {
	return m.defaults.Merge(nil)
}

// Exists reports whether a live record exists for id.
func (m *Manager) Exists(ctx context.Context, id string) (bool, error) {
	if !ValidID(id) {
		return false, nil
	}
	_, found, err := m.load(ctx, id)
	return found, err
}

// Inspect decodes the stored data for id without locking or starting it.
func (m *Manager) Inspect(ctx context.Context, id string) (map[string]any, bool, error) {
	if !ValidID(id) {
		return nil, false, ErrInvalidID
	}
	data, found, err := m.load(ctx, id)
	if err != nil || !found {
		return nil, found, err
	}
	values, err := codec.DecodeValues(m.serializer, data)
	if err != nil {
		return nil, true, fmt.Errorf("session: inspect %s: %w", id, err)
	}
	return values, true, nil
}

// Destroy removes the record for id outside any request, waiting for the
// session lock first so an in-flight request cannot write it back.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	if !ValidID(id) {
		return ErrInvalidID
	}
	unlock, err := m.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	if err := m.destroy(ctx, id); err != nil {
		return err
	}
	m.notify(Event{Type: EventDestroyed, SessionID: id, Ts: time.Now().Unix()})
	return nil
}

// create generates an unused identifier and returns it locked.
func (m *Manager) create(ctx context.Context) (string, func(), error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := m.ids.NewID()
		if err != nil {
			return "", nil, fmt.Errorf("session: generate id: %w", err)
		}
		if !ValidID(id) {
			return "", nil, fmt.Errorf("session: generator produced %w", ErrInvalidID)
		}

		unlock, err := m.lock(ctx, id)
		if err != nil {
			return "", nil, err
		}
		_, found, err := m.load(ctx, id)
		if err != nil {
			unlock()
			return "", nil, err
		}
		if !found {
			return id, unlock, nil
		}
		unlock()
		log.Printf("[session] generated id collided with a live session, retrying (attempt %d)", attempt+1)
	}
	return "", nil, ErrIDCollision
}

func (m *Manager) lock(ctx context.Context, id string) (func(), error) {
	start := time.Now()
	unlock, err := m.locker.Lock(ctx, id)
	metrics.LockWait.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("session: lock: %w", err)
	}
	return unlock, nil
}

func (m *Manager) load(ctx context.Context, id string) ([]byte, bool, error) {
	start := time.Now()
	data, found, err := m.backend.Load(ctx, id)
	metrics.ObserveBackend("load", start, err)
	if err != nil {
		return nil, false, fmt.Errorf("session: load: %w", err)
	}
	return data, found, nil
}

func (m *Manager) save(ctx context.Context, id string, data []byte, ttl time.Duration) error {
	start := time.Now()
	err := m.backend.Save(ctx, id, data, ttl)
	metrics.ObserveBackend("save", start, err)
	if err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	return nil
}

// touch extends the record's lifetime, rewriting it on backends that cannot
// touch in place.
func (m *Manager) touch(ctx context.Context, id string, data []byte, ttl time.Duration) error {
	t, ok := m.backend.(store.Toucher)
	if !ok {
		return m.save(ctx, id, data, ttl)
	}
	start := time.Now()
	err := t.Touch(ctx, id, ttl)
	metrics.ObserveBackend("touch", start, err)
	if err != nil {
		return fmt.Errorf("session: touch: %w", err)
	}
	return nil
}

func (m *Manager) destroy(ctx context.Context, id string) error {
	start := time.Now()
	err := m.backend.Destroy(ctx, id)
	metrics.ObserveBackend("destroy", start, err)
	if err != nil {
		return fmt.Errorf("session: destroy: %w", err)
	}
	return nil
}

func (m *Manager) notify(ev Event) {
	if m.notifier != nil {
		m.notifier.Notify(ev)
	}
}
