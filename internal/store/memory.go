package store

import (
	"context"
	"sync"
	"time"
)

type memRecord struct {
	data      []byte
	expiresAt time.Time
}

// Memory is a Backend that keeps records in process memory. Expired records
// are invisible to Load and removed by GC.
type Memory struct {
	mu      sync.RWMutex
	records map[string]memRecord
	now     func() time.Time
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]memRecord),
		now:     time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Load returns a copy of the stored payload.
func (m *Memory) Load(_ context.Context, id string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok || !m.now().Before(rec.expiresAt) {
		return nil, false, nil
	}
	data := make([]byte, len(rec.data))
	copy(data, rec.data)
	return data, true, nil
}

// Save stores a copy of data.
func (m *Memory) Save(_ context.Context, id string, data []byte, ttl time.Duration) error {
	buf := make([]byte, len(data))
	copy(buf, data)

	m.mu.Lock()
	m.records[id] = memRecord{data: buf, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

// Destroy deletes the record.
func (m *Memory) Destroy(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.records, id)
	m.mu.Unlock()
	return nil
}

// Touch moves the expiry of a live record to now+ttl.
func (m *Memory) Touch(_ context.Context, id string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	now := m.now()
	if !ok || !now.Before(rec.expiresAt) {
		return nil
	}
	rec.expiresAt = now.Add(ttl)
	m.records[id] = rec
	return nil
}

// GC removes every record whose expiry is not after now.
func (m *Memory) GC(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, rec := range m.records {
		if !now.Before(rec.expiresAt) {
			delete(m.records, id)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of records held, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	n := len(m.records)
	m.mu.RUnlock()
	return n
}

var (
	_ Backend   = (*Memory)(nil)
	_ Toucher   = (*Memory)(nil)
	_ Collector = (*Memory)(nil)
)
