// Package session is a server-side HTTP session facade. A Session is the
// per-request handle on one client's key-value data: it is started (created
// or resumed from a storage backend), read and mutated in memory, and then
// committed, aborted or destroyed. Persistence, locking, identifier
// generation and expiry are delegated to the Manager that created it.
package session

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"maps"
	"net/http"
	"time"

	"github.com/whisper/sessiond/internal/codec"
	"github.com/whisper/sessiond/internal/metrics"
)

// State is the lifecycle state of a Session.
type State int

const (
	// Unstarted sessions are not bound to a stored record.
	Unstarted State = iota
	// Started sessions hold the per-ID lock and are persisted on Commit.
	Started
)

func (st State) String() string {
	switch st {
	case Started:
		return "started"
	default:
		return "unstarted"
	}
}

// Session is one request's view of a client session. It is not safe for
// concurrent use; cross-request exclusion is provided by the Manager's Locker.
type Session struct {
	m *Manager
	w http.ResponseWriter
	r *http.Request

	state    State
	id       string
	values   map[string]any
	opts     Options
	settings settings
	isNew    bool
	snapshot []byte // encoded data as loaded, for lazy writes
	unlock   func()

	// skipCookie stops Start from resuming the request cookie's ID, which
	// still names a session this request already destroyed.
	skipCookie bool
	// clientID marks a preset identifier that came from the client and is
	// held to strict mode like a cookie value.
	clientID bool
}

// Start creates or resumes the session. opts are merged over the Manager's
// defaults. Starting an already started session is a no-op.
func (s *Session) Start(ctx context.Context, opts Options) error {
	if s.state == Started {
		log.Printf("[session] start ignored, session=%s already active", s.id)
		return nil
	}
	if s.headersSent() {
		return ErrHeadersSent
	}

	merged := s.m.defaults.Merge(opts)
	cfg, err := resolve(merged)
	if err != nil {
		return err
	}

	id := s.id
	fromCookie := false
	if id == "" && cfg.useCookies && !s.skipCookie && s.r != nil {
		if c, err := s.r.Cookie(cfg.name); err == nil {
			id, fromCookie = c.Value, true
		}
	}
	if id != "" && !ValidID(id) {
		log.Printf("[session] ignoring malformed session id (len=%d)", len(id))
		id, fromCookie = "", false
	}

	var (
		data   []byte
		found  bool
		unlock func()
		isNew  bool
	)
	if id != "" {
		unlock, err = s.m.lock(ctx, id)
		if err != nil {
			return err
		}
		data, found, err = s.m.load(ctx, id)
		if err != nil {
			unlock()
			return err
		}
		if !found {
			// Only client-supplied IDs are subject to strict mode; an ID
			// preset through SetID is the application's choice.
			if cfg.strictMode && (fromCookie || s.clientID) {
				unlock()
				log.Printf("[session] rejected unknown session id, issuing a new one")
				id, fromCookie = "", false
			} else {
				isNew = true
			}
		}
	}
	if id == "" {
		id, unlock, err = s.m.create(ctx)
		if err != nil {
			return err
		}
		isNew = true
	}

	values, err := codec.DecodeValues(s.m.serializer, data)
	if err != nil {
		unlock()
		return fmt.Errorf("session: start %s: %w", id, err)
	}

	// Refill the existing map so references taken before Start stay bound.
	clear(s.values)
	maps.Copy(s.values, values)

	s.id = id
	s.opts = merged
	s.settings = cfg
	s.isNew = isNew
	s.snapshot = data
	s.unlock = unlock
	s.state = Started
	s.skipCookie = false
	s.clientID = false

	if cfg.useCookies && (isNew || !fromCookie || cfg.cookieLifetime > 0) {
		s.writeCookie(id, cfg.cookieLifetime)
	}

	result := "resumed"
	if isNew {
		result = "new"
	}
	metrics.SessionsStarted.WithLabelValues(result).Inc()
	metrics.SessionsActive.Inc()
	s.m.notify(Event{Type: EventStarted, SessionID: id, New: isNew, Ts: time.Now().Unix()})

	if cfg.readAndClose {
		s.finish("abort")
	}
	return nil
}

// Set stores value under key.
func (s *Session) Set(key string, value any) {
	s.values[key] = value
}

// Get returns the value stored under key, or def if key is absent.
func (s *Session) Get(key string, def any) any {
	if s.Has(key) {
		return s.values[key]
	}
	return def
}

// Pull returns the value under key (nil if absent) and removes it. Pull is
// not atomic with respect to other holders of the same record; the session
// lock is what keeps concurrent requests out.
func (s *Session) Pull(key string) any {
	v := s.Get(key, nil)
	s.Remove(key)
	return v
}

// Has reports whether key is present, including keys holding nil.
func (s *Session) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

// Remove deletes key. Removing an absent key is a no-op.
func (s *Session) Remove(key string) {
	delete(s.values, key)
}

// Clear empties the session, destroys its stored record, expires the cookie
// and returns the session to Unstarted with no identifier.
func (s *Session) Clear(ctx context.Context) error {
	if s.state != Started {
		return ErrNotActive
	}

	id := s.id
	if err := s.m.destroy(ctx, id); err != nil {
		return err
	}
	clear(s.values)

	if s.settings.useCookies && !s.headersSent() {
		s.expireCookie()
	}

	s.finish("destroy")
	s.id = ""
	s.isNew = false
	s.snapshot = nil
	s.skipCookie = true
	s.m.notify(Event{Type: EventDestroyed, SessionID: id, Ts: time.Now().Unix()})
	return nil
}

// ID returns the current session identifier: the active one, the one preset
// with SetID, or the last one used. It is empty before the first Start and
// after Clear.
func (s *Session) ID() string {
	return s.id
}

// SetID presets the identifier the next Start resumes or creates. It fails
// with ErrSessionActive while the session is started.
func (s *Session) SetID(id string) error {
	if s.state == Started {
		return ErrSessionActive
	}
	if id != "" && !ValidID(id) {
		return ErrInvalidID
	}
	s.id = id
	s.clientID = false
	return nil
}

// AdoptID presets an identifier supplied by the client. Unlike SetID, the
// next Start treats it like a cookie value: with use_strict_mode an unknown
// ID is replaced by a fresh one.
func (s *Session) AdoptID(id string) error {
	if err := s.SetID(id); err != nil {
		return err
	}
	s.clientID = id != ""
	return nil
}

// Regenerate moves the session data to a freshly generated identifier. With
// deleteOld the previous record is destroyed; otherwise it is written with
// the current data and left to expire.
func (s *Session) Regenerate(ctx context.Context, deleteOld bool) error {
	if s.state != Started {
		return ErrNotActive
	}
	if s.headersSent() {
		return ErrHeadersSent
	}

	oldID := s.id
	if deleteOld {
		if err := s.m.destroy(ctx, oldID); err != nil {
			return err
		}
	} else {
		data, err := codec.EncodeValues(s.m.serializer, s.values)
		if err != nil {
			return fmt.Errorf("session: regenerate %s: %w", oldID, err)
		}
		if err := s.m.save(ctx, oldID, data, s.settings.gcMaxLifetime); err != nil {
			return err
		}
	}

	newID, unlock, err := s.m.create(ctx)
	if err != nil {
		return err
	}
	s.unlock()
	s.unlock = unlock
	s.id = newID
	s.isNew = true
	s.snapshot = nil

	if s.settings.useCookies {
		s.writeCookie(newID, s.settings.cookieLifetime)
	}

	metrics.SessionsRegenerated.WithLabelValues(fmt.Sprint(deleteOld)).Inc()
	s.m.notify(Event{
		Type:         EventRegenerated,
		SessionID:    newID,
		OldSessionID: oldID,
		Ts:           time.Now().Unix(),
	})
	return nil
}

// Commit writes the session to the backend and releases its lock. The data
// stays readable afterwards but further changes are not persisted unless the
// session is started again.
func (s *Session) Commit(ctx context.Context) error {
	if s.state != Started {
		return nil
	}
	defer s.finish("commit")

	data, err := codec.EncodeValues(s.m.serializer, s.values)
	if err != nil {
		return fmt.Errorf("session: commit %s: %w", s.id, err)
	}

	if s.settings.lazyWrite && !s.isNew && bytes.Equal(data, s.snapshot) {
		return s.m.touch(ctx, s.id, data, s.settings.gcMaxLifetime)
	}
	return s.m.save(ctx, s.id, data, s.settings.gcMaxLifetime)
}

// Abort releases the session without writing changes.
func (s *Session) Abort() {
	if s.state != Started {
		return
	}
	s.finish("abort")
}

// Status returns the lifecycle state.
func (s *Session) Status() State {
	return s.state
}

// IsNew reports whether the last Start or Regenerate issued a new identifier.
func (s *Session) IsNew() bool {
	return s.isNew
}

// Values returns the session's data map itself, not a copy.
func (s *Session) Values() map[string]any {
	return s.values
}

// Options returns the merged options the session was started with, or the
// Manager defaults before the first Start.
func (s *Session) Options() Options {
	return s.opts
}

// GetAs returns the value under key as a T, or def when the key is absent or
// holds another type.
func GetAs[T any](s *Session, key string, def T) T {
	v, ok := s.values[key].(T)
	if !ok {
		return def
	}
	return v
}

func (s *Session) finish(how string) {
	if s.unlock != nil {
		s.unlock()
		s.unlock = nil
	}
	s.state = Unstarted
	metrics.SessionsActive.Dec()
	metrics.SessionsClosed.WithLabelValues(how).Inc()
}

func (s *Session) headersSent() bool {
	hs, ok := s.w.(interface{ HeaderWritten() bool })
	return ok && hs.HeaderWritten()
}

func (s *Session) writeCookie(id string, lifetime time.Duration) {
	if s.w == nil {
		return
	}
	c := s.baseCookie(id)
	if lifetime > 0 {
		c.MaxAge = int(lifetime / time.Second)
		c.Expires = time.Now().Add(lifetime).UTC()
	}
	http.SetCookie(s.w, c)
}

func (s *Session) expireCookie() {
	if s.w == nil {
		return
	}
	c := s.baseCookie("")
	c.MaxAge = -1
	c.Expires = time.Unix(1, 0).UTC()
	http.SetCookie(s.w, c)
}

func (s *Session) baseCookie(value string) *http.Cookie {
	cfg := s.settings
	return &http.Cookie{
		Name:     cfg.name,
		Value:    value,
		Path:     cfg.cookiePath,
		Domain:   cfg.cookieDomain,
		Secure:   cfg.cookieSecure,
		HttpOnly: cfg.cookieHTTPOnly,
		SameSite: cfg.sameSite,
	}
}
