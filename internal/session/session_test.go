package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/whisper/sessiond/internal/codec"
	"github.com/whisper/sessiond/internal/store"
)

// countingBackend records calls on top of an in-memory backend.
type countingBackend struct {
	*store.Memory
	mu       sync.Mutex
	saves    int
	touches  int
	destroys int

	destroyErr error
}

func (b *countingBackend) Save(ctx context.Context, id string, data []byte, ttl time.Duration) error {
	b.mu.Lock()
	b.saves++
	b.mu.Unlock()
	return b.Memory.Save(ctx, id, data, ttl)
}

func (b *countingBackend) Touch(ctx context.Context, id string, ttl time.Duration) error {
	b.mu.Lock()
	b.touches++
	b.mu.Unlock()
	return b.Memory.Touch(ctx, id, ttl)
}

func (b *countingBackend) Destroy(ctx context.Context, id string) error {
	b.mu.Lock()
	b.destroys++
	err := b.destroyErr
	b.mu.Unlock()
	if err != nil {
		return err
	}
	return b.Memory.Destroy(ctx, id)
}

func newTestManager(t *testing.T, cfg ManagerConfig) (*Manager, *countingBackend) {
	t.Helper()
	backend := &countingBackend{Memory: store.NewMemory()}
	if cfg.Backend == nil {
		cfg.Backend = backend
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}
	return m, backend
}

func newRequest(cookies ...*http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func startSession(t *testing.T, m *Manager, req *http.Request, opts Options) (*Session, *httptest.ResponseRecorder) {
	t.Helper()
	rec := httptest.NewRecorder()
	s := m.New(rec, req)
	if err := s.Start(context.Background(), opts); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	return s, rec
}

// findCookie returns the last Set-Cookie for name, which is what the browser keeps.
func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	var found *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			found = c
		}
	}
	return found
}

func TestSetGetHas(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{})
	s, _ := startSession(t, m, newRequest(), nil)

	values := []any{"v", 7, nil, "", map[string]any{"id": 42}, []string{"a"}}
	for i, v := range values {
		key := string(rune('a' + i))
		s.Set(key, v)
		if !s.Has(key) {
			t.Errorf("Has(%q) = false after Set(%v)", key, v)
		}
	}
	if got := s.Get("a", nil); got != "v" {
		t.Errorf("Get(a) = %v, want v", got)
	}
	if got := s.Get("c", "default"); got != nil {
		t.Errorf("Get of stored nil returned %v, want nil", got)
	}
	if got := s.Get("missing", "fallback"); got != "fallback" {
		t.Errorf("Get(missing) = %v, want fallback", got)
	}
}

func TestRemove(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{})
	s, _ := startSession(t, m, newRequest(), nil)

	s.Set("k", 1)
	s.Remove("k")
	if s.Has("k") {
		t.Error("Has(k) = true after Remove")
	}
	if got := s.Get("k", "def"); got != "def" {
		t.Errorf("Get(k) after Remove = %v, want def", got)
	}

	// Removing an absent key is a no-op.
	s.Remove("never-set")
}

func TestPull(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{})
	s, _ := startSession(t, m, newRequest(), nil)

	s.Set("flash", "saved!")
	if got := s.Pull("flash"); got != "saved!" {
		t.Errorf("Pull() = %v, want saved!", got)
	}
	if s.Has("flash") {
		t.Error("Has(flash) = true after Pull")
	}
	if got := s.Pull("flash"); got != nil {
		t.Errorf("second Pull() = %v, want nil", got)
	}
}

func TestScenarioCustomNameAndLifetime(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{})
	s, rec := startSession(t, m, newRequest(), Options{
		OptName:           "MYSESS",
		OptCookieLifetime: 3600,
	})

	c := findCookie(rec, "MYSESS")
	if c == nil {
		t.Fatal("expected MYSESS cookie")
	}
	if c.Value != s.ID() {
		t.Errorf("cookie value %q != session id %q", c.Value, s.ID())
	}
	if c.MaxAge != 3600 {
		t.Errorf("cookie MaxAge = %d, want 3600", c.MaxAge)
	}
	if findCookie(rec, "PHPSESSID") != nil {
		t.Error("default cookie name should not be used")
	}

	user := map[string]any{"id": 42}
	s.Set("user", user)

	got, ok := s.Get("user", nil).(map[string]any)
	if !ok || got["id"] != 42 {
		t.Fatalf("Get(user) = %v", s.Get("user", nil))
	}
	pulled, ok := s.Pull("user").(map[string]any)
	if !ok || pulled["id"] != 42 {
		t.Fatalf("Pull(user) = %v", pulled)
	}
	if s.Has("user") {
		t.Error("Has(user) = true after Pull")
	}
}

func TestDefaultCookie(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{})
	s, rec := startSession(t, m, newRequest(), nil)

	c := findCookie(rec, "PHPSESSID")
	if c == nil {
		t.Fatal("expected PHPSESSID cookie")
	}
	if c.MaxAge != 86400 {
		t.Errorf("cookie MaxAge = %d, want 86400", c.MaxAge)
	}
	if !c.HttpOnly {
		t.Error("expected HttpOnly cookie")
	}
	if c.Path != "/" {
		t.Errorf("cookie Path = %q, want /", c.Path)
	}
	if !s.IsNew() {
		t.Error("expected IsNew() on first start")
	}
}

func TestResumeFromCookie(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{})
	ctx := context.Background()

	s1, _ := startSession(t, m, newRequest(), nil)
	s1.Set("user", map[string]any{"id": 42})
	id := s1.ID()
	if err := s1.Commit(ctx); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}

	s2, _ := startSession(t, m, newRequest(&http.Cookie{Name: "PHPSESSID", Value: id}), nil)
	if s2.ID() != id {
		t.Fatalf("resumed id = %q, want %q", s2.ID(), id)
	}
	if s2.IsNew() {
		t.Error("resumed session reports IsNew")
	}
	user, ok := s2.Get("user", nil).(map[string]any)
	if !ok {
		t.Fatalf("Get(user) = %T, want map", s2.Get("user", nil))
	}
	// JSON is the default serializer, so numbers come back as float64.
	if user["id"] != float64(42) {
		t.Errorf("user.id = %v (%T)", user["id"], user["id"])
	}
	s2.Abort()
}

func TestStrictModeRejectsUnknownCookie(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{})

	s, rec := startSession(t, m, newRequest(&http.Cookie{Name: "PHPSESSID", Value: "attackerchosen"}), nil)
	if s.ID() == "attackerchosen" {
		t.Fatal("strict mode adopted an unknown client id")
	}
	if c := findCookie(rec, "PHPSESSID"); c == nil || c.Value != s.ID() {
		t.Error("expected a cookie carrying the replacement id")
	}
	s.Abort()
}

func TestNonStrictModeAdoptsUnknownCookie(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{})

	s, _ := startSession(t, m, newRequest(&http.Cookie{Name: "PHPSESSID", Value: "clientchosen"}),
		Options{OptUseStrictMode: false})
	if s.ID() != "clientchosen" {
		t.Fatalf("ID() = %q, want clientchosen", s.ID())
	}
	if !s.IsNew() {
		t.Error("adopted id should still be a new session")
	}
	s.Abort()
}

func TestMalformedCookieIgnored(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{})

	s, _ := startSession(t, m, newRequest(&http.Cookie{Name: "PHPSESSID", Value: "bad;id"}),
		Options{OptUseStrictMode: false})
	if s.ID() == "bad;id" || !ValidID(s.ID()) {
		t.Errorf("malformed id leaked into session: %q", s.ID())
	}
	s.Abort()
}

func TestClear(t *testing.T) {
	m, backend := newTestManager(t, ManagerConfig{})
	ctx := context.Background()

	s1, _ := startSession(t, m, newRequest(), nil)
	s1.Set("user", "alice")
	oldID := s1.ID()
	_ = s1.Commit(ctx)

	req := newRequest(&http.Cookie{Name: "PHPSESSID", Value: oldID})
	rec := httptest.NewRecorder()
	s := m.New(rec, req)
	if err := s.Start(ctx, nil); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}

	if s.Has("user") {
		t.Error("Has(user) = true after Clear")
	}
	if s.Status() != Unstarted {
		t.Errorf("Status() = %s after Clear, want unstarted", s.Status())
	}
	if s.ID() != "" {
		t.Errorf("ID() = %q after Clear, want empty", s.ID())
	}
	if _, found, _ := backend.Load(ctx, oldID); found {
		t.Error("backend record survived Clear")
	}
	if c := findCookie(rec, "PHPSESSID"); c == nil || c.MaxAge >= 0 {
		t.Error("expected an expiring cookie after Clear")
	}

	// The request still carries the old cookie; a restart must not reuse it.
	if err := s.Start(ctx, nil); err != nil {
		t.Fatalf("restart error: %v", err)
	}
	if s.ID() == oldID || s.ID() == "" {
		t.Errorf("restart id = %q, want a fresh id different from %q", s.ID(), oldID)
	}
	if s.Has("user") {
		t.Error("data resurrected after Clear")
	}
	s.Abort()
}

func TestClearKeepsDataWhenDestroyFails(t *testing.T) {
	m, backend := newTestManager(t, ManagerConfig{})
	ctx := context.Background()

	s, _ := startSession(t, m, newRequest(), nil)
	s.Set("user", "alice")
	_ = s.Commit(ctx)
	if err := s.Start(ctx, nil); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	backend.destroyErr = errors.New("backend down")
	if err := s.Clear(ctx); err == nil {
		t.Fatal("Clear() succeeded with a failing backend")
	}
	if s.Status() != Started {
		t.Fatalf("Status() = %s after failed Clear, want started", s.Status())
	}
	if s.Get("user", nil) != "alice" {
		t.Errorf("values lost after failed Clear: %v", s.Values())
	}

	backend.destroyErr = nil
	if err := s.Commit(ctx); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	data, found, _ := backend.Load(ctx, s.ID())
	if !found {
		t.Fatal("record missing after commit")
	}
	values, _ := codec.DecodeValues(codec.JSON{}, data)
	if values["user"] != "alice" {
		t.Errorf("stored values = %v, want user=alice", values)
	}
}

func TestClearRequiresActive(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{})
	s := m.New(nil, nil)

	if err := s.Clear(context.Background()); !errors.Is(err, ErrNotActive) {
		t.Errorf("Clear() on unstarted = %v, want ErrNotActive", err)
	}
}

func TestRegenerateDeleteOld(t *testing.T) {
	m, backend := newTestManager(t, ManagerConfig{})
	ctx := context.Background()

	s, rec := startSession(t, m, newRequest(), nil)
	s.Set("cart", "3 items")
	_ = s.Commit(ctx)
	oldID := s.ID()
	if err := s.Start(ctx, nil); err != nil {
		t.Fatalf("restart error: %v", err)
	}

	if err := s.Regenerate(ctx, true); err != nil {
		t.Fatalf("Regenerate(true) error: %v", err)
	}
	if s.ID() == oldID {
		t.Fatal("Regenerate did not change the id")
	}
	if got := s.Get("cart", nil); got != "3 items" {
		t.Errorf("data lost across Regenerate: %v", got)
	}
	if _, found, _ := backend.Load(ctx, oldID); found {
		t.Error("old record survived Regenerate(true)")
	}
	cookies := rec.Result().Cookies()
	if last := cookies[len(cookies)-1]; last.Value != s.ID() {
		t.Errorf("last cookie value %q, want new id %q", last.Value, s.ID())
	}

	if err := s.Commit(ctx); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	if _, found, _ := backend.Load(ctx, s.ID()); !found {
		t.Error("new id not persisted on Commit")
	}
}

func TestRegenerateKeepOld(t *testing.T) {
	m, backend := newTestManager(t, ManagerConfig{})
	ctx := context.Background()

	s, _ := startSession(t, m, newRequest(), nil)
	s.Set("k", "v")
	oldID := s.ID()

	if err := s.Regenerate(ctx, false); err != nil {
		t.Fatalf("Regenerate(false) error: %v", err)
	}
	if s.ID() == oldID {
		t.Fatal("Regenerate did not change the id")
	}
	if backend.destroys != 0 {
		t.Errorf("Regenerate(false) destroyed %d record(s)", backend.destroys)
	}
	if _, found, _ := backend.Load(ctx, oldID); !found {
		t.Error("old record should remain after Regenerate(false)")
	}
	s.Abort()
}

func TestRegenerateRequiresActive(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{})
	s := m.New(nil, nil)

	if err := s.Regenerate(context.Background(), false); !errors.Is(err, ErrNotActive) {
		t.Errorf("Regenerate() on unstarted = %v, want ErrNotActive", err)
	}
}

func TestSetID(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{})
	ctx := context.Background()

	s := m.New(httptest.NewRecorder(), newRequest())
	if err := s.SetID("bad id!"); !errors.Is(err, ErrInvalidID) {
		t.Errorf("SetID(bad) = %v, want ErrInvalidID", err)
	}
	if err := s.SetID("chosen-by-app"); err != nil {
		t.Fatalf("SetID() error: %v", err)
	}
	if s.ID() != "chosen-by-app" {
		t.Errorf("ID() before Start = %q", s.ID())
	}

	if err := s.Start(ctx, nil); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if s.ID() != "chosen-by-app" {
		t.Errorf("Start ignored preset id, got %q", s.ID())
	}
	if err := s.SetID("other"); !errors.Is(err, ErrSessionActive) {
		t.Errorf("SetID while active = %v, want ErrSessionActive", err)
	}
	s.Abort()
}

func TestAdoptIDStrictMode(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{})
	ctx := context.Background()

	s := m.New(httptest.NewRecorder(), newRequest())
	if err := s.AdoptID("client-picked-id"); err != nil {
		t.Fatalf("AdoptID() error: %v", err)
	}
	if err := s.Start(ctx, nil); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if s.ID() == "client-picked-id" {
		t.Fatal("unknown client id adopted under strict mode")
	}
	if !s.IsNew() {
		t.Error("replacement session should be new")
	}
	existing := s.ID()
	s.Set("k", "v")
	_ = s.Commit(ctx)

	other := m.New(httptest.NewRecorder(), newRequest())
	if err := other.AdoptID(existing); err != nil {
		t.Fatalf("AdoptID() error: %v", err)
	}
	if err := other.Start(ctx, nil); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if other.ID() != existing || other.IsNew() || other.Get("k", nil) != "v" {
		t.Errorf("existing id not resumed: id=%q new=%v values=%v", other.ID(), other.IsNew(), other.Values())
	}
	other.Abort()

	lax := m.New(httptest.NewRecorder(), newRequest())
	_ = lax.AdoptID("client-picked-id")
	if err := lax.Start(ctx, Options{OptUseStrictMode: false}); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if lax.ID() != "client-picked-id" {
		t.Errorf("non-strict start id = %q, want client-picked-id", lax.ID())
	}
	lax.Abort()
}

func TestStartTwiceIsNoop(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{})
	s, _ := startSession(t, m, newRequest(), nil)
	id := s.ID()
	s.Set("k", 1)

	if err := s.Start(context.Background(), Options{OptName: "OTHER"}); err != nil {
		t.Fatalf("second Start() error: %v", err)
	}
	if s.ID() != id || !s.Has("k") {
		t.Error("second Start() changed the session")
	}
	s.Abort()
}

func TestValuesSharedReference(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{})
	s := m.New(nil, nil)
	early := s.Values()

	if err := s.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	s.Set("a", 1)
	if early["a"] != 1 {
		t.Error("map taken before Start does not see facade writes")
	}
	early["b"] = 2
	if !s.Has("b") {
		t.Error("facade does not see writes through Values()")
	}
	s.Abort()
}

func TestLazyWriteTouchesUnchangedSession(t *testing.T) {
	m, backend := newTestManager(t, ManagerConfig{})
	ctx := context.Background()

	s, _ := startSession(t, m, newRequest(), nil)
	s.Set("k", "v")
	_ = s.Commit(ctx)
	if backend.saves != 1 {
		t.Fatalf("expected 1 save for new session, got %d", backend.saves)
	}

	_ = s.Start(ctx, nil)
	_ = s.Commit(ctx)
	if backend.saves != 1 || backend.touches != 1 {
		t.Errorf("unchanged commit: saves=%d touches=%d, want 1/1", backend.saves, backend.touches)
	}

	_ = s.Start(ctx, nil)
	s.Set("k", "changed")
	_ = s.Commit(ctx)
	if backend.saves != 2 {
		t.Errorf("changed commit: saves=%d, want 2", backend.saves)
	}

	_ = s.Start(ctx, Options{OptLazyWrite: false})
	_ = s.Commit(ctx)
	if backend.saves != 3 {
		t.Errorf("lazy_write=false commit: saves=%d, want 3", backend.saves)
	}
}

func TestLazyWriteWithCBOR(t *testing.T) {
	m, backend := newTestManager(t, ManagerConfig{Serializer: codec.CBOR{}})
	ctx := context.Background()

	s, _ := startSession(t, m, newRequest(), nil)
	for i := range 20 {
		s.Set(fmt.Sprintf("key-%02d", i), i)
	}
	s.Set("nested", map[string]any{"a": 1, "b": "two", "c": true})
	_ = s.Commit(ctx)

	for range 10 {
		if err := s.Start(ctx, nil); err != nil {
			t.Fatalf("Start() error: %v", err)
		}
		_ = s.Commit(ctx)
	}
	if backend.saves != 1 || backend.touches != 10 {
		t.Errorf("unchanged CBOR commits: saves=%d touches=%d, want 1/10", backend.saves, backend.touches)
	}
}

func TestReadAndClose(t *testing.T) {
	m, backend := newTestManager(t, ManagerConfig{})
	ctx := context.Background()

	s1, _ := startSession(t, m, newRequest(), nil)
	s1.Set("k", "v")
	_ = s1.Commit(ctx)

	s2, _ := startSession(t, m, newRequest(&http.Cookie{Name: "PHPSESSID", Value: s1.ID()}),
		Options{OptReadAndClose: true})
	if s2.Status() != Unstarted {
		t.Errorf("read_and_close left session %s", s2.Status())
	}
	if s2.Get("k", nil) != "v" {
		t.Error("read_and_close did not load data")
	}

	s2.Set("k", "ignored")
	_ = s2.Commit(ctx)
	values, _, _ := m.Inspect(ctx, s1.ID())
	if values["k"] != "v" {
		t.Errorf("read_and_close session was written: %v", values["k"])
	}
	if backend.saves != 1 {
		t.Errorf("saves=%d, want 1", backend.saves)
	}
}

func TestAbortDiscardsChanges(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{})
	ctx := context.Background()

	s, _ := startSession(t, m, newRequest(), nil)
	s.Set("k", "v")
	_ = s.Commit(ctx)

	_ = s.Start(ctx, nil)
	s.Set("k", "changed")
	s.Abort()

	values, found, err := m.Inspect(ctx, s.ID())
	if err != nil || !found {
		t.Fatalf("Inspect() found=%v err=%v", found, err)
	}
	if values["k"] != "v" {
		t.Errorf("Abort persisted changes: %v", values["k"])
	}
}

func TestConcurrentRequestsAreSerialized(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{})
	ctx := context.Background()

	s, _ := startSession(t, m, newRequest(), nil)
	s.Set("hits", float64(0))
	id := s.ID()
	_ = s.Commit(ctx)

	const workers, rounds = 8, 10
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				req := newRequest(&http.Cookie{Name: "PHPSESSID", Value: id})
				sess := m.New(httptest.NewRecorder(), req)
				if err := sess.Start(ctx, nil); err != nil {
					t.Errorf("Start() error: %v", err)
					return
				}
				sess.Set("hits", GetAs(sess, "hits", float64(0))+1)
				if err := sess.Commit(ctx); err != nil {
					t.Errorf("Commit() error: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	values, _, _ := m.Inspect(ctx, id)
	if values["hits"] != float64(workers*rounds) {
		t.Errorf("hits = %v, want %d", values["hits"], workers*rounds)
	}
}

func TestNoCookieIO(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{})
	s := m.New(nil, nil)

	if err := s.Start(context.Background(), Options{OptUseCookies: false}); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if s.ID() == "" {
		t.Error("expected an id without cookies")
	}
	s.Abort()
}

func TestInvalidOption(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{})
	s := m.New(nil, nil)

	err := s.Start(context.Background(), Options{OptCookieLifetime: []int{1}})
	if !errors.Is(err, ErrInvalidOption) {
		t.Errorf("Start() with bad lifetime = %v, want ErrInvalidOption", err)
	}
	if s.Status() != Unstarted {
		t.Error("failed Start left session started")
	}
}

func TestPassthroughOptions(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{})
	s, _ := startSession(t, m, newRequest(), Options{"referer_check": "example.com"})

	if s.Options()["referer_check"] != "example.com" {
		t.Error("unknown option was not carried through")
	}
	if s.Options()[OptName] != "PHPSESSID" {
		t.Error("defaults missing from merged options")
	}
	s.Abort()
}

type fixedIDs struct{ id string }

func (f fixedIDs) NewID() (string, error) { return f.id, nil }

func TestIDCollision(t *testing.T) {
	m, backend := newTestManager(t, ManagerConfig{IDs: fixedIDs{"taken"}})
	_ = backend.Save(context.Background(), "taken", []byte("{}"), time.Hour)

	s := m.New(nil, nil)
	if err := s.Start(context.Background(), nil); !errors.Is(err, ErrIDCollision) {
		t.Errorf("Start() = %v, want ErrIDCollision", err)
	}
}

func TestNotifier(t *testing.T) {
	var events []Event
	m, _ := newTestManager(t, ManagerConfig{
		Notifier: NotifierFunc(func(ev Event) { events = append(events, ev) }),
	})
	ctx := context.Background()

	s, _ := startSession(t, m, newRequest(), nil)
	first := s.ID()
	_ = s.Regenerate(ctx, true)
	_ = s.Clear(ctx)

	want := []string{EventStarted, EventRegenerated, EventDestroyed}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(want), events)
	}
	for i, typ := range want {
		if events[i].Type != typ {
			t.Errorf("event %d type = %s, want %s", i, events[i].Type, typ)
		}
	}
	if !events[0].New || events[0].SessionID != first {
		t.Errorf("started event = %+v", events[0])
	}
	if events[1].OldSessionID != first {
		t.Errorf("regenerated event old id = %q, want %q", events[1].OldSessionID, first)
	}
}

func TestGetAs(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{})
	s, _ := startSession(t, m, newRequest(), nil)
	s.Set("n", 5)
	s.Set("s", "str")

	if got := GetAs(s, "n", 0); got != 5 {
		t.Errorf("GetAs(n) = %d", got)
	}
	if got := GetAs(s, "s", 0); got != 0 {
		t.Errorf("GetAs(s) with wrong type = %d, want default", got)
	}
	if got := GetAs(s, "missing", "def"); got != "def" {
		t.Errorf("GetAs(missing) = %q", got)
	}
	s.Abort()
}

func TestManagerDestroyAndExists(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{})
	ctx := context.Background()

	s, _ := startSession(t, m, newRequest(), nil)
	_ = s.Commit(ctx)

	ok, err := m.Exists(ctx, s.ID())
	if err != nil || !ok {
		t.Fatalf("Exists() = %v, %v", ok, err)
	}
	if err := m.Destroy(ctx, s.ID()); err != nil {
		t.Fatalf("Destroy() error: %v", err)
	}
	if ok, _ := m.Exists(ctx, s.ID()); ok {
		t.Error("Exists() = true after Destroy")
	}
	if ok, _ := m.Exists(ctx, "not valid!"); ok {
		t.Error("Exists() accepted an invalid id")
	}
}

func TestNewManagerRequiresBackend(t *testing.T) {
	if _, err := NewManager(ManagerConfig{}); err == nil {
		t.Error("expected error without backend")
	}
}
