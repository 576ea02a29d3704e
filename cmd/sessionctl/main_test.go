package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/whisper/sessiond/internal/session"
	"github.com/whisper/sessiond/internal/store/boltstore"
)

// seedBolt writes one session into a fresh bolt file and returns its path
// and the session ID.
func seedBolt(t *testing.T) (string, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions.db")

	bs, err := boltstore.Open(path)
	if err != nil {
		t.Fatalf("boltstore.Open() error: %v", err)
	}
	defer bs.Close()

	mgr, err := session.NewManager(session.ManagerConfig{Backend: bs})
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}
	ctx := context.Background()
	s := mgr.New(nil, nil)
	if err := s.Start(ctx, nil); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	s.Set("user", "alice")
	if err := s.Commit(ctx); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}

	// An already expired record for gc to find.
	if err := bs.Save(ctx, "stale", []byte(`{}`), -time.Second); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	return path, s.ID()
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(context.Background(), append([]string{"sessionctl"}, args...))
	return out.String(), err
}

func TestShowAndDestroy(t *testing.T) {
	path, id := seedBolt(t)
	flags := []string{"--backend", "bolt", "--bolt-path", path}

	out, err := run(t, append(flags, "show", id)...)
	if err != nil {
		t.Fatalf("show failed: %v", err)
	}
	if !strings.Contains(out, `"user": "alice"`) {
		t.Fatalf("unexpected show output: %s", out)
	}

	out, err = run(t, append(flags, "destroy", id)...)
	if err != nil {
		t.Fatalf("destroy failed: %v", err)
	}
	if !strings.Contains(out, "destroyed "+id) {
		t.Fatalf("unexpected destroy output: %s", out)
	}

	if _, err := run(t, append(flags, "show", id)...); err == nil {
		t.Fatal("show of a destroyed session should fail")
	}
}

func TestShowRequiresID(t *testing.T) {
	path, _ := seedBolt(t)
	if _, err := run(t, "--backend", "bolt", "--bolt-path", path, "show"); err == nil {
		t.Fatal("expected an error without a session id")
	}
}

func TestGC(t *testing.T) {
	path, _ := seedBolt(t)

	out, err := run(t, "--backend", "bolt", "--bolt-path", path, "gc")
	if err != nil {
		t.Fatalf("gc failed: %v", err)
	}
	if !strings.Contains(out, "removed 1 expired session(s)") {
		t.Fatalf("unexpected gc output: %s", out)
	}
}

func TestMigrateRequiresDSN(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := run(t, "migrate"); err == nil {
		t.Fatal("expected an error without a database url")
	}
}

func TestFormatEvent(t *testing.T) {
	got := formatEvent(session.Event{Type: session.EventRegenerated, SessionID: "new", OldSessionID: "old", Ts: 0})
	if !strings.Contains(got, "regenerated") || !strings.Contains(got, "new (was old)") {
		t.Fatalf("unexpected regenerated line: %q", got)
	}
	got = formatEvent(session.Event{Type: session.EventStarted, SessionID: "abc", New: true})
	if !strings.Contains(got, "abc (new)") {
		t.Fatalf("unexpected started line: %q", got)
	}
}
