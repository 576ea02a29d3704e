package messaging

import (
	"testing"
	"time"

	"github.com/whisper/sessiond/internal/session"
)

func TestSubjectForEvent(t *testing.T) {
	cases := map[string]string{
		session.EventStarted:     "session.started",
		session.EventRegenerated: "session.regenerated",
		session.EventDestroyed:   "session.destroyed",
	}
	for typ, want := range cases {
		if got := SubjectForEvent(typ); got != want {
			t.Errorf("SubjectForEvent(%q) = %q, want %q", typ, got, want)
		}
	}
}

// TestRoundTrip requires a NATS server on localhost:4222.
func TestRoundTrip(t *testing.T) {
	cfg := DefaultNATSConfig()
	cfg.MaxReconnects = 0
	client, err := NewNATSClient(cfg)
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	defer client.Close()

	got := make(chan session.Event, 1)
	if err := client.SubscribeSessionEvents(func(ev session.Event) { got <- ev }); err != nil {
		t.Fatalf("SubscribeSessionEvents() error: %v", err)
	}

	sent := session.Event{
		Type:         session.EventRegenerated,
		SessionID:    "new",
		OldSessionID: "old",
		Ts:           time.Now().Unix(),
	}
	client.Notify(sent)

	select {
	case ev := <-got:
		if ev != sent {
			t.Errorf("received %+v, want %+v", ev, sent)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not received")
	}
}
