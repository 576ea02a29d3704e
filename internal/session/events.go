package session

// Lifecycle event types.
const (
	EventStarted     = "started"
	EventRegenerated = "regenerated"
	EventDestroyed   = "destroyed"
)

// Event describes a session lifecycle transition.
type Event struct {
	Type         string `json:"type"`
	SessionID    string `json:"session_id"`
	OldSessionID string `json:"old_session_id,omitempty"` // regenerated only
	New          bool   `json:"new,omitempty"`            // started only
	Ts           int64  `json:"ts"`
}

// Notifier receives lifecycle events. Notify must not block for long; it runs
// on the request path.
type Notifier interface {
	Notify(ev Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ev Event)

// Notify calls f(ev).
func (f NotifierFunc) Notify(ev Event) { f(ev) }

// Notifiers fans an event out to every non-nil notifier in order.
type Notifiers []Notifier

// Notify calls Notify on each element.
func (ns Notifiers) Notify(ev Event) {
	for _, n := range ns {
		if n != nil {
			n.Notify(ev)
		}
	}
}
