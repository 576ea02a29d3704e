// Package protocol defines the JSON frames exchanged on the session console
// WebSocket. Every frame is an object with a "type" discriminator; clients may
// add a numeric "seq" which the server echoes on the matching response.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeGet    = "get"
	TypeSet    = "set"
	TypeHas    = "has"
	TypePull   = "pull"
	TypeRemove = "remove"
	TypeID     = "id"
	TypePing   = "ping"
)

// Server -> Client message types.
const (
	TypeValue          = "value"
	TypeExists         = "exists"
	TypeOK             = "ok"
	TypeSessionID      = "session_id"
	TypeSessionExpired = "session_expired"
	TypeError          = "error"
	TypePong           = "pong"
)

// ---------------------------------------------------------------------------
// Envelope is parsed first to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Seq  int64           `json:"seq,omitempty"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the raw bytes and extracts the type and seq fields
// so that the rest of the payload can be decoded into the concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
		Seq  int64  `json:"seq"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	e.Seq = partial.Seq
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// GetMsg reads a key, answering with Default when it is absent.
type GetMsg struct {
	Type    string `json:"type"`
	Seq     int64  `json:"seq,omitempty"`
	Key     string `json:"key"`
	Default any    `json:"default,omitempty"`
}

// SetMsg writes Value under Key.
type SetMsg struct {
	Type  string `json:"type"`
	Seq   int64  `json:"seq,omitempty"`
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// HasMsg asks whether Key is present.
type HasMsg struct {
	Type string `json:"type"`
	Seq  int64  `json:"seq,omitempty"`
	Key  string `json:"key"`
}

// PullMsg reads and removes Key.
type PullMsg struct {
	Type string `json:"type"`
	Seq  int64  `json:"seq,omitempty"`
	Key  string `json:"key"`
}

// RemoveMsg deletes Key.
type RemoveMsg struct {
	Type string `json:"type"`
	Seq  int64  `json:"seq,omitempty"`
	Key  string `json:"key"`
}

// IDMsg asks for the bound session identifier.
type IDMsg struct {
	Type string `json:"type"`
	Seq  int64  `json:"seq,omitempty"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
	Seq  int64  `json:"seq,omitempty"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ValueMsg answers get and pull.
type ValueMsg struct {
	Type  string `json:"type"`
	Key   string `json:"key"`
	Value any    `json:"value"`
	Found bool   `json:"found"`
}

// ExistsMsg answers has.
type ExistsMsg struct {
	Type   string `json:"type"`
	Key    string `json:"key"`
	Exists bool   `json:"exists"`
}

// OKMsg acknowledges set and remove.
type OKMsg struct {
	Type string `json:"type"`
}

// SessionIDMsg answers id.
type SessionIDMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// SessionExpiredMsg is sent once the bound session no longer exists; the
// server closes the connection afterwards.
type SessionExpiredMsg struct {
	Type string `json:"type"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the envelope, the decoded struct, and any error encountered. Keyed
// commands with an empty key are rejected.
func ParseClientMessage(data []byte) (Envelope, any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg any
		key string
		err error
	)

	switch env.Type {
	case TypeGet:
		var m GetMsg
		err = json.Unmarshal(env.Raw, &m)
		msg, key = m, m.Key
	case TypeSet:
		var m SetMsg
		err = json.Unmarshal(env.Raw, &m)
		msg, key = m, m.Key
	case TypeHas:
		var m HasMsg
		err = json.Unmarshal(env.Raw, &m)
		msg, key = m, m.Key
	case TypePull:
		var m PullMsg
		err = json.Unmarshal(env.Raw, &m)
		msg, key = m, m.Key
	case TypeRemove:
		var m RemoveMsg
		err = json.Unmarshal(env.Raw, &m)
		msg, key = m, m.Key
	case TypeID:
		var m IDMsg
		err = json.Unmarshal(env.Raw, &m)
		msg, key = m, "-"
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg, key = m, "-"
	default:
		return env, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	if key == "" {
		return env, nil, fmt.Errorf("protocol: %q requires a non-empty key", env.Type)
	}
	return env, msg, nil
}

// NewServerMessage creates a JSON-encoded server frame. msgType is injected
// under "type" and, when non-zero, seq under "seq".
func NewServerMessage(msgType string, seq int64, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType
	if seq != 0 {
		m["seq"] = seq
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
