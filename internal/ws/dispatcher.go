package ws

import (
	"context"
	"log"

	"github.com/whisper/sessiond/internal/protocol"
)

// MessageHandler is the callback signature for handling a parsed client message.
// The msg parameter is the concrete struct returned by protocol.ParseClientMessage
// (e.g., protocol.GetMsg, protocol.SetMsg, etc.).
type MessageHandler func(ctx context.Context, conn *Connection, env protocol.Envelope, msg any)

// MessageDispatcher routes incoming WebSocket messages to registered handlers
// based on the message type. It handles the built-in ping/pong keepalive
// internally and sends structured error responses for malformed or unsupported
// messages.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
}

// NewMessageDispatcher creates an empty MessageDispatcher.
func NewMessageDispatcher() *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
	}
}

// Register associates a MessageHandler with a message type. If a handler was
// already registered for the given type, it is silently replaced.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch parses the raw bytes into a typed message, handles ping internally,
// and routes all other types to the registered handler. Parse errors and
// unregistered types result in an error message sent back to the client.
func (d *MessageDispatcher) Dispatch(ctx context.Context, conn *Connection, data []byte) {
	env, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		log.Printf("[console] dispatch parse error conn=%s: %v", conn.ID, err)
		sendError(conn, env.Seq, "parse_error", err.Error())
		return
	}

	// Built-in ping handler, no registration required.
	if env.Type == protocol.TypePing {
		send(conn, protocol.TypePong, env.Seq, protocol.PongMsg{})
		return
	}

	handler, ok := d.handlers[env.Type]
	if !ok {
		log.Printf("[console] unsupported message type=%q conn=%s", env.Type, conn.ID)
		sendError(conn, env.Seq, "unsupported_type", "unsupported message type")
		return
	}

	handler(ctx, conn, env, msg)
}

// send builds and writes one server frame. Errors during message construction
// or transmission are logged but not propagated.
func send(conn *Connection, msgType string, seq int64, payload any) {
	data, err := protocol.NewServerMessage(msgType, seq, payload)
	if err != nil {
		log.Printf("[console] failed to build %s message conn=%s: %v", msgType, conn.ID, err)
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("[console] failed to send %s message conn=%s: %v", msgType, conn.ID, err)
	}
}

func sendError(conn *Connection, seq int64, code, message string) {
	send(conn, protocol.TypeError, seq, protocol.ErrorMsg{Code: code, Message: message})
}
