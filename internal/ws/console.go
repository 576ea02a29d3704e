// Package ws serves the session console: a WebSocket endpoint that lets a
// client holding a session cookie read and modify its own session data one
// command at a time. Connections are upgraded with gobwas/ws and each is
// served by its own read goroutine.
package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/whisper/sessiond/internal/metrics"
	"github.com/whisper/sessiond/internal/protocol"
	"github.com/whisper/sessiond/internal/session"
)

// ConsoleConfig holds tunable parameters for the session console.
type ConsoleConfig struct {
	MaxConnections int             // hard cap on total connections
	MaxMessageSize int64           // largest accepted frame payload in bytes
	WriteTimeout   time.Duration   // timeout for WebSocket write operations
	CommandTimeout time.Duration   // budget for one Start/op/Commit cycle
	Heartbeat      HeartbeatConfig // liveness pings and idle eviction
}

// DefaultConsoleConfig returns a ConsoleConfig with sensible production defaults.
func DefaultConsoleConfig() ConsoleConfig {
	return ConsoleConfig{
		MaxConnections: 10000,
		MaxMessageSize: 64 << 10,
		WriteTimeout:   10 * time.Second,
		CommandTimeout: 5 * time.Second,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Console upgrades HTTP requests carrying a live session cookie to WebSocket
// connections bound to that session. It implements http.Handler and
// session.Notifier; the latter keeps bound connections in step with
// regenerated and destroyed sessions.
type Console struct {
	config     ConsoleConfig
	mgr        *session.Manager
	conns      *ConnectionManager
	dispatcher *MessageDispatcher
	done       chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

// NewConsole creates a Console over mgr and starts its heartbeat monitor.
func NewConsole(config ConsoleConfig, mgr *session.Manager) *Console {
	c := &Console{
		config:     config,
		mgr:        mgr,
		conns:      NewConnectionManager(),
		dispatcher: NewMessageDispatcher(),
		done:       make(chan struct{}),
	}
	c.registerHandlers()
	StartHeartbeat(c, config.Heartbeat)
	return c
}

// ServeHTTP authenticates the request by its session cookie and upgrades it.
func (c *Console) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-c.done:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	// Enforce maximum connection limit.
	if c.conns.Count() >= c.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	name := fmt.Sprint(c.mgr.Defaults()[session.OptName])
	cookie, err := r.Cookie(name)
	if err != nil || !session.ValidID(cookie.Value) {
		http.Error(w, "no session", http.StatusUnauthorized)
		return
	}
	exists, err := c.mgr.Exists(r.Context(), cookie.Value)
	if err != nil {
		log.Printf("[console] session lookup failed: %v", err)
		http.Error(w, "session unavailable", http.StatusServiceUnavailable)
		return
	}
	if !exists {
		http.Error(w, "no session", http.StatusUnauthorized)
		return
	}

	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("[console] upgrade failed: %v", err)
		return
	}

	conn := newConnection(uuid.New().String(), cookie.Value, netConn, c.config.WriteTimeout)
	c.conns.Add(conn)
	metrics.ConsoleConnections.Inc()
	log.Printf("[console] new connection conn=%s session=%s (total=%d)", conn.ID, cookie.Value, c.conns.Count())

	c.wg.Add(1)
	go c.readLoop(conn)
}

// readLoop reads frames until the connection fails or closes. Control frames
// are answered in place; text frames are dispatched as commands.
func (c *Console) readLoop(conn *Connection) {
	defer c.wg.Done()
	defer c.RemoveConnection(conn)

	ctrl := wsutil.ControlFrameHandler(conn, ws.StateServerSide)
	rd := &wsutil.Reader{
		Source:         conn.Conn,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		MaxFrameSize:   c.config.MaxMessageSize,
		OnIntermediate: ctrl,
	}
	idle := c.config.Heartbeat.Interval + c.config.Heartbeat.Timeout

	for {
		if idle > 0 {
			_ = conn.Conn.SetReadDeadline(time.Now().Add(idle))
		}

		hdr, err := rd.NextFrame()
		if err != nil {
			if !isClosedErr(err) {
				log.Printf("[console] read failed conn=%s: %v", conn.ID, err)
			}
			return
		}
		conn.touch()

		if hdr.OpCode.IsControl() {
			if err := ctrl(hdr, rd); err != nil {
				return
			}
			continue
		}

		if hdr.OpCode&ws.OpText == 0 {
			if err := rd.Discard(); err != nil {
				return
			}
			sendError(conn, 0, "unsupported_frame", "only text frames are accepted")
			continue
		}

		data, err := io.ReadAll(rd)
		if err != nil {
			log.Printf("[console] read payload failed conn=%s: %v", conn.ID, err)
			return
		}
		if len(data) == 0 {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.config.CommandTimeout)
		c.dispatcher.Dispatch(ctx, conn, data)
		cancel()
	}
}

// Notify implements session.Notifier. Connections bound to a destroyed
// session are told so and closed; connections bound to a regenerated session
// follow it to the new identifier.
func (c *Console) Notify(ev session.Event) {
	switch ev.Type {
	case session.EventDestroyed:
		conns := c.conns.BySession(ev.SessionID)
		if len(conns) == 0 {
			return
		}
		go func() {
			for _, conn := range conns {
				c.expire(conn)
			}
		}()
	case session.EventRegenerated:
		moved := c.conns.Rebind(ev.OldSessionID, ev.SessionID)
		if len(moved) == 0 {
			return
		}
		log.Printf("[console] rebound %d connection(s) to regenerated session", len(moved))
		go func() {
			for _, conn := range moved {
				send(conn, protocol.TypeSessionID, 0, protocol.SessionIDMsg{SessionID: ev.SessionID})
			}
		}()
	}
}

// expire tells the client its session is gone and closes the connection.
func (c *Console) expire(conn *Connection) {
	send(conn, protocol.TypeSessionExpired, 0, protocol.SessionExpiredMsg{})
	_ = conn.WriteClose(ws.StatusNormalClosure, "session expired")
	c.RemoveConnection(conn)
}

// RemoveConnection unregisters and closes a connection. It is safe to call
// more than once for the same connection.
func (c *Console) RemoveConnection(conn *Connection) {
	if !c.conns.Remove(conn.ID) {
		return
	}
	metrics.ConsoleConnections.Dec()
	log.Printf("[console] connection closed conn=%s session=%s (total=%d)", conn.ID, conn.SessionID(), c.conns.Count())
}

// Connections returns the ConnectionManager for external access to connection
// state (e.g., by the heartbeat or the health endpoint).
func (c *Console) Connections() *ConnectionManager {
	return c.conns
}

// Shutdown stops the heartbeat, closes every connection with a going-away
// frame and waits for the read loops to exit or ctx to end.
func (c *Console) Shutdown(ctx context.Context) error {
	c.closeOnce.Do(func() { close(c.done) })

	for _, conn := range c.conns.All() {
		_ = conn.WriteClose(ws.StatusGoingAway, "server shutting down")
		c.RemoveConnection(conn)
	}

	waited := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		log.Printf("[console] stopped, all connections closed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ws: shutdown: %w", ctx.Err())
	}
}

// isClosedErr reports errors that merely mean the peer or the server closed
// the connection.
func isClosedErr(err error) bool {
	var closed wsutil.ClosedError
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.As(err, &closed)
}
