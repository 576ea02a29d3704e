package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection represents a single console client bound to one HTTP session,
// with a write mutex for serializing outbound frames.
type Connection struct {
	ID        string    // connection ID (UUID), distinct from the session ID
	Conn      net.Conn  // underlying TCP connection
	CreatedAt time.Time // when the connection was established

	writeTimeout time.Duration // per-frame write deadline, 0 = none

	sessionID atomic.Value // string; rebound when the session is regenerated
	lastSeen  atomic.Int64 // unix nanos of the last frame received
	writeMu   sync.Mutex   // serializes writes to this connection
}

func newConnection(id, sessionID string, conn net.Conn, writeTimeout time.Duration) *Connection {
	c := &Connection{ID: id, Conn: conn, CreatedAt: time.Now(), writeTimeout: writeTimeout}
	c.sessionID.Store(sessionID)
	c.touch()
	return c
}

// SessionID returns the session the connection is currently bound to.
func (c *Connection) SessionID() string {
	id, _ := c.sessionID.Load().(string)
	return id
}

// LastSeen returns when the last frame was received from the client.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

func (c *Connection) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// WriteMessage sends a WebSocket text frame to this connection. The write
// mutex ensures that concurrent goroutines do not interleave frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.setWriteDeadline()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a WebSocket protocol-level ping frame.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.setWriteDeadline()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// WriteClose sends a close frame with the given status and reason.
func (c *Connection) WriteClose(code ws.StatusCode, reason string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.setWriteDeadline()
	return ws.WriteFrame(c.Conn, ws.NewCloseFrame(ws.NewCloseFrameBody(code, reason)))
}

// Write implements io.Writer for control frame replies. Each reply is written
// with a single call, so holding the mutex per call keeps frames whole.
func (c *Connection) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.setWriteDeadline()
	return c.Conn.Write(p)
}

func (c *Connection) setWriteDeadline() {
	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ConnectionManager is a thread-safe registry of console connections, indexed
// by connection ID and by bound session ID.
type ConnectionManager struct {
	mu        sync.RWMutex
	byID      map[string]*Connection            // conn_id -> Connection
	bySession map[string]map[string]*Connection // session_id -> conn_id -> Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID:      make(map[string]*Connection),
		bySession: make(map[string]map[string]*Connection),
	}
}

// Add registers a new connection in both lookup maps.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.index(conn.SessionID(), conn)
	cm.mu.Unlock()
}

// Remove removes a connection by ID and closes it. Returns true if the
// connection was found and removed, false if it was already gone.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		cm.unindex(conn.SessionID(), id)
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// Get returns the connection for the given ID, or nil if not found.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// BySession returns a snapshot of the connections bound to sessionID.
func (cm *ConnectionManager) BySession(sessionID string) []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.bySession[sessionID]))
	for _, conn := range cm.bySession[sessionID] {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}

// Rebind moves every connection bound to oldID over to newID and returns the
// moved connections.
func (cm *ConnectionManager) Rebind(oldID, newID string) []*Connection {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	moved := make([]*Connection, 0, len(cm.bySession[oldID]))
	for _, conn := range cm.bySession[oldID] {
		conn.sessionID.Store(newID)
		cm.index(newID, conn)
		moved = append(moved, conn)
	}
	delete(cm.bySession, oldID)
	return moved
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}

// index and unindex require cm.mu held for writing.
func (cm *ConnectionManager) index(sessionID string, conn *Connection) {
	set, ok := cm.bySession[sessionID]
	if !ok {
		set = make(map[string]*Connection)
		cm.bySession[sessionID] = set
	}
	set[conn.ID] = conn
}

func (cm *ConnectionManager) unindex(sessionID, connID string) {
	set := cm.bySession[sessionID]
	delete(set, connID)
	if len(set) == 0 {
		delete(cm.bySession, sessionID)
	}
}
