// Package client drives sessiond the way a browser would: the session cookie
// lives in a jar, the JSON API is called over HTTP, and console commands are
// exchanged over a gobwas/ws connection and matched to replies by seq.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Console message types used by the scenarios.
const (
	TypeGet            = "get"
	TypeSet            = "set"
	TypeHas            = "has"
	TypePull           = "pull"
	TypeSessionID      = "session_id"
	TypeSessionExpired = "session_expired"
	TypeError          = "error"
)

// Client is one simulated browser holding a sessiond session.
type Client struct {
	base string
	http *http.Client

	conn    net.Conn
	writeMu sync.Mutex
	seq     atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan Reply
	events  chan Reply
	err     error
	done    chan struct{}
	closed  sync.Once
}

// Reply is a console message from the server. Seq is zero for unsolicited
// messages such as session_expired.
type Reply struct {
	Type string
	Seq  int64
	Raw  json.RawMessage
}

// Decode unmarshals the reply into v.
func (r Reply) Decode(v any) error {
	return json.Unmarshal(r.Raw, v)
}

// New creates a client for the server at baseURL (e.g. http://localhost:8080)
// with an empty cookie jar.
func New(baseURL string) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	return &Client{
		base:    strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Jar: jar, Timeout: 10 * time.Second},
		pending: make(map[int64]chan Reply),
		events:  make(chan Reply, 16),
		done:    make(chan struct{}),
	}, nil
}

// ---------------------------------------------------------------------------
// HTTP session API
// ---------------------------------------------------------------------------

// Session fetches the caller's session, creating it on first use, and
// returns its ID.
func (c *Client) Session(ctx context.Context) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodGet, "/session", nil, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// Set stores value under key.
func (c *Client) Set(ctx context.Context, key string, value any) error {
	return c.do(ctx, http.MethodPut, "/session/values/"+url.PathEscape(key), value, nil)
}

// Get returns the value under key and whether it was present.
func (c *Client) Get(ctx context.Context, key string) (any, bool, error) {
	var out struct {
		Value any  `json:"value"`
		Found bool `json:"found"`
	}
	err := c.do(ctx, http.MethodGet, "/session/values/"+url.PathEscape(key)+"?default=", nil, &out)
	return out.Value, out.Found, err
}

// Regenerate moves the session to a new ID and returns it.
func (c *Client) Regenerate(ctx context.Context, deleteOld bool) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/session/regenerate?delete_old=%t", deleteOld)
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// Clear destroys the session.
func (c *Client) Clear(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/session", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ---------------------------------------------------------------------------
// Console WebSocket
// ---------------------------------------------------------------------------

// DialConsole opens the console WebSocket with the client's session cookie
// and starts reading replies.
func (c *Client) DialConsole(ctx context.Context) error {
	u, err := url.Parse(c.base)
	if err != nil {
		return err
	}
	header := http.Header{}
	for _, ck := range c.http.Jar.Cookies(u) {
		header.Add("Cookie", ck.String())
	}

	wsURL := "ws" + strings.TrimPrefix(c.base, "http") + "/ws"
	dialer := ws.Dialer{Header: ws.HandshakeHeaderHTTP(header)}
	conn, _, _, err := dialer.Dial(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("dial console: %w", err)
	}
	c.conn = conn

	go c.readLoop()
	return nil
}

// Command sends one console command and waits for the reply carrying the
// same seq. Error replies are returned as errors.
func (c *Client) Command(ctx context.Context, msgType string, fields map[string]any) (Reply, error) {
	seq := c.seq.Add(1)
	msg := map[string]any{"type": msgType, "seq": seq}
	for k, v := range fields {
		msg[k] = v
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return Reply{}, fmt.Errorf("marshal %s: %w", msgType, err)
	}

	ch := make(chan Reply, 1)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return Reply{}, c.err
	}
	c.pending[seq] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err = wsutil.WriteClientMessage(c.conn, ws.OpText, data)
	c.writeMu.Unlock()
	if err != nil {
		return Reply{}, fmt.Errorf("send %s: %w", msgType, err)
	}

	select {
	case r, ok := <-ch:
		if !ok {
			return Reply{}, c.connErr()
		}
		if r.Type == TypeError {
			var e struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			}
			_ = r.Decode(&e)
			return r, fmt.Errorf("%s: %s: %s", msgType, e.Code, e.Message)
		}
		return r, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// Events delivers unsolicited server messages (session_id, session_expired).
// It is closed when the connection ends.
func (c *Client) Events() <-chan Reply {
	return c.events
}

// Close closes the console connection. It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closed.Do(func() {
		close(c.done)
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

func (c *Client) connErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		return errors.New("console closed")
	}
	return c.err
}

// readLoop routes replies to waiting commands by seq until the connection
// fails, then fails every pending command.
func (c *Client) readLoop() {
	defer close(c.events)

	var readErr error
	for {
		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			readErr = err
			break
		}
		var env struct {
			Type string `json:"type"`
			Seq  int64  `json:"seq"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		r := Reply{Type: env.Type, Seq: env.Seq, Raw: data}

		if r.Seq != 0 {
			c.mu.Lock()
			ch, ok := c.pending[r.Seq]
			c.mu.Unlock()
			if ok {
				ch <- r
			}
			continue
		}
		select {
		case c.events <- r:
		case <-c.done:
			readErr = errors.New("console closed")
		default:
		}
		if readErr != nil {
			break
		}
	}

	c.mu.Lock()
	c.err = fmt.Errorf("console: %w", readErr)
	for seq, ch := range c.pending {
		close(ch)
		delete(c.pending, seq)
	}
	c.mu.Unlock()
}
