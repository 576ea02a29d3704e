package ws

import (
	"context"
	"log"

	"github.com/whisper/sessiond/internal/protocol"
	"github.com/whisper/sessiond/internal/session"
)

// consoleStart resumes the bound session without touching cookies; the
// connection has no response to carry them.
var consoleStart = session.Options{session.OptUseCookies: false}

// sessionOp runs against a started session and returns the reply to send
// once the session has been committed.
type sessionOp func(s *session.Session) (msgType string, payload any)

func (c *Console) registerHandlers() {
	c.dispatcher.Register(protocol.TypeGet, func(ctx context.Context, conn *Connection, env protocol.Envelope, msg any) {
		m := msg.(protocol.GetMsg)
		c.withSession(ctx, conn, env.Seq, func(s *session.Session) (string, any) {
			return protocol.TypeValue, protocol.ValueMsg{Key: m.Key, Value: s.Get(m.Key, m.Default), Found: s.Has(m.Key)}
		})
	})

	c.dispatcher.Register(protocol.TypeSet, func(ctx context.Context, conn *Connection, env protocol.Envelope, msg any) {
		m := msg.(protocol.SetMsg)
		c.withSession(ctx, conn, env.Seq, func(s *session.Session) (string, any) {
			s.Set(m.Key, m.Value)
			return protocol.TypeOK, protocol.OKMsg{}
		})
	})

	c.dispatcher.Register(protocol.TypeHas, func(ctx context.Context, conn *Connection, env protocol.Envelope, msg any) {
		m := msg.(protocol.HasMsg)
		c.withSession(ctx, conn, env.Seq, func(s *session.Session) (string, any) {
			return protocol.TypeExists, protocol.ExistsMsg{Key: m.Key, Exists: s.Has(m.Key)}
		})
	})

	c.dispatcher.Register(protocol.TypePull, func(ctx context.Context, conn *Connection, env protocol.Envelope, msg any) {
		m := msg.(protocol.PullMsg)
		c.withSession(ctx, conn, env.Seq, func(s *session.Session) (string, any) {
			found := s.Has(m.Key)
			return protocol.TypeValue, protocol.ValueMsg{Key: m.Key, Value: s.Pull(m.Key), Found: found}
		})
	})

	c.dispatcher.Register(protocol.TypeRemove, func(ctx context.Context, conn *Connection, env protocol.Envelope, msg any) {
		m := msg.(protocol.RemoveMsg)
		c.withSession(ctx, conn, env.Seq, func(s *session.Session) (string, any) {
			s.Remove(m.Key)
			return protocol.TypeOK, protocol.OKMsg{}
		})
	})

	c.dispatcher.Register(protocol.TypeID, func(ctx context.Context, conn *Connection, env protocol.Envelope, _ any) {
		c.withSession(ctx, conn, env.Seq, func(s *session.Session) (string, any) {
			return protocol.TypeSessionID, protocol.SessionIDMsg{SessionID: s.ID()}
		})
	})
}

// withSession starts the connection's session, applies op, commits, and only
// then replies. A session that no longer exists expires the connection.
func (c *Console) withSession(ctx context.Context, conn *Connection, seq int64, op sessionOp) {
	id := conn.SessionID()

	exists, err := c.mgr.Exists(ctx, id)
	if err != nil {
		log.Printf("[console] session lookup failed conn=%s: %v", conn.ID, err)
		sendError(conn, seq, "session_unavailable", "session store unavailable")
		return
	}
	if !exists {
		c.expire(conn)
		return
	}

	s := c.mgr.New(nil, nil)
	if err := s.SetID(id); err != nil {
		sendError(conn, seq, "invalid_session", err.Error())
		return
	}
	if err := s.Start(ctx, consoleStart); err != nil {
		log.Printf("[console] start session failed conn=%s: %v", conn.ID, err)
		sendError(conn, seq, "session_unavailable", "could not open session")
		return
	}
	if s.IsNew() {
		// Destroyed between the lookup and the lock.
		s.Abort()
		c.expire(conn)
		return
	}

	msgType, payload := op(s)

	if err := s.Commit(ctx); err != nil {
		log.Printf("[console] commit session failed conn=%s: %v", conn.ID, err)
		sendError(conn, seq, "commit_failed", "could not save session")
		return
	}
	send(conn, msgType, seq, payload)
}
