package session

import (
	"bufio"
	"context"
	"errors"
	"log"
	"net"
	"net/http"
)

type ctxKey struct{}

// NewContext returns ctx carrying s.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the Session bound by Middleware, if any.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok
}

// Middleware binds a Session to every request passing through next. When
// autoStart is non-nil the session is started with it before next runs.
// Whatever session is still started after next returns is committed.
func (m *Manager) Middleware(next http.Handler, autoStart Options) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tw := &trackingWriter{ResponseWriter: w}
		s := m.New(tw, r)

		if autoStart != nil {
			if err := s.Start(r.Context(), autoStart); err != nil {
				log.Printf("[session] auto-start failed: %v", err)
				http.Error(tw, "session unavailable", http.StatusServiceUnavailable)
				return
			}
		}

		defer func() {
			if s.Status() != Started {
				return
			}
			if err := s.Commit(context.WithoutCancel(r.Context())); err != nil {
				log.Printf("[session] commit session=%s failed: %v", s.ID(), err)
			}
		}()

		next.ServeHTTP(tw, r.WithContext(NewContext(r.Context(), s)))
	})
}

// trackingWriter records whether the response has begun so the session can
// refuse cookie changes that would be silently dropped.
type trackingWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (tw *trackingWriter) WriteHeader(code int) {
	tw.wroteHeader = true
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *trackingWriter) Write(b []byte) (int, error) {
	tw.wroteHeader = true
	return tw.ResponseWriter.Write(b)
}

// HeaderWritten reports whether headers have been sent.
func (tw *trackingWriter) HeaderWritten() bool {
	return tw.wroteHeader
}

// Flush implements http.Flusher when the wrapped writer does.
func (tw *trackingWriter) Flush() {
	if f, ok := tw.ResponseWriter.(http.Flusher); ok {
		tw.wroteHeader = true
		f.Flush()
	}
}

// Hijack implements http.Hijacker so WebSocket upgrades work behind the
// middleware.
func (tw *trackingWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := tw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("session: response writer does not support hijacking")
	}
	tw.wroteHeader = true
	return hj.Hijack()
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (tw *trackingWriter) Unwrap() http.ResponseWriter {
	return tw.ResponseWriter
}
