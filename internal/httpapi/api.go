// Package httpapi exposes the session facade over a small JSON HTTP API. Each
// request operates on the caller's own session, identified by its cookie.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/whisper/sessiond/internal/metrics"
	"github.com/whisper/sessiond/internal/ratelimit"
	"github.com/whisper/sessiond/internal/session"
	"github.com/whisper/sessiond/internal/ws"
)

// maxBodyBytes caps request bodies carrying session values.
const maxBodyBytes = 1 << 20

// Limiter throttles new sessions per client address. *ratelimit.Limiter
// satisfies it.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
	Remaining(ctx context.Context, identifier string, rule ratelimit.Rule) (int, error)
	RetryAfter(ctx context.Context, identifier string, rule ratelimit.Rule) time.Duration
}

// Config wires the API to its collaborators. Only Manager is required.
type Config struct {
	Manager *session.Manager
	Limiter Limiter        // optional
	Rule    ratelimit.Rule // zero value means ratelimit.RuleNewSession
	Console *ws.Console    // optional, mounted at /ws
}

// API serves the session routes.
type API struct {
	mgr       *session.Manager
	limiter   Limiter
	rule      ratelimit.Rule
	console   *ws.Console
	startedAt time.Time
}

// New builds the API and returns it together with its routed handler.
func New(cfg Config) (*API, http.Handler) {
	a := &API{
		mgr:       cfg.Manager,
		limiter:   cfg.Limiter,
		rule:      cfg.Rule,
		console:   cfg.Console,
		startedAt: time.Now(),
	}
	if a.rule.Limit == 0 {
		a.rule = ratelimit.RuleNewSession
	}
	return a, a.routes()
}

func (a *API) routes() http.Handler {
	mux := http.NewServeMux()

	// Routes that operate on a started session; the middleware starts it
	// before the handler and commits it afterwards.
	started := func(h http.HandlerFunc) http.Handler {
		return a.limitNewSessions(a.mgr.Middleware(h, session.Options{}))
	}

	mux.Handle("GET /session", started(a.handleGetSession))
	mux.Handle("DELETE /session", started(a.handleClear))
	mux.Handle("POST /session/regenerate", started(a.handleRegenerate))
	mux.Handle("GET /session/values/{key}", started(a.handleGetValue))
	mux.Handle("PUT /session/values/{key}", started(a.handleSetValue))
	mux.Handle("DELETE /session/values/{key}", started(a.handleRemoveValue))
	mux.Handle("GET /session/values/{key}/exists", started(a.handleHasValue))
	mux.Handle("POST /session/values/{key}/pull", started(a.handlePullValue))

	// Choosing the identifier has to happen before the session starts.
	mux.Handle("PUT /session/id", a.limitNewSessions(a.mgr.Middleware(http.HandlerFunc(a.handleSetID), nil)))

	mux.HandleFunc("GET /health", a.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	if a.console != nil {
		mux.Handle("GET /ws", a.console)
	}
	return mux
}

// ---------------------------------------------------------------------------
// Session routes
// ---------------------------------------------------------------------------

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s := mustSession(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     s.ID(),
		"new":    s.IsNew(),
		"values": s.Values(),
	})
}

func (a *API) handleClear(w http.ResponseWriter, r *http.Request) {
	s := mustSession(r)
	if err := s.Clear(r.Context()); err != nil {
		writeSessionError(w, "clear", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	s := mustSession(r)

	deleteOld := false
	if v := r.URL.Query().Get("delete_old"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "delete_old must be a boolean")
			return
		}
		deleteOld = b
	}

	if err := s.Regenerate(r.Context(), deleteOld); err != nil {
		writeSessionError(w, "regenerate", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": s.ID()})
}

func (a *API) handleSetID(w http.ResponseWriter, r *http.Request) {
	s := mustSession(r)

	var body struct {
		ID string `json:"id"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.AdoptID(body.ID); err != nil {
		writeSessionError(w, "set id", err)
		return
	}
	if err := s.Start(r.Context(), nil); err != nil {
		writeSessionError(w, "start", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": s.ID(), "new": s.IsNew()})
}

// ---------------------------------------------------------------------------
// Value routes
// ---------------------------------------------------------------------------

func (a *API) handleGetValue(w http.ResponseWriter, r *http.Request) {
	s := mustSession(r)
	key := r.PathValue("key")

	if !s.Has(key) {
		q := r.URL.Query()
		if !q.Has("default") {
			writeError(w, http.StatusNotFound, "key not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": s.Get(key, q.Get("default")), "found": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": s.Get(key, nil), "found": true})
}

func (a *API) handleSetValue(w http.ResponseWriter, r *http.Request) {
	s := mustSession(r)

	var value any
	if err := decodeBody(w, r, &value); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.Set(r.PathValue("key"), value)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRemoveValue(w http.ResponseWriter, r *http.Request) {
	mustSession(r).Remove(r.PathValue("key"))
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleHasValue(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "exists": mustSession(r).Has(key)})
}

func (a *API) handlePullValue(w http.ResponseWriter, r *http.Request) {
	s := mustSession(r)
	key := r.PathValue("key")
	found := s.Has(key)
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": s.Pull(key), "found": found})
}

// ---------------------------------------------------------------------------
// Operational routes
// ---------------------------------------------------------------------------

// handleHealth reports uptime and console connections, and probes the
// session backend with a lookup.
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status: "ok",
		Uptime: time.Since(a.startedAt).Round(time.Second).String(),
	}
	if a.console != nil {
		resp.Connections = a.console.Connections().Count()
	}

	status := http.StatusOK
	if _, err := a.mgr.Exists(ctx, "healthcheck"); err != nil {
		log.Printf("[api] health probe failed: %v", err)
		resp.Status = "backend unavailable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// limitNewSessions rejects requests that would create a session once the
// client address has used up its allowance. Requests presenting a live
// session cookie are never limited.
func (a *API) limitNewSessions(next http.Handler) http.Handler {
	if a.limiter == nil {
		return next
	}
	name, _ := a.mgr.Defaults()[session.OptName].(string)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie(name); err == nil {
			if ok, err := a.mgr.Exists(r.Context(), c.Value); err == nil && ok {
				next.ServeHTTP(w, r)
				return
			}
		}

		ip := clientIP(r)
		allowed, err := a.limiter.Allow(r.Context(), ip, a.rule)
		if err != nil {
			log.Printf("[api] rate limiter error ip=%s: %v", ip, err)
		}
		if !allowed {
			metrics.RateLimited.Inc()
			retry := a.limiter.RetryAfter(r.Context(), ip, a.rule)
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())))
			writeError(w, http.StatusTooManyRequests, "too many new sessions")
			return
		}
		if n, err := a.limiter.Remaining(r.Context(), ip, a.rule); err == nil {
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(n))
		}
		next.ServeHTTP(w, r)
	})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// mustSession returns the session bound by the middleware. Every session
// route is mounted behind it, so a missing session is a wiring bug.
func mustSession(r *http.Request) *session.Session {
	s, ok := session.FromContext(r.Context())
	if !ok {
		panic("httpapi: route mounted without session middleware")
	}
	return s
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(v)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeSessionError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrInvalidID):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrNotActive), errors.Is(err, session.ErrSessionActive):
		status = http.StatusConflict
	case errors.Is(err, session.ErrInvalidOption):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		log.Printf("[api] %s failed: %v", op, err)
	}
	writeError(w, status, err.Error())
}
