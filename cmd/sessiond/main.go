package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/whisper/sessiond/internal/config"
	"github.com/whisper/sessiond/internal/httpapi"
	"github.com/whisper/sessiond/internal/messaging"
	"github.com/whisper/sessiond/internal/ratelimit"
	"github.com/whisper/sessiond/internal/session"
	"github.com/whisper/sessiond/internal/store"
	"github.com/whisper/sessiond/internal/ws"
)

func main() {
	cfg := config.FromEnv()

	log.Printf("sessiond starting")
	log.Printf("  listen_addr:     %s", cfg.ListenAddr)
	log.Printf("  backend:         %s", cfg.Backend)
	log.Printf("  codec:           %s", cfg.Codec)
	log.Printf("  session_name:    %s", cfg.SessionName)
	log.Printf("  cookie_lifetime: %ds", cfg.CookieLifetime)
	log.Printf("  gc_maxlifetime:  %ds", cfg.GCMaxLifetime)
	log.Printf("  strict_mode:     %v", cfg.StrictMode)
	log.Printf("  nats_url:        %s", cfg.NATSURL)

	// --- Storage, locking, serialization ---
	svc, err := config.Open(cfg)
	if err != nil {
		log.Fatalf("failed to open session storage: %v", err)
	}

	// --- NATS (optional) ---
	var natsClient *messaging.NATSClient
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsClient, err = messaging.NewNATSClient(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
	}

	// Events fan out to NATS when configured; the console is attached below
	// once it exists.
	var notifiers session.Notifiers
	if natsClient != nil {
		notifiers = append(notifiers, natsClient)
	}

	mgr, err := session.NewManager(session.ManagerConfig{
		Backend:    svc.Backend,
		Serializer: svc.Serializer,
		Locker:     svc.Locker,
		Defaults:   cfg.SessionDefaults(),
		Notifier:   session.NotifierFunc(func(ev session.Event) { notifiers.Notify(ev) }),
	})
	if err != nil {
		log.Fatalf("failed to create session manager: %v", err)
	}

	// --- WebSocket console ---
	consoleConfig := ws.DefaultConsoleConfig()
	consoleConfig.MaxConnections = cfg.MaxConsoleConns
	console := ws.NewConsole(consoleConfig, mgr)

	// With NATS every instance learns about every session's events, so
	// consoles follow sessions changed through other instances too.
	if natsClient != nil {
		if err := natsClient.SubscribeSessionEvents(console.Notify); err != nil {
			log.Fatalf("failed to subscribe to session events: %v", err)
		}
	} else {
		notifiers = append(notifiers, console)
	}

	// --- HTTP API ---
	apiConfig := httpapi.Config{Manager: mgr, Console: console}
	if cfg.NewSessionLimit > 0 {
		rule := ratelimit.RuleNewSession
		rule.Limit = cfg.NewSessionLimit
		apiConfig.Limiter = ratelimit.NewLimiter(svc.Redis)
		apiConfig.Rule = rule
	}
	_, handler := httpapi.New(apiConfig)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: handler,
	}

	// --- Expiry sweep ---
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if collector, ok := svc.Collector(); ok && cfg.GCInterval > 0 {
		go store.StartGC(ctx, collector, cfg.GCInterval)
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := console.Shutdown(shutdownCtx); err != nil {
			log.Printf("console shutdown error: %v", err)
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown error: %v", err)
		}
	}()

	log.Printf("sessiond listening on %s", cfg.ListenAddr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}

	if natsClient != nil {
		natsClient.Close()
	}
	if err := svc.Close(); err != nil {
		log.Printf("storage close error: %v", err)
	}
	log.Printf("sessiond stopped")
}
