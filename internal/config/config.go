// Package config holds sessiond's runtime configuration. Defaults come from
// DefaultConfig and are overridden by environment variables, the same way for
// the server and the admin tool.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/whisper/sessiond/internal/session"
)

// Storage backend names accepted in SESSION_BACKEND.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
)

// Config is the full runtime configuration.
type Config struct {
	ListenAddr      string        // HTTP listen address
	Backend         string        // memory, redis, bolt or postgres
	RedisAddr       string        // used by the redis backend, redis locking and rate limiting
	BoltPath        string        // bolt database file
	DatabaseURL     string        // postgres DSN
	NATSURL         string        // lifecycle events; empty disables
	Codec           string        // json or cbor
	Locker          string        // local, redis or none; empty picks redis for the redis backend
	SessionName     string        // cookie name
	CookieLifetime  int           // seconds
	CookieSecure    bool          // Secure cookie attribute
	GCMaxLifetime   int           // seconds a record survives its last write
	StrictMode      bool          // reject unknown client IDs
	GCInterval      time.Duration // expiry sweep period for memory, bolt and postgres
	NewSessionLimit int           // new sessions per minute per client address, 0 disables
	MaxConsoleConns int           // WebSocket console connection cap
	ShutdownTimeout time.Duration // graceful shutdown budget
}

// DefaultConfig returns a Config with sensible defaults for local use.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      ":8080",
		Backend:         BackendMemory,
		RedisAddr:       "localhost:6379",
		BoltPath:        "sessions.db",
		Codec:           "json",
		SessionName:     "PHPSESSID",
		CookieLifetime:  86400,
		GCMaxLifetime:   1440,
		StrictMode:      true,
		GCInterval:      time.Minute,
		MaxConsoleConns: 10000,
		ShutdownTimeout: 10 * time.Second,
	}
}

// FromEnv returns DefaultConfig overridden by the process environment.
func FromEnv() Config {
	cfg := DefaultConfig()
	cfg.ApplyEnv(os.Getenv)
	return cfg
}

// ApplyEnv overrides fields from getenv. Unset variables keep the current
// value; malformed ones are logged and ignored.
func (c *Config) ApplyEnv(getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				log.Printf("[config] ignoring invalid %s=%q", key, v)
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v := getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				log.Printf("[config] ignoring invalid %s=%q", key, v)
				return
			}
			*dst = b
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				log.Printf("[config] ignoring invalid %s=%q", key, v)
				return
			}
			*dst = d
		}
	}

	str("LISTEN_ADDR", &c.ListenAddr)
	str("SESSION_BACKEND", &c.Backend)
	str("REDIS_ADDR", &c.RedisAddr)
	str("BOLT_PATH", &c.BoltPath)
	str("DATABASE_URL", &c.DatabaseURL)
	str("NATS_URL", &c.NATSURL)
	str("SESSION_CODEC", &c.Codec)
	str("SESSION_LOCKER", &c.Locker)
	str("SESSION_NAME", &c.SessionName)
	num("SESSION_COOKIE_LIFETIME", &c.CookieLifetime)
	flag("SESSION_COOKIE_SECURE", &c.CookieSecure)
	num("SESSION_GC_MAXLIFETIME", &c.GCMaxLifetime)
	flag("SESSION_STRICT_MODE", &c.StrictMode)
	dur("GC_INTERVAL", &c.GCInterval)
	num("NEW_SESSION_LIMIT", &c.NewSessionLimit)
	num("MAX_CONSOLE_CONNECTIONS", &c.MaxConsoleConns)
	dur("SHUTDOWN_TIMEOUT", &c.ShutdownTimeout)

	c.Backend = strings.ToLower(c.Backend)
	c.Codec = strings.ToLower(c.Codec)
	c.Locker = strings.ToLower(c.Locker)
}

// SessionDefaults returns the session options this configuration implies.
func (c Config) SessionDefaults() session.Options {
	return session.Options{
		session.OptName:           c.SessionName,
		session.OptCookieLifetime: c.CookieLifetime,
		session.OptCookieSecure:   c.CookieSecure,
		session.OptGCMaxLifetime:  c.GCMaxLifetime,
		session.OptUseStrictMode:  c.StrictMode,
	}
}

// UsesRedis reports whether any component needs a Redis connection.
func (c Config) UsesRedis() bool {
	return c.Backend == BackendRedis || c.Locker == "redis" || c.NewSessionLimit > 0
}
