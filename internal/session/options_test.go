package session

import (
	"errors"
	"math"
	"net/http"
	"testing"
	"time"
)

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	if o[OptName] != "PHPSESSID" {
		t.Errorf("default name = %v", o[OptName])
	}
	if o[OptCookieLifetime] != 86400 {
		t.Errorf("default cookie_lifetime = %v", o[OptCookieLifetime])
	}
}

func TestMergeDoesNotMutate(t *testing.T) {
	base := DefaultOptions()
	merged := base.Merge(Options{OptName: "MYSESS", "custom": 1})

	if base[OptName] != "PHPSESSID" {
		t.Error("Merge mutated the receiver")
	}
	if merged[OptName] != "MYSESS" || merged["custom"] != 1 {
		t.Errorf("merged = %v", merged)
	}
	if merged[OptCookieLifetime] != 86400 {
		t.Error("Merge dropped a default")
	}
}

func TestResolveConversions(t *testing.T) {
	cases := []struct {
		lifetime any
		want     time.Duration
	}{
		{3600, time.Hour},
		{int64(60), time.Minute},
		{1.5, 1500 * time.Millisecond},
		{"120", 2 * time.Minute},
		{"90m", 90 * time.Minute},
		{30 * time.Second, 30 * time.Second},
		{0, 0},
	}
	for _, tc := range cases {
		cfg, err := resolve(DefaultOptions().Merge(Options{OptCookieLifetime: tc.lifetime}))
		if err != nil {
			t.Errorf("resolve(%v) error: %v", tc.lifetime, err)
			continue
		}
		if cfg.cookieLifetime != tc.want {
			t.Errorf("cookie_lifetime %v -> %s, want %s", tc.lifetime, cfg.cookieLifetime, tc.want)
		}
	}
}

func TestResolveBoolsAndSameSite(t *testing.T) {
	cfg, err := resolve(DefaultOptions().Merge(Options{
		OptCookieSecure:   "on",
		OptCookieHTTPOnly: 0,
		OptCookieSameSite: "Strict",
		OptUseStrictMode:  "false",
	}))
	if err != nil {
		t.Fatalf("resolve() error: %v", err)
	}
	if !cfg.cookieSecure || cfg.cookieHTTPOnly || cfg.strictMode {
		t.Errorf("bools resolved wrong: %+v", cfg)
	}
	if cfg.sameSite != http.SameSiteStrictMode {
		t.Errorf("sameSite = %v", cfg.sameSite)
	}
}

func TestResolveRejects(t *testing.T) {
	bad := []Options{
		{OptName: ""},
		{OptName: 42},
		{OptCookieLifetime: -1},
		{OptCookieLifetime: "soon"},
		{OptCookieLifetime: 1e11},
		{OptCookieLifetime: uint64(math.MaxUint64)},
		{OptCookieLifetime: "-5m"},
		{OptGCMaxLifetime: -time.Second},
		{OptGCMaxLifetime: 0},
		{OptCookieSecure: "maybe"},
		{OptCookieSameSite: "sideways"},
	}
	for _, o := range bad {
		if _, err := resolve(DefaultOptions().Merge(o)); !errors.Is(err, ErrInvalidOption) {
			t.Errorf("resolve(%v) = %v, want ErrInvalidOption", o, err)
		}
	}
}
