package session

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Recognized option names. Any other key is carried through untouched.
const (
	OptName           = "name"
	OptCookieLifetime = "cookie_lifetime"
	OptCookiePath     = "cookie_path"
	OptCookieDomain   = "cookie_domain"
	OptCookieSecure   = "cookie_secure"
	OptCookieHTTPOnly = "cookie_httponly"
	OptCookieSameSite = "cookie_samesite"
	OptGCMaxLifetime  = "gc_maxlifetime"
	OptUseStrictMode  = "use_strict_mode"
	OptUseCookies     = "use_cookies"
	OptLazyWrite      = "lazy_write"
	OptReadAndClose   = "read_and_close"
)

// Options configures Start. Durations (cookie_lifetime, gc_maxlifetime) are
// given in seconds as a number or numeric string, or as a time.Duration.
type Options map[string]any

// DefaultOptions returns the options every session starts from.
func DefaultOptions() Options {
	return Options{
		OptName:           "PHPSESSID",
		OptCookieLifetime: 86400,
		OptCookiePath:     "/",
		OptCookieDomain:   "",
		OptCookieSecure:   false,
		OptCookieHTTPOnly: true,
		OptCookieSameSite: "Lax",
		OptGCMaxLifetime:  1440,
		OptUseStrictMode:  true,
		OptUseCookies:     true,
		OptLazyWrite:      true,
		OptReadAndClose:   false,
	}
}

// Merge returns a new Options holding o overlaid with over.
func (o Options) Merge(over Options) Options {
	out := make(Options, len(o)+len(over))
	for k, v := range o {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

// settings is the typed view of the recognized options.
type settings struct {
	name           string
	cookieLifetime time.Duration
	cookiePath     string
	cookieDomain   string
	cookieSecure   bool
	cookieHTTPOnly bool
	sameSite       http.SameSite
	gcMaxLifetime  time.Duration
	strictMode     bool
	useCookies     bool
	lazyWrite      bool
	readAndClose   bool
}

func resolve(o Options) (settings, error) {
	var (
		cfg settings
		err error
	)

	if cfg.name, err = stringOpt(o, OptName); err != nil {
		return cfg, err
	}
	if cfg.name == "" {
		return cfg, fmt.Errorf("%w: %s must not be empty", ErrInvalidOption, OptName)
	}
	if cfg.cookieLifetime, err = secondsOpt(o, OptCookieLifetime); err != nil {
		return cfg, err
	}
	if cfg.cookiePath, err = stringOpt(o, OptCookiePath); err != nil {
		return cfg, err
	}
	if cfg.cookieDomain, err = stringOpt(o, OptCookieDomain); err != nil {
		return cfg, err
	}
	if cfg.cookieSecure, err = boolOpt(o, OptCookieSecure); err != nil {
		return cfg, err
	}
	if cfg.cookieHTTPOnly, err = boolOpt(o, OptCookieHTTPOnly); err != nil {
		return cfg, err
	}
	if cfg.sameSite, err = sameSiteOpt(o, OptCookieSameSite); err != nil {
		return cfg, err
	}
	if cfg.gcMaxLifetime, err = secondsOpt(o, OptGCMaxLifetime); err != nil {
		return cfg, err
	}
	if cfg.gcMaxLifetime <= 0 {
		return cfg, fmt.Errorf("%w: %s must be positive", ErrInvalidOption, OptGCMaxLifetime)
	}
	if cfg.strictMode, err = boolOpt(o, OptUseStrictMode); err != nil {
		return cfg, err
	}
	if cfg.useCookies, err = boolOpt(o, OptUseCookies); err != nil {
		return cfg, err
	}
	if cfg.lazyWrite, err = boolOpt(o, OptLazyWrite); err != nil {
		return cfg, err
	}
	if cfg.readAndClose, err = boolOpt(o, OptReadAndClose); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func stringOpt(o Options, key string) (string, error) {
	switch v := o[key].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidOption, key, v)
	}
}

func boolOpt(o Options, key string) (bool, error) {
	switch v := o[key].(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case int:
		return v != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "on", "yes":
			return true, nil
		case "", "0", "false", "off", "no":
			return false, nil
		}
	}
	return false, fmt.Errorf("%w: %s must be a boolean, got %v", ErrInvalidOption, key, o[key])
}

// maxSeconds is the largest second count a time.Duration can hold.
const maxSeconds = float64(math.MaxInt64 / int64(time.Second))

func secondsOpt(o Options, key string) (time.Duration, error) {
	var secs float64
	switch v := o[key].(type) {
	case nil:
		return 0, nil
	case time.Duration:
		if v < 0 {
			return 0, fmt.Errorf("%w: %s must be a non-negative duration", ErrInvalidOption, key)
		}
		return v, nil
	case int:
		secs = float64(v)
	case int32:
		secs = float64(v)
	case int64:
		secs = float64(v)
	case uint:
		secs = float64(v)
	case uint32:
		secs = float64(v)
	case uint64:
		secs = float64(v)
	case float32:
		secs = float64(v)
	case float64:
		secs = v
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			if d < 0 {
				return 0, fmt.Errorf("%w: %s must be a non-negative duration", ErrInvalidOption, key)
			}
			return d, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be seconds, got %q", ErrInvalidOption, key, v)
		}
		secs = f
	default:
		return 0, fmt.Errorf("%w: %s must be seconds, got %T", ErrInvalidOption, key, v)
	}
	if secs < 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, fmt.Errorf("%w: %s must be a non-negative number of seconds", ErrInvalidOption, key)
	}
	if secs > maxSeconds {
		return 0, fmt.Errorf("%w: %s exceeds %d seconds", ErrInvalidOption, key, int64(maxSeconds))
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func sameSiteOpt(o Options, key string) (http.SameSite, error) {
	s, err := stringOpt(o, key)
	if err != nil {
		return 0, err
	}
	switch strings.ToLower(s) {
	case "":
		return http.SameSiteDefaultMode, nil
	case "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("%w: %s must be Lax, Strict or None, got %q", ErrInvalidOption, key, s)
	}
}
