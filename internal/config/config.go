package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenPort      string        // ex: ":8085"
	ShutdownTimeout time.Duration // ex: 5s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	RegistryFile      string        // JSON file holding the service definitions
	MarkerFile        string        // active-services marker (empty = disabled)
	SeedFile          string        // optional YAML imported when the registry is empty
	ReconcileInterval time.Duration // how often the registry is re-applied (default: 10s)
	StopGrace         time.Duration // how long a stopping service may take (default: 5s)
	GCInterval        time.Duration // interval to prune orphaned messages (default: 1h)

	// Redis (optional, empty address = no mirror)
	RedisAddr             string        // ex: "localhost:6379"
	RedisUser             string        // optional
	RedisPassword         string        // optional
	RedisPasswordRequired bool          // true => refuse to start without a password
	RedisDB               int           // Redis DB number
	RedisDT               time.Duration // Redis dial timeout (ex: 5s)
	RedisRT               time.Duration // Redis read timeout (ex: 3s)
	RedisWT               time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait          time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout      time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize         int           // Redis connection pool size
	RedisConnectTimeout   time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval    time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold    int           // warn after this many attempts
	RedisMessageTTL       time.Duration // expiry of mirrored messages (default: 7 days)

	AllowedCIDRS        []string // optional, restrict the control API (e.g. "10.0.0.0/8, 127.0.0.1")
	TrustProxy          bool     // true => trust X-Forwarded-For headers
	APIRateBurst        int      // mutating API calls a client may burst (default: 30)
	APIRateRefillPerMin int      // mutating API calls regained per minute (default: 120)
}

func Load() *Config {
	return &Config{
		// Server settings
		ListenPort:      getenv("SWITCHBOARD_LISTEN_PORT", ":8085"),
		ShutdownTimeout: mustDuration("SWITCHBOARD_SHUTDOWN_TIMEOUT", 5*time.Second),

		// Logging
		LogLevel:  getenv("SWITCHBOARD_LOG_LEVEL", "info"),
		PrettyLog: mustBool("SWITCHBOARD_PRETTY_LOG", true),

		// Services
		RegistryFile:      getenv("SWITCHBOARD_REGISTRY_FILE", "services.json"),
		MarkerFile:        getenv("SWITCHBOARD_MARKER_FILE", "active-services.tsv"),
		SeedFile:          getenv("SWITCHBOARD_SEED_FILE", ""),
		ReconcileInterval: mustDuration("SWITCHBOARD_RECONCILE_INTERVAL", 10*time.Second),
		StopGrace:         mustDuration("SWITCHBOARD_STOP_GRACE", 5*time.Second),
		GCInterval:        mustDuration("SWITCHBOARD_GC_INTERVAL", time.Hour),

		// Redis settings
		RedisAddr:             getenv("SWITCHBOARD_REDIS_ADDR", ""),
		RedisUser:             getenv("SWITCHBOARD_REDIS_USERNAME", ""),
		RedisPassword:         getenv("SWITCHBOARD_REDIS_PASSWORD", ""),
		RedisPasswordRequired: mustBool("SWITCHBOARD_REDIS_PASSWORD_REQUIRED", false),
		RedisDB:               getenvInt("SWITCHBOARD_REDIS_DB", 0),
		RedisDT:               mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:               mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:               mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:          mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:      mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:         getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout:   mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:    mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:    getenvInt("REDIS_WARN_THRESHOLD", 3),
		RedisMessageTTL:       mustDuration("SWITCHBOARD_REDIS_MESSAGE_TTL", 7*24*time.Hour),

		// Access restrictions
		AllowedCIDRS:        splitAndTrim(getenv("SWITCHBOARD_ALLOWED_CIDRS", "")),
		TrustProxy:          mustBool("SWITCHBOARD_TRUST_PROXY", false),
		APIRateBurst:        getenvInt("SWITCHBOARD_API_RATE_BURST", 30),
		APIRateRefillPerMin: getenvInt("SWITCHBOARD_API_RATE_REFILL_PER_MIN", 120),
	}
}

// RedisEnabled reports whether a Redis mirror is configured.
func (c *Config) RedisEnabled() bool { return c.RedisAddr != "" }

// Validate rejects settings the app cannot run with.
func (c *Config) Validate() error {
	var errs []error

	positive := map[string]time.Duration{
		"SWITCHBOARD_SHUTDOWN_TIMEOUT":   c.ShutdownTimeout,
		"SWITCHBOARD_RECONCILE_INTERVAL": c.ReconcileInterval,
		"SWITCHBOARD_STOP_GRACE":         c.StopGrace,
		"SWITCHBOARD_GC_INTERVAL":        c.GCInterval,
	}
	for key, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", key, d))
		}
	}

	if strings.TrimSpace(c.RegistryFile) == "" {
		errs = append(errs, errors.New("SWITCHBOARD_REGISTRY_FILE must not be empty"))
	}
	if c.RedisEnabled() && c.RedisPasswordRequired && c.RedisPassword == "" {
		errs = append(errs, errors.New("SWITCHBOARD_REDIS_PASSWORD is required when SWITCHBOARD_REDIS_PASSWORD_REQUIRED=true"))
	}
	if _, err := ParsePrefixes(c.AllowedCIDRS); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Redacted returns a copy safe to log.
func (c *Config) Redacted() Config {
	cp := *c
	if cp.RedisPassword != "" {
		cp.RedisPassword = "***REDACTED***"
	}
	if cp.RedisUser != "" {
		cp.RedisUser = "***REDACTED***"
	}
	return cp
}

// ParsePrefixes turns a list of CIDRs or bare addresses into prefixes. A bare
// address becomes a single-host prefix.
func ParsePrefixes(entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("SWITCHBOARD_ALLOWED_CIDRS: invalid prefix %q: %w", e, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("SWITCHBOARD_ALLOWED_CIDRS: invalid address %q: %w", e, err)
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
