// Package config reads the apiguard server settings from APIGUARD_*
// environment variables, optionally seeded from .env files.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/apiguard/apiguard"
)

// StoreDriver selects the key store.
type StoreDriver string

const (
	StoreMemory   StoreDriver = "memory"
	StoreSQLite   StoreDriver = "sqlite"
	StorePostgres StoreDriver = "postgres"
)

// Settings is the full server configuration.
type Settings struct {
	Addr            string
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration

	Store       StoreDriver
	DatabaseURL string
	RedisURL    string

	JWTSecret string
	JWTTTL    time.Duration
	JWTIssuer string

	UnavailableStatus int
	TrustForwardedFor bool

	LogLevel  slog.Level
	LogFormat string

	// OTelLogInterval, when positive, mirrors the engine counters through an
	// OpenTelemetry meter whose points are logged at this interval.
	OTelLogInterval time.Duration

	Engine apiguard.Config
}

// Lookup has the signature of os.LookupEnv.
type Lookup func(key string) (string, bool)

// FromEnv loads dotenv files and reads the process environment.
func FromEnv(dotenvPaths ...string) (Settings, error) {
	LoadDotEnv(dotenvPaths...)
	return Load(os.LookupEnv)
}

// Load builds Settings from lookup on top of the defaults.
func Load(lookup Lookup) (Settings, error) {
	s := Settings{
		Addr:            ":8080",
		ShutdownTimeout: 10 * time.Second,
		RequestTimeout:  30 * time.Second,
		Store:           StoreMemory,
		JWTTTL:          time.Hour,
		JWTIssuer:       "apiguard",
		LogLevel:        slog.LevelInfo,
		LogFormat:       "json",
		Engine:          apiguard.DefaultConfig(),
	}
	r := reader{lookup: lookup}

	s.Addr = r.str("APIGUARD_ADDR", s.Addr)
	s.ShutdownTimeout = r.duration("APIGUARD_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.RequestTimeout = r.duration("APIGUARD_REQUEST_TIMEOUT", s.RequestTimeout)

	s.Store = StoreDriver(strings.ToLower(r.str("APIGUARD_STORE", string(s.Store))))
	s.DatabaseURL = r.str("APIGUARD_DATABASE_URL", "")
	s.RedisURL = r.str("APIGUARD_REDIS_URL", "")

	s.JWTSecret = r.str("APIGUARD_JWT_SECRET", "")
	s.JWTTTL = r.duration("APIGUARD_JWT_TTL", s.JWTTTL)
	s.JWTIssuer = r.str("APIGUARD_JWT_ISSUER", s.JWTIssuer)

	s.UnavailableStatus = r.integer("APIGUARD_UNAVAILABLE_STATUS", 503)
	s.TrustForwardedFor = r.boolean("APIGUARD_TRUST_FORWARDED_FOR", false)

	s.LogFormat = strings.ToLower(r.str("APIGUARD_LOG_FORMAT", s.LogFormat))
	if v, ok := lookup("APIGUARD_LOG_LEVEL"); ok {
		if err := s.LogLevel.UnmarshalText([]byte(v)); err != nil {
			r.fail("APIGUARD_LOG_LEVEL", err)
		}
	}

	s.OTelLogInterval = r.duration("APIGUARD_OTEL_LOG_INTERVAL", 0)

	e := &s.Engine
	e.Credential.Tag = r.str("APIGUARD_KEY_TAG", e.Credential.Tag)
	if v := r.str("APIGUARD_KEY_ENVIRONMENTS", ""); v != "" {
		e.Credential.Environments = splitList(v)
	}
	e.Credential.DefaultEnvironment = r.str("APIGUARD_KEY_DEFAULT_ENV", e.Credential.DefaultEnvironment)
	e.Credential.PrefixLength = r.integer("APIGUARD_KEY_PREFIX_LENGTH", e.Credential.PrefixLength)

	e.Hashing.Algorithm = apiguard.HashAlgorithm(r.str("APIGUARD_HASH_ALGORITHM", string(e.Hashing.Algorithm)))
	e.Hashing.BcryptCost = r.integer("APIGUARD_BCRYPT_COST", e.Hashing.BcryptCost)

	e.RateLimit.Window = r.duration("APIGUARD_RATE_WINDOW", e.RateLimit.Window)
	e.RateLimit.Backend = apiguard.LimiterBackend(r.str("APIGUARD_LIMITER_BACKEND", string(e.RateLimit.Backend)))
	e.RateLimit.KeyPrefix = r.str("APIGUARD_LIMITER_KEY_PREFIX", e.RateLimit.KeyPrefix)

	e.Gatekeeper.BackendTimeout = r.duration("APIGUARD_BACKEND_TIMEOUT", e.Gatekeeper.BackendTimeout)

	e.LastUsed.Enabled = r.boolean("APIGUARD_LAST_USED_ENABLED", e.LastUsed.Enabled)
	e.LastUsed.BufferSize = r.integer("APIGUARD_LAST_USED_BUFFER", e.LastUsed.BufferSize)

	e.Throttle.Enabled = r.boolean("APIGUARD_THROTTLE_ENABLED", e.Throttle.Enabled)
	e.Throttle.MaxFailures = r.integer("APIGUARD_THROTTLE_MAX_FAILURES", e.Throttle.MaxFailures)
	e.Throttle.Cooldown = r.duration("APIGUARD_THROTTLE_COOLDOWN", e.Throttle.Cooldown)
	e.Throttle.Backend = apiguard.LimiterBackend(r.str("APIGUARD_THROTTLE_BACKEND", string(e.Throttle.Backend)))

	e.Audit.Enabled = r.boolean("APIGUARD_AUDIT_ENABLED", e.Audit.Enabled)
	e.Metrics.Enabled = r.boolean("APIGUARD_METRICS_ENABLED", e.Metrics.Enabled)
	e.Metrics.EnableLatencyHistograms = r.boolean("APIGUARD_METRICS_LATENCY", e.Metrics.EnableLatencyHistograms)

	if len(r.errs) > 0 {
		return Settings{}, errors.Join(r.errs...)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks cross-field requirements the engine cannot see.
func (s Settings) Validate() error {
	switch s.Store {
	case StoreMemory:
	case StoreSQLite, StorePostgres:
		if s.DatabaseURL == "" {
			return fmt.Errorf("APIGUARD_DATABASE_URL is required for store %q", s.Store)
		}
	default:
		return fmt.Errorf("unknown APIGUARD_STORE %q", s.Store)
	}

	needsRedis := s.Engine.RateLimit.Backend == apiguard.BackendRedis ||
		(s.Engine.Throttle.Enabled && s.Engine.Throttle.Backend == apiguard.BackendRedis)
	if needsRedis && s.RedisURL == "" {
		return errors.New("APIGUARD_REDIS_URL is required for the redis limiter backend")
	}

	if len(s.JWTSecret) < 32 {
		return errors.New("APIGUARD_JWT_SECRET must be at least 32 bytes")
	}
	if s.UnavailableStatus < 400 || s.UnavailableStatus > 599 {
		return fmt.Errorf("APIGUARD_UNAVAILABLE_STATUS %d is not an error status", s.UnavailableStatus)
	}
	if s.OTelLogInterval < 0 {
		return errors.New("APIGUARD_OTEL_LOG_INTERVAL must not be negative")
	}
	if s.OTelLogInterval > 0 && !s.Engine.Metrics.Enabled {
		return errors.New("APIGUARD_OTEL_LOG_INTERVAL requires APIGUARD_METRICS_ENABLED")
	}
	if s.LogFormat != "json" && s.LogFormat != "text" {
		return fmt.Errorf("APIGUARD_LOG_FORMAT must be json or text, got %q", s.LogFormat)
	}

	return s.Engine.Validate()
}

type reader struct {
	lookup Lookup
	errs   []error
}

func (r *reader) fail(key string, err error) {
	r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
}

func (r *reader) str(key, def string) string {
	if v, ok := r.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) integer(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return n
}

func (r *reader) boolean(key string, def bool) bool {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return b
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
