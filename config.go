package apiguard

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/apiguard/apiguard/keyhash"
	"golang.org/x/crypto/bcrypt"
)

// Config holds every engine tunable. Obtain defaults with DefaultConfig and
// override fields before passing it to Builder.WithConfig.
type Config struct {
	Credential CredentialConfig
	Hashing    HashingConfig
	RateLimit  RateLimitConfig
	Gatekeeper GatekeeperConfig
	LastUsed   LastUsedConfig
	Throttle   ThrottleConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
}

// CredentialConfig controls the key format. PrefixLength is the number of
// payload characters kept in the lookup prefix.
type CredentialConfig struct {
	Tag                string
	Environments       []string
	DefaultEnvironment string
	PayloadBytes       int
	PrefixLength       int
}

// HashAlgorithm selects how new keys are hashed.
type HashAlgorithm string

const (
	HashBcrypt   HashAlgorithm = "bcrypt"
	HashArgon2id HashAlgorithm = "argon2id"
)

// HashingConfig selects the one-way hash for new keys. Keys hashed with the
// other algorithm keep verifying.
type HashingConfig struct {
	Algorithm  HashAlgorithm
	BcryptCost int
	Argon2     keyhash.Argon2Config
}

// LimiterBackend selects where sliding-window state lives.
type LimiterBackend string

const (
	BackendRedis  LimiterBackend = "redis"
	BackendMemory LimiterBackend = "memory"
)

// RateLimitConfig controls the per-key sliding window.
type RateLimitConfig struct {
	Window        time.Duration
	KeyPrefix     string
	Backend       LimiterBackend
	SweepInterval time.Duration
}

// GatekeeperConfig bounds each collaborator round-trip. An expired timeout
// rejects the request.
type GatekeeperConfig struct {
	BackendTimeout time.Duration
}

// LastUsedConfig controls the asynchronous last-used writer.
type LastUsedConfig struct {
	Enabled      bool
	BufferSize   int
	WriteTimeout time.Duration
}

// ThrottleConfig controls the optional per-client-IP throttle on invalid keys.
type ThrottleConfig struct {
	Enabled     bool
	MaxFailures int
	Cooldown    time.Duration
	Backend     LimiterBackend
}

// AuditConfig controls the audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Credential: CredentialConfig{
			Tag:                "ag",
			Environments:       []string{"live", "test"},
			DefaultEnvironment: "live",
			PayloadBytes:       32,
			PrefixLength:       8,
		},
		Hashing: HashingConfig{
			Algorithm:  HashBcrypt,
			BcryptCost: keyhash.DefaultBcryptCost,
			Argon2:     keyhash.DefaultArgon2Config(),
		},
		RateLimit: RateLimitConfig{
			Window:        time.Hour,
			KeyPrefix:     "ratelimit",
			Backend:       BackendRedis,
			SweepInterval: time.Minute,
		},
		Gatekeeper: GatekeeperConfig{
			BackendTimeout: 2 * time.Second,
		},
		LastUsed: LastUsedConfig{
			Enabled:      true,
			BufferSize:   1024,
			WriteTimeout: 2 * time.Second,
		},
		Throttle: ThrottleConfig{
			Enabled:     false,
			MaxFailures: 20,
			Cooldown:    time.Minute,
			Backend:     BackendRedis,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.Credential.Environments != nil {
		out.Credential.Environments = append([]string(nil), cfg.Credential.Environments...)
	}
	return out
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	// Credential
	if c.Credential.Tag == "" || strings.Contains(c.Credential.Tag, "_") {
		return errors.New("Credential Tag must be non-empty and must not contain '_'")
	}
	if len(c.Credential.Environments) == 0 {
		return errors.New("Credential Environments must not be empty")
	}
	longestEnv := 0
	defaultKnown := false
	for _, env := range c.Credential.Environments {
		if env == "" || strings.Contains(env, "_") {
			return fmt.Errorf("Credential environment %q is invalid", env)
		}
		if env == c.Credential.DefaultEnvironment {
			defaultKnown = true
		}
		if len(env) > longestEnv {
			longestEnv = len(env)
		}
	}
	if !defaultKnown {
		return errors.New("Credential DefaultEnvironment must be one of Environments")
	}
	if c.Credential.PayloadBytes < 24 {
		return errors.New("Credential PayloadBytes must be >= 24")
	}
	payloadLen := base64.RawURLEncoding.EncodedLen(c.Credential.PayloadBytes)
	if c.Credential.PrefixLength <= 0 || c.Credential.PrefixLength >= payloadLen {
		return fmt.Errorf("Credential PrefixLength must be in [1, %d)", payloadLen)
	}

	// Hashing
	switch c.Hashing.Algorithm {
	case HashBcrypt:
		if c.Hashing.BcryptCost < bcrypt.MinCost || c.Hashing.BcryptCost > bcrypt.MaxCost {
			return fmt.Errorf("Hashing BcryptCost must be in [%d, %d]", bcrypt.MinCost, bcrypt.MaxCost)
		}
		secretLen := len(c.Credential.Tag) + 1 + longestEnv + 1 + payloadLen
		if secretLen > keyhash.MaxBcryptInput {
			return fmt.Errorf("bcrypt consumes at most %d bytes; credentials would be %d bytes", keyhash.MaxBcryptInput, secretLen)
		}
	case HashArgon2id:
		if _, err := keyhash.NewArgon2(c.Hashing.Argon2); err != nil {
			return fmt.Errorf("Hashing Argon2: %w", err)
		}
	default:
		return errors.New("unsupported Hashing Algorithm")
	}

	// RateLimit
	if c.RateLimit.Window < time.Second {
		return errors.New("RateLimit Window must be >= 1s")
	}
	if c.RateLimit.Backend != BackendRedis && c.RateLimit.Backend != BackendMemory {
		return errors.New("RateLimit Backend must be redis or memory")
	}
	if c.RateLimit.Backend == BackendRedis && c.RateLimit.KeyPrefix == "" {
		return errors.New("RateLimit KeyPrefix must not be empty")
	}
	if c.RateLimit.SweepInterval < 0 {
		return errors.New("RateLimit SweepInterval must be >= 0")
	}

	// Gatekeeper
	if c.Gatekeeper.BackendTimeout <= 0 {
		return errors.New("Gatekeeper BackendTimeout must be > 0")
	}

	// LastUsed
	if c.LastUsed.Enabled {
		if c.LastUsed.BufferSize <= 0 {
			return errors.New("LastUsed BufferSize must be > 0")
		}
		if c.LastUsed.WriteTimeout <= 0 {
			return errors.New("LastUsed WriteTimeout must be > 0")
		}
	}

	// Throttle
	if c.Throttle.Enabled {
		if c.Throttle.MaxFailures <= 0 {
			return errors.New("Throttle MaxFailures must be > 0")
		}
		if c.Throttle.Cooldown <= 0 {
			return errors.New("Throttle Cooldown must be > 0")
		}
		if c.Throttle.Backend != BackendRedis && c.Throttle.Backend != BackendMemory {
			return errors.New("Throttle Backend must be redis or memory")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}
