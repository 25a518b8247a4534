package apiguard

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/apiguard/apiguard/internal/credential"
	"github.com/apiguard/apiguard/internal/limiters"
	"github.com/apiguard/apiguard/internal/rate"
	"github.com/apiguard/apiguard/keyhash"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder is single use.
type Builder struct {
	config    Config
	redis     redis.UniversalClient
	store     KeyStore
	auditSink AuditSink
	logger    *slog.Logger
	clock     func() time.Time
	entropy   io.Reader

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used by the redis limiter and throttle backends.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithKeyStore sets the persistence collaborator. It is required.
func (b *Builder) WithKeyStore(store KeyStore) *Builder {
	b.store = store
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces time.Now for limiter decisions, timestamps and
// last-used updates.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithEntropy replaces crypto/rand as the credential randomness source.
// Only tests should use it.
func (b *Builder) WithEntropy(r io.Reader) *Builder {
	b.entropy = r
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and starts the background workers.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.store == nil {
		return nil, errors.New("key store required")
	}
	if b.redis == nil {
		if cfg.RateLimit.Backend == BackendRedis {
			return nil, errors.New("RateLimit Backend redis requires redis client")
		}
		if cfg.Throttle.Enabled && cfg.Throttle.Backend == BackendRedis {
			return nil, errors.New("Throttle Backend redis requires redis client")
		}
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	// -------- CREDENTIAL CODEC --------
	codec, err := credential.New(credential.Config{
		Tag:          cfg.Credential.Tag,
		Environments: cfg.Credential.Environments,
		PayloadBytes: cfg.Credential.PayloadBytes,
		PrefixLength: cfg.Credential.PrefixLength,
	}, b.entropy)
	if err != nil {
		return nil, err
	}

	// -------- HASHER --------
	var primary keyhash.Hasher
	switch cfg.Hashing.Algorithm {
	case HashArgon2id:
		primary, err = keyhash.NewArgon2(cfg.Hashing.Argon2)
	default:
		primary, err = keyhash.NewBcrypt(cfg.Hashing.BcryptCost)
	}
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config: cfg,
		store:  b.store,
		codec:  codec,
		hasher: keyhash.NewAuto(primary),
		logger: logger,
		now:    clock,
		newID:  uuid.NewString,
	}

	// -------- LIMITER --------
	switch cfg.RateLimit.Backend {
	case BackendMemory:
		mem := rate.NewMemoryStore(cfg.RateLimit.SweepInterval)
		engine.limiter = mem
		engine.closer = mem.Close
	default:
		engine.limiter = rate.NewRedisStore(b.redis, cfg.RateLimit.KeyPrefix)
	}

	// -------- THROTTLE --------
	if cfg.Throttle.Enabled {
		tcfg := limiters.ThrottleConfig{
			MaxFailures: cfg.Throttle.MaxFailures,
			Cooldown:    cfg.Throttle.Cooldown,
		}
		if cfg.Throttle.Backend == BackendMemory {
			engine.throttle = limiters.NewLocalThrottle(tcfg, clock)
		} else {
			engine.throttle = limiters.NewRedisThrottle(b.redis, tcfg)
		}
	}

	engine.metrics = NewMetrics(cfg.Metrics)
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.lastUsed = newLastUsedWriter(cfg.LastUsed, b.store, logger, engine.metrics)
	engine.flows = engine.buildFlowDeps()

	b.built = true

	return engine, nil
}
