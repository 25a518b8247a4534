package credential

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// Ellipsis terminates every prefix.
	Ellipsis = "..."

	separator       = "_"
	minPayloadBytes = 24
)

var (
	// ErrMalformed reports a secret that does not match the structural format.
	ErrMalformed = errors.New("malformed credential")
	// ErrUnknownEnvironment reports an environment outside the configured set.
	ErrUnknownEnvironment = errors.New("unknown credential environment")
)

// Config controls the credential format.
type Config struct {
	Tag          string
	Environments []string
	PayloadBytes int
	PrefixLength int
}

// Credential is a freshly generated secret with its derived prefix.
type Credential struct {
	Secret      string
	Prefix      string
	Environment string
}

// Parsed is the structural decomposition of a presented secret.
type Parsed struct {
	Environment string
	Payload     string
}

// Codec generates and parses credentials. It is safe for concurrent use when
// the entropy reader is.
type Codec struct {
	tag          string
	envs         map[string]struct{}
	payloadBytes int
	payloadLen   int
	prefixLen    int
	entropy      io.Reader
}

// New validates cfg and returns a Codec reading randomness from entropy.
// A nil entropy reader selects crypto/rand.
func New(cfg Config, entropy io.Reader) (*Codec, error) {
	if cfg.Tag == "" || strings.Contains(cfg.Tag, separator) {
		return nil, errors.New("credential tag must be non-empty and must not contain '_'")
	}
	if len(cfg.Environments) == 0 {
		return nil, errors.New("at least one credential environment is required")
	}
	if cfg.PayloadBytes < minPayloadBytes {
		return nil, fmt.Errorf("credential payload must carry at least %d random bytes", minPayloadBytes)
	}

	payloadLen := base64.RawURLEncoding.EncodedLen(cfg.PayloadBytes)
	if cfg.PrefixLength <= 0 || cfg.PrefixLength >= payloadLen {
		return nil, fmt.Errorf("credential prefix length must be in [1, %d)", payloadLen)
	}

	envs := make(map[string]struct{}, len(cfg.Environments))
	for _, env := range cfg.Environments {
		if env == "" || strings.Contains(env, separator) {
			return nil, fmt.Errorf("invalid credential environment %q", env)
		}
		envs[env] = struct{}{}
	}

	if entropy == nil {
		entropy = rand.Reader
	}

	return &Codec{
		tag:          cfg.Tag,
		envs:         envs,
		payloadBytes: cfg.PayloadBytes,
		payloadLen:   payloadLen,
		prefixLen:    cfg.PrefixLength,
		entropy:      entropy,
	}, nil
}

// Generate draws a new secret for env.
func (c *Codec) Generate(env string) (Credential, error) {
	if _, ok := c.envs[env]; !ok {
		return Credential{}, fmt.Errorf("%w: %q", ErrUnknownEnvironment, env)
	}

	raw := make([]byte, c.payloadBytes)
	if _, err := io.ReadFull(c.entropy, raw); err != nil {
		return Credential{}, fmt.Errorf("read entropy: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(raw)

	return Credential{
		Secret:      c.scope(env) + payload,
		Prefix:      c.Prefix(env, payload),
		Environment: env,
	}, nil
}

// Parse splits secret into environment and payload. Any deviation from the
// format returns ErrMalformed.
func (c *Codec) Parse(secret string) (Parsed, error) {
	tag, rest, ok := strings.Cut(secret, separator)
	if !ok || tag != c.tag {
		return Parsed{}, ErrMalformed
	}

	env, payload, ok := strings.Cut(rest, separator)
	if !ok {
		return Parsed{}, ErrMalformed
	}
	if _, known := c.envs[env]; !known {
		return Parsed{}, ErrMalformed
	}

	if len(payload) != c.payloadLen {
		return Parsed{}, ErrMalformed
	}
	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil || len(decoded) != c.payloadBytes {
		return Parsed{}, ErrMalformed
	}

	return Parsed{Environment: env, Payload: payload}, nil
}

// Prefix applies the truncation rule to an already split credential.
func (c *Codec) Prefix(env, payload string) string {
	n := c.prefixLen
	if n > len(payload) {
		n = len(payload)
	}
	return c.scope(env) + payload[:n] + Ellipsis
}

// PrefixOf parses secret and returns its prefix.
func (c *Codec) PrefixOf(secret string) (string, error) {
	parsed, err := c.Parse(secret)
	if err != nil {
		return "", err
	}
	return c.Prefix(parsed.Environment, parsed.Payload), nil
}

// SecretLength returns the byte length of every secret for env.
func (c *Codec) SecretLength(env string) int {
	return len(c.scope(env)) + c.payloadLen
}

// MaxSecretLength returns the longest secret any configured environment yields.
func (c *Codec) MaxSecretLength() int {
	longest := 0
	for env := range c.envs {
		if n := c.SecretLength(env); n > longest {
			longest = n
		}
	}
	return longest
}

func (c *Codec) scope(env string) string {
	return c.tag + separator + env + separator
}
