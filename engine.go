package apiguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/apiguard/apiguard/internal/credential"
	internalflows "github.com/apiguard/apiguard/internal/flows"
	"github.com/apiguard/apiguard/internal/limiters"
	"github.com/apiguard/apiguard/internal/rate"
	"github.com/apiguard/apiguard/keyhash"
)

// Engine is the gatekeeper. It issues keys, resolves presented secrets to
// stored records and enforces per-key quotas.
//
// Engine methods are safe for concurrent use once Build has returned.
type Engine struct {
	config   Config
	store    KeyStore
	codec    *credential.Codec
	hasher   keyhash.Hasher
	limiter  rate.Store
	closer   func()
	throttle limiters.Throttle
	lastUsed *lastUsedWriter
	audit    *auditDispatcher
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
	flows    internalflows.Deps[KeyRecord]
	closed   atomic.Bool
}

// Close drains the last-used queue and the audit queue and stops background
// workers. It is safe to call more than once.
func (e *Engine) Close() {
	if e == nil || !e.closed.CompareAndSwap(false, true) {
		return
	}
	e.lastUsed.Close()
	e.audit.Close()
	if e.closer != nil {
		e.closer()
	}
}

// AuditDropped returns the number of audit events dropped on a full queue.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// LastUsedDropped returns the number of last-used updates dropped on a full
// queue.
func (e *Engine) LastUsedDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.lastUsed.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() error {
	if e == nil || e.store == nil || e.closed.Load() {
		return ErrEngineNotReady
	}
	return nil
}

// GenerateCredential creates a fresh secret for env together with its lookup
// prefix and one-way hash. An empty env selects the default environment.
// Nothing is persisted.
func (e *Engine) GenerateCredential(env string) (GeneratedCredential, error) {
	if e == nil || e.codec == nil {
		return GeneratedCredential{}, ErrEngineNotReady
	}
	if env == "" {
		env = e.config.Credential.DefaultEnvironment
	}

	cred, err := e.codec.Generate(env)
	if err != nil {
		if errors.Is(err, credential.ErrUnknownEnvironment) {
			return GeneratedCredential{}, ErrInvalidEnvironment
		}
		return GeneratedCredential{}, err
	}

	hash, err := e.hasher.Hash(cred.Secret)
	if err != nil {
		return GeneratedCredential{}, fmt.Errorf("hash credential: %w", err)
	}

	return GeneratedCredential{
		Secret: cred.Secret,
		Prefix: cred.Prefix,
		Hash:   hash,
	}, nil
}

// Issue generates, hashes and stores a new key. The returned secret is the
// only copy; it cannot be recovered later.
func (e *Engine) Issue(ctx context.Context, req IssueRequest) (*IssuedKey, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.WorkspaceID) == "" || strings.TrimSpace(req.Name) == "" {
		return nil, ErrInvalidRequest
	}
	if req.RateLimit < 0 {
		return nil, ErrInvalidQuota
	}

	generated, err := e.GenerateCredential(req.Environment)
	if err != nil {
		return nil, err
	}

	record := KeyRecord{
		ID:          e.newID(),
		WorkspaceID: req.WorkspaceID,
		Name:        strings.TrimSpace(req.Name),
		Prefix:      generated.Prefix,
		Hash:        generated.Hash,
		Status:      StatusActive,
		RateLimit:   req.RateLimit,
		CreatedAt:   e.now().UTC(),
	}

	insertCtx, cancel := context.WithTimeout(ctx, e.config.Gatekeeper.BackendTimeout)
	stored, err := e.store.Insert(insertCtx, record)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.metricInc(MetricKeyIssued)
	e.emitAudit(ctx, AuditKeyIssued, true, &stored, nil, func() map[string]string {
		return map[string]string{"prefix": stored.Prefix}
	})

	return &IssuedKey{Secret: generated.Secret, Key: stored.Redacted()}, nil
}

// Revoke marks the key revoked. Revoking an already revoked key succeeds; an
// unknown id returns ErrKeyNotFound.
func (e *Engine) Revoke(ctx context.Context, id string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if id == "" {
		return ErrKeyNotFound
	}

	updateCtx, cancel := context.WithTimeout(ctx, e.config.Gatekeeper.BackendTimeout)
	err := e.store.UpdateStatus(updateCtx, id, StatusRevoked)
	cancel()
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidStatusTransition):
		return nil
	case errors.Is(err, ErrKeyNotFound):
		return ErrKeyNotFound
	default:
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.metricInc(MetricKeyRevoked)
	e.emitAudit(ctx, AuditKeyRevoked, true, &KeyRecord{ID: id}, nil, nil)
	return nil
}

// Resolve maps a presented secret to its stored record without checking
// status or quota. Malformed and unknown secrets both yield
// ErrInvalidCredential.
func (e *Engine) Resolve(ctx context.Context, secret string) (*KeyRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if secret == "" {
		return nil, ErrMissingCredential
	}

	result := internalflows.RunResolve(ctx, secret, e.flows.Resolve)
	if result.Failure != internalflows.FailureNone {
		return nil, e.failureError(result.Failure, result.Err, nil)
	}
	record := result.Record
	return &record, nil
}

// Authenticate runs the full gatekeeper pipeline for one request: resolve the
// secret, reject revoked keys, consult the limiter when the key carries a
// quota and schedule the last-used update on success.
//
// Rejections are reported through the package errors. A quota rejection is a
// *RateLimitError carrying the quota state. Collaborator failures and
// timeouts return ErrBackendUnavailable; the request must not be forwarded.
func (e *Engine) Authenticate(ctx context.Context, secret string) (*AuthResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	start := time.Now()
	result := internalflows.RunAuthenticate(ctx, secret, e.flows.Authenticate)
	e.metrics.ObserveAuth(time.Since(start))

	if result.Failure != internalflows.FailureNone {
		var record *KeyRecord
		if result.Failure == internalflows.FailureRevoked || result.Failure == internalflows.FailureQuotaExceeded {
			record = &result.Record
		}
		err := e.failureError(result.Failure, result.Err, result.Decision)
		e.recordRejection(ctx, result.Failure, record, err)
		return nil, err
	}

	out := &AuthResult{Key: result.Record.Redacted()}
	if result.Decision != nil {
		out.Quota = quotaFromDecision(*result.Decision)
	}

	e.metricInc(MetricAuthSuccess)
	e.emitAudit(ctx, AuditKeyAuthenticated, true, &result.Record, nil, nil)
	return out, nil
}

// Validate resolves secret and rejects revoked keys, without consulting the
// limiter. A successful validation counts as use of the key.
func (e *Engine) Validate(ctx context.Context, secret string) (*KeyRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	deps := e.flows.Authenticate
	deps.QuotaOf = func(KeyRecord) int { return Unlimited }

	result := internalflows.RunAuthenticate(ctx, secret, deps)
	if result.Failure != internalflows.FailureNone {
		var record *KeyRecord
		if result.Failure == internalflows.FailureRevoked {
			record = &result.Record
		}
		err := e.failureError(result.Failure, result.Err, nil)
		e.recordRejection(ctx, result.Failure, record, err)
		return nil, err
	}

	record := result.Record.Redacted()
	e.emitAudit(ctx, AuditKeyAuthenticated, true, &result.Record, nil, func() map[string]string {
		return map[string]string{"mode": "validate"}
	})
	return &record, nil
}

func (e *Engine) failureError(kind internalflows.FailureKind, cause error, decision *rate.Decision) error {
	switch kind {
	case internalflows.FailureMissingCredential:
		return ErrMissingCredential
	case internalflows.FailureInvalidCredential:
		return ErrInvalidCredential
	case internalflows.FailureThrottled:
		return ErrTooManyAttempts
	case internalflows.FailureRevoked:
		return ErrCredentialRevoked
	case internalflows.FailureQuotaExceeded:
		if decision == nil {
			return ErrQuotaExceeded
		}
		return &RateLimitError{Quota: *quotaFromDecision(*decision)}
	case internalflows.FailureBackendUnavailable:
		if cause == nil {
			return ErrBackendUnavailable
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, cause)
	default:
		return ErrEngineNotReady
	}
}

func (e *Engine) recordRejection(ctx context.Context, kind internalflows.FailureKind, record *KeyRecord, err error) {
	switch kind {
	case internalflows.FailureMissingCredential:
		e.metricInc(MetricAuthMissing)
	case internalflows.FailureInvalidCredential:
		e.metricInc(MetricAuthInvalid)
	case internalflows.FailureThrottled:
		e.metricInc(MetricAuthThrottled)
	case internalflows.FailureRevoked:
		e.metricInc(MetricAuthRevoked)
	case internalflows.FailureQuotaExceeded:
		e.metricInc(MetricAuthRateLimited)
		e.emitAudit(ctx, AuditRateLimited, false, record, err, nil)
		return
	case internalflows.FailureBackendUnavailable:
		e.metricInc(MetricBackendUnavailable)
		e.logger.WarnContext(ctx, "gatekeeper backend unavailable", slog.Any("error", err))
	}
	e.emitAudit(ctx, AuditKeyRejected, false, record, err, nil)
}

func quotaFromDecision(d rate.Decision) *Quota {
	return &Quota{
		Limit:     d.Limit,
		Remaining: d.Remaining,
		ResetAt:   d.ResetAt,
	}
}
