package apiguard

import (
	"context"
	"errors"
	"log/slog"
	"time"

	internalflows "github.com/apiguard/apiguard/internal/flows"
	"github.com/apiguard/apiguard/internal/limiters"
)

func (e *Engine) buildFlowDeps() internalflows.Deps[KeyRecord] {
	resolve := internalflows.ResolveDeps[KeyRecord]{
		PrefixOf:       e.codec.PrefixOf,
		FindByPrefix:   e.store.FindByPrefix,
		HashOf:         func(r KeyRecord) string { return r.Hash },
		Verify:         e.hasher.Verify,
		BackendTimeout: e.config.Gatekeeper.BackendTimeout,
		OnVerifyError: func(r KeyRecord, err error) {
			e.logger.Warn("stored key hash could not be verified",
				slog.String("key_id", r.ID),
				slog.Any("error", err),
			)
		},
	}
	if e.throttle != nil {
		resolve.CheckThrottle = e.checkThrottle
		resolve.RecordFailure = e.recordThrottleFailure
	}

	authenticate := internalflows.AuthenticateDeps[KeyRecord]{
		Resolve: func(ctx context.Context, secret string) internalflows.ResolveResult[KeyRecord] {
			return internalflows.RunResolve(ctx, secret, resolve)
		},
		IsRevoked:      func(r KeyRecord) bool { return r.Status != StatusActive },
		QuotaOf:        func(r KeyRecord) int { return max(r.RateLimit, Unlimited) },
		SubjectOf:      func(r KeyRecord) string { return r.ID },
		Limiter:        e.limiter,
		Window:         e.config.RateLimit.Window,
		BackendTimeout: e.config.Gatekeeper.BackendTimeout,
		Now:            e.now,
		Touch: func(r KeyRecord, at time.Time) {
			e.lastUsed.Touch(r.ID, at)
		},
	}

	return internalflows.Deps[KeyRecord]{
		Resolve:      resolve,
		Authenticate: authenticate,
	}
}

func (e *Engine) checkThrottle(ctx context.Context) (bool, error) {
	ip := clientIPFromContext(ctx)
	if ip == "" {
		return false, nil
	}
	checkCtx, cancel := context.WithTimeout(ctx, e.config.Gatekeeper.BackendTimeout)
	defer cancel()

	err := e.throttle.Check(checkCtx, ip)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, limiters.ErrThrottled):
		return true, nil
	default:
		return false, err
	}
}

func (e *Engine) recordThrottleFailure(ctx context.Context) {
	ip := clientIPFromContext(ctx)
	if ip == "" {
		return
	}
	recordCtx, cancel := context.WithTimeout(ctx, e.config.Gatekeeper.BackendTimeout)
	defer cancel()

	if err := e.throttle.RecordFailure(recordCtx, ip); err != nil {
		e.logger.WarnContext(ctx, "throttle failure not recorded", slog.String("ip", ip), slog.Any("error", err))
	}
}
