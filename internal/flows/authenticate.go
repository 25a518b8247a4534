package flows

import (
	"context"
	"time"

	"github.com/apiguard/apiguard/internal/rate"
)

// AuthenticateDeps captures the per-request gatekeeper pipeline.
type AuthenticateDeps[R any] struct {
	Resolve        func(ctx context.Context, secret string) ResolveResult[R]
	IsRevoked      func(R) bool
	QuotaOf        func(R) int
	SubjectOf      func(R) string
	Limiter        rate.Store
	Window         time.Duration
	BackendTimeout time.Duration
	Now            func() time.Time
	// Touch schedules the last-used update. It must not block.
	Touch func(R, time.Time)
}

// AuthenticateResult returns the admitted record and, when a quota applies,
// the limiter decision. Decision is also set on FailureQuotaExceeded.
type AuthenticateResult[R any] struct {
	Failure  FailureKind
	Err      error
	Record   R
	Decision *rate.Decision
}

// RunAuthenticate executes extract → resolve → status → quota → forward.
func RunAuthenticate[R any](ctx context.Context, secret string, deps AuthenticateDeps[R]) AuthenticateResult[R] {
	if secret == "" {
		return AuthenticateResult[R]{Failure: FailureMissingCredential}
	}

	resolved := deps.Resolve(ctx, secret)
	if resolved.Failure != FailureNone {
		return AuthenticateResult[R]{Failure: resolved.Failure, Err: resolved.Err}
	}
	record := resolved.Record

	if deps.IsRevoked(record) {
		return AuthenticateResult[R]{Failure: FailureRevoked, Record: record}
	}

	now := deps.Now()
	limit := deps.QuotaOf(record)
	if limit <= 0 {
		deps.Touch(record, now)
		return AuthenticateResult[R]{Record: record}
	}

	checkCtx, cancel := withTimeout(ctx, deps.BackendTimeout)
	decision, err := deps.Limiter.Check(checkCtx, deps.SubjectOf(record), limit, deps.Window, now)
	cancel()
	if err != nil {
		return AuthenticateResult[R]{Failure: FailureBackendUnavailable, Err: err, Record: record}
	}
	if !decision.Allowed {
		return AuthenticateResult[R]{Failure: FailureQuotaExceeded, Record: record, Decision: &decision}
	}

	deps.Touch(record, now)
	return AuthenticateResult[R]{Record: record, Decision: &decision}
}
