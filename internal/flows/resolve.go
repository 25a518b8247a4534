package flows

import (
	"context"
	"time"
)

// FailureKind classifies gatekeeper failures for root-level mapping.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureMissingCredential
	FailureInvalidCredential
	FailureThrottled
	FailureRevoked
	FailureQuotaExceeded
	FailureBackendUnavailable
)

// ResolveDeps captures the collaborators of credential resolution. R is the
// host's stored record type.
type ResolveDeps[R any] struct {
	PrefixOf       func(secret string) (string, error)
	FindByPrefix   func(ctx context.Context, prefix string) ([]R, error)
	HashOf         func(R) string
	Verify         func(secret, encoded string) (bool, error)
	BackendTimeout time.Duration

	// CheckThrottle and RecordFailure are optional.
	CheckThrottle func(ctx context.Context) (throttled bool, err error)
	RecordFailure func(ctx context.Context)
	OnVerifyError func(R, error)
}

// ResolveResult carries either the matched record or a classified failure.
type ResolveResult[R any] struct {
	Failure FailureKind
	Err     error
	Record  R
}

// RunResolve narrows stored records by prefix and verifies the presented
// secret against each candidate until one matches. Structural rejection and
// "no candidate verifies" yield the same FailureInvalidCredential.
func RunResolve[R any](ctx context.Context, secret string, deps ResolveDeps[R]) ResolveResult[R] {
	if deps.CheckThrottle != nil {
		throttled, err := deps.CheckThrottle(ctx)
		if err != nil {
			return ResolveResult[R]{Failure: FailureBackendUnavailable, Err: err}
		}
		if throttled {
			return ResolveResult[R]{Failure: FailureThrottled}
		}
	}

	prefix, err := deps.PrefixOf(secret)
	if err != nil {
		deps.recordFailure(ctx)
		return ResolveResult[R]{Failure: FailureInvalidCredential, Err: err}
	}

	lookupCtx, cancel := withTimeout(ctx, deps.BackendTimeout)
	candidates, err := deps.FindByPrefix(lookupCtx, prefix)
	cancel()
	if err != nil {
		return ResolveResult[R]{Failure: FailureBackendUnavailable, Err: err}
	}

	for _, candidate := range candidates {
		ok, err := deps.Verify(secret, deps.HashOf(candidate))
		if err != nil {
			if deps.OnVerifyError != nil {
				deps.OnVerifyError(candidate, err)
			}
			continue
		}
		if ok {
			return ResolveResult[R]{Record: candidate}
		}
	}

	deps.recordFailure(ctx)
	return ResolveResult[R]{Failure: FailureInvalidCredential}
}

func (d ResolveDeps[R]) recordFailure(ctx context.Context) {
	if d.RecordFailure != nil {
		d.RecordFailure(ctx)
	}
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
