package apiguard

import (
	"errors"
	"net/http"
	"strconv"
)

var (
	// ErrMissingCredential is returned when no API key was presented.
	ErrMissingCredential = errors.New("missing API key")
	// ErrInvalidCredential covers both structurally malformed keys and keys
	// that match no stored record. The two are never distinguished.
	ErrInvalidCredential = errors.New("invalid API key")
	// ErrCredentialRevoked is returned for a key whose status is revoked.
	ErrCredentialRevoked = errors.New("API key has been revoked")
	// ErrQuotaExceeded is returned when the key's request quota is exhausted.
	// The concrete error is a *RateLimitError.
	ErrQuotaExceeded = errors.New("rate limit exceeded")
	// ErrTooManyAttempts is returned when a client presented too many invalid keys.
	ErrTooManyAttempts = errors.New("too many invalid API key attempts")
	// ErrBackendUnavailable is returned when the key store or limiter store
	// failed or timed out. The gatekeeper fails closed on it.
	ErrBackendUnavailable = errors.New("gatekeeper backend unavailable")
	// ErrKeyNotFound is returned by management operations for an unknown key id.
	ErrKeyNotFound = errors.New("API key not found")
	// ErrInvalidStatusTransition is returned by stores for any transition other
	// than active to revoked.
	ErrInvalidStatusTransition = errors.New("invalid API key status transition")
	// ErrInvalidEnvironment is returned when issuing a key for an unknown environment.
	ErrInvalidEnvironment = errors.New("invalid API key environment")
	// ErrInvalidQuota is returned for a negative rate limit.
	ErrInvalidQuota = errors.New("invalid rate limit")
	// ErrInvalidRequest is returned for an issuance request missing required fields.
	ErrInvalidRequest = errors.New("invalid API key request")
	// ErrWorkspaceNotFound is returned for unknown workspaces and for
	// workspaces the caller does not own. The two are never distinguished.
	ErrWorkspaceNotFound = errors.New("workspace not found or access denied")
	// ErrSlugTaken is returned when a workspace slug is already in use.
	ErrSlugTaken = errors.New("slug already taken")
	// ErrEngineNotReady is returned by methods on a nil or closed Engine.
	ErrEngineNotReady = errors.New("engine not ready")
)

// RateLimitError reports a quota rejection together with the quota state the
// caller needs for its rate headers.
type RateLimitError struct {
	Quota Quota
}

func (e *RateLimitError) Error() string {
	return "rate limit exceeded; resets at " + strconv.FormatInt(e.Quota.ResetUnix(), 10)
}

func (e *RateLimitError) Unwrap() error {
	return ErrQuotaExceeded
}

// StatusCode maps a gatekeeper error to its HTTP status. unavailable is the
// status used for ErrBackendUnavailable, normally 503.
func StatusCode(err error, unavailable int) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrMissingCredential), errors.Is(err, ErrInvalidCredential):
		return http.StatusUnauthorized
	case errors.Is(err, ErrCredentialRevoked):
		return http.StatusForbidden
	case errors.Is(err, ErrQuotaExceeded), errors.Is(err, ErrTooManyAttempts):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrBackendUnavailable):
		if unavailable == 0 {
			return http.StatusServiceUnavailable
		}
		return unavailable
	case errors.Is(err, ErrKeyNotFound), errors.Is(err, ErrWorkspaceNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrSlugTaken),
		errors.Is(err, ErrInvalidEnvironment),
		errors.Is(err, ErrInvalidQuota),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrInvalidStatusTransition):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message safe to show to callers for err.
func PublicMessage(err error) string {
	switch {
	case errors.Is(err, ErrMissingCredential):
		return "Missing API key"
	case errors.Is(err, ErrInvalidCredential):
		return "Invalid API key"
	case errors.Is(err, ErrCredentialRevoked):
		return "API key has been revoked"
	case errors.Is(err, ErrQuotaExceeded):
		return "Rate limit exceeded"
	case errors.Is(err, ErrTooManyAttempts):
		return "Too many invalid API key attempts"
	case errors.Is(err, ErrBackendUnavailable):
		return "Service temporarily unavailable"
	case errors.Is(err, ErrKeyNotFound):
		return "API key not found or access denied"
	case errors.Is(err, ErrWorkspaceNotFound):
		return "Workspace not found or access denied"
	case errors.Is(err, ErrSlugTaken):
		return "Slug already taken"
	case errors.Is(err, ErrInvalidEnvironment),
		errors.Is(err, ErrInvalidQuota),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrInvalidStatusTransition):
		return err.Error()
	default:
		return "Internal server error"
	}
}
