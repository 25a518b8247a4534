package apiguard

import (
	"context"
	"errors"
)

// AuditErrorCode is the stable error label written to audit events.
type AuditErrorCode string

const (
	auditErrMissing     AuditErrorCode = "missing_credential"
	auditErrInvalid     AuditErrorCode = "invalid_credential"
	auditErrRevoked     AuditErrorCode = "revoked"
	auditErrRateLimited AuditErrorCode = "rate_limited"
	auditErrThrottled   AuditErrorCode = "throttled"
	auditErrUnavailable AuditErrorCode = "backend_unavailable"
	auditErrNotFound    AuditErrorCode = "not_found"
	auditErrInternal    AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	key *KeyRecord,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if key != nil {
		event.KeyID = key.ID
		event.WorkspaceID = key.WorkspaceID
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrMissingCredential):
		return auditErrMissing
	case errors.Is(err, ErrInvalidCredential):
		return auditErrInvalid
	case errors.Is(err, ErrCredentialRevoked):
		return auditErrRevoked
	case errors.Is(err, ErrQuotaExceeded):
		return auditErrRateLimited
	case errors.Is(err, ErrTooManyAttempts):
		return auditErrThrottled
	case errors.Is(err, ErrBackendUnavailable):
		return auditErrUnavailable
	case errors.Is(err, ErrKeyNotFound):
		return auditErrNotFound
	default:
		return auditErrInternal
	}
}
