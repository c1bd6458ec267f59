package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/lockout"
	"github.com/MrEthical07/authcore/oauth"
	"github.com/MrEthical07/authcore/session"
)

// AuditEvent is one security-relevant record emitted by the engine.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's dispatcher goroutine.
type AuditSink = audit.Sink

const (
	auditEventRegisterSuccess    = "register_success"
	auditEventRegisterFailure    = "register_failure"
	auditEventLoginSuccess       = "login_success"
	auditEventLoginFailure       = "login_failure"
	auditEventLockoutTriggered   = "lockout_triggered"
	auditEventRefreshSuccess     = "refresh_success"
	auditEventRefreshInvalid     = "refresh_invalid"
	auditEventLogoutSession      = "logout_session"
	auditEventFederatedStart     = "federated_start"
	auditEventFederatedSuccess   = "federated_success"
	auditEventFederatedFailure   = "federated_failure"
	auditEventPasswordRehashed   = "password_rehashed"
	auditEventBackendUnavailable = "backend_unavailable"
)

// AuditErrorCode is the short cause written into AuditEvent.Error. Unlike the
// error returned to callers it may distinguish refusal reasons.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrSessionNotFound    AuditErrorCode = "session_not_found"
	auditErrSessionExpired     AuditErrorCode = "session_expired"
	auditErrSessionRevoked     AuditErrorCode = "session_revoked"
	auditErrRefreshMismatch    AuditErrorCode = "refresh_mismatch"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrInvalidState       AuditErrorCode = "invalid_state"
	auditErrIdentityRejected   AuditErrorCode = "identity_rejected"
	auditErrValidation         AuditErrorCode = "validation"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	identityID string,
	sessionID string,
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
	if ua := userAgentFromContext(ctx); ua != "" {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["user_agent"] = ua
	}

	event := AuditEvent{
		Timestamp:  e.now().UTC(),
		EventType:  eventType,
		IdentityID: identityID,
		SessionID:  sessionID,
		IP:         clientIPFromContext(ctx),
		Success:    success,
		Metadata:   metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	// The dispatcher must not be starved by a caller that already gave up.
	e.audit.Emit(context.WithoutCancel(ctx), event)
}

// auditErrorCode reads the internal cause, which may sit underneath a
// taxonomy error.
func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, lockout.ErrLocked):
		return auditErrAccountLocked
	case errors.Is(err, session.ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, session.ErrSessionExpired):
		return auditErrSessionExpired
	case errors.Is(err, session.ErrSessionRevoked):
		return auditErrSessionRevoked
	case errors.Is(err, session.ErrRefreshHashMismatch):
		return auditErrRefreshMismatch
	case errors.Is(err, session.ErrMalformedToken),
		errors.Is(err, jwt.ErrInvalidToken):
		return auditErrInvalidToken
	case errors.Is(err, oauth.ErrInvalidState):
		return auditErrInvalidState
	case errors.Is(err, oauth.ErrIdentityRejected):
		return auditErrIdentityRejected
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrConflict):
		return auditErrDuplicate
	case errors.Is(err, ErrServiceUnavailable):
		return auditErrUnavailable
	case errors.Is(err, ErrUnauthenticated):
		return auditErrInvalidCredentials
	default:
		return auditErrInternal
	}
}
