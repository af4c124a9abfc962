package portalAuth

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/portalAuth/profile"
)

const (
	auditEventSignInSuccess        = "sign_in_success"
	auditEventSignInFailure        = "sign_in_failure"
	auditEventSignUpSuccess        = "sign_up_success"
	auditEventSignUpDuplicate      = "sign_up_duplicate"
	auditEventSignUpBlocked        = "sign_up_blocked"
	auditEventSignOut              = "sign_out"
	auditEventProfileResolved      = "profile_resolved"
	auditEventProfileSeeded        = "profile_seeded"
	auditEventProfileDegraded      = "profile_degraded"
	auditEventProfileUpdateSuccess = "profile_update_success"
	auditEventProfileUpdateFailure = "profile_update_failure"
	auditEventRoleReassigned       = "role_reassigned"
	auditEventRoleReassignFailure  = "role_reassign_failure"
	auditEventResolutionDiscarded  = "resolution_discarded"
)

// AuditErrorCode is the stable error label written into audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrInvalidRole        AuditErrorCode = "invalid_role"
	auditErrInvalidRequest     AuditErrorCode = "invalid_request"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrNoActiveUser       AuditErrorCode = "no_active_user"
	auditErrEmailCheck         AuditErrorCode = "email_check_unavailable"
	auditErrResolution         AuditErrorCode = "resolution_failed"
	auditErrUpdate             AuditErrorCode = "update_failed"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrTimeout            AuditErrorCode = "timeout"
	auditErrInternal           AuditErrorCode = "internal_error"
)

// auditSubject names who an audit event is about.
type auditSubject struct {
	userID    string
	email     string
	role      profile.Role
	sessionID string
	epoch     uint64
}

func subjectOf(sess *Session, epoch uint64) auditSubject {
	s := auditSubject{epoch: epoch}
	if sess == nil {
		return s
	}
	s.sessionID = sess.ID
	s.userID = sess.Subject
	if sess.Identity != nil {
		s.email = sess.Identity.Email
	}
	return s
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	subject auditSubject,
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
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    subject.userID,
		Email:     subject.email,
		Role:      string(subject.role),
		SessionID: subject.sessionID,
		Epoch:     subject.epoch,
		Success:   success,
		Metadata:  metadata,
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
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrSignInRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrDuplicateAccount):
		return auditErrDuplicate
	case errors.Is(err, ErrInvalidRole),
		errors.Is(err, profile.ErrInvalidRole):
		return auditErrInvalidRole
	case errors.Is(err, ErrInvalidRequest):
		return auditErrInvalidRequest
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrNoActiveUser):
		return auditErrNoActiveUser
	case errors.Is(err, ErrEmailCheckUnavailable):
		return auditErrEmailCheck
	case errors.Is(err, context.DeadlineExceeded):
		return auditErrTimeout
	case errors.Is(err, ErrProfileResolutionFailed):
		return auditErrResolution
	case errors.Is(err, ErrProfileUpdateFailed):
		return auditErrUpdate
	case errors.Is(err, ErrGatewayUnavailable),
		errors.Is(err, profile.ErrStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
