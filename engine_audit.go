package warden

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventLoginSuccess              = "login_success"
	auditEventLoginFailure              = "login_failure"
	auditEventAccountAutoLocked         = "account_auto_locked"
	auditEventRefreshSuccess            = "refresh_success"
	auditEventRefreshInvalid            = "refresh_invalid"
	auditEventRefreshReuseDetected      = "refresh_reuse_detected"
	auditEventLogoutSession             = "logout_session"
	auditEventLogoutAll                 = "logout_all"
	auditEventSessionRevoked            = "session_revoked"
	auditEventRegisterSuccess           = "register_success"
	auditEventRegisterFailure           = "register_failure"
	auditEventPasswordChangeSuccess     = "password_change_success"
	auditEventPasswordChangeFailure     = "password_change_failure"
	auditEventPasswordSet               = "password_set"
	auditEventPasswordResetRequest      = "password_reset_request"
	auditEventPasswordResetConfirm      = "password_reset_confirm"
	auditEventEmailVerificationRequest  = "email_verification_request"
	auditEventEmailVerificationConfirm  = "email_verification_confirm"
	auditEventAccountDeactivated        = "account_deactivated"
	auditEventAccountReactivated        = "account_reactivated"
	auditEventPasskeyRegistered         = "passkey_registered"
	auditEventPasskeyRemoved            = "passkey_removed"
	auditEventPasskeyLoginSuccess       = "passkey_login_success"
	auditEventPasskeyLoginFailure       = "passkey_login_failure"
	auditEventOAuthLoginSuccess         = "oauth_login_success"
	auditEventOAuthLoginFailure         = "oauth_login_failure"
	auditEventOAuthAccountProvisioned   = "oauth_account_provisioned"
	auditEventOAuthIdentityLinked       = "oauth_identity_linked"
	auditEventOAuthIdentityUnlinked     = "oauth_identity_unlinked"
	auditEventOAuthIdentityLinkRejected = "oauth_identity_link_rejected"
)

// AuditErrorCode defines a public type used by warden APIs.
//
// AuditErrorCode instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditErrorCode string

const (
	auditErrInvalidCredentials  AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked       AuditErrorCode = "account_locked"
	auditErrPendingDeletion     AuditErrorCode = "account_pending_deletion"
	auditErrEmailNotVerified    AuditErrorCode = "email_not_verified"
	auditErrTokenExpired        AuditErrorCode = "token_expired"
	auditErrInvalidToken        AuditErrorCode = "invalid_token"
	auditErrUserNotFound        AuditErrorCode = "user_not_found"
	auditErrInvalidEmail        AuditErrorCode = "invalid_email"
	auditErrDuplicate           AuditErrorCode = "duplicate"
	auditErrPasswordAlreadySet  AuditErrorCode = "password_already_set"
	auditErrPasswordNotEnabled  AuditErrorCode = "password_not_enabled"
	auditErrPasswordPolicy      AuditErrorCode = "password_policy"
	auditErrPasskeyChallenge    AuditErrorCode = "passkey_challenge_expired"
	auditErrPasskeyNotFound     AuditErrorCode = "passkey_not_found"
	auditErrPasskeyVerification AuditErrorCode = "passkey_verification_failed"
	auditErrIdentityLinked      AuditErrorCode = "identity_already_linked"
	auditErrLastAuthMethod      AuditErrorCode = "last_auth_method"
	auditErrUnavailable         AuditErrorCode = "backend_unavailable"
	auditErrInternal            AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	tokenID string,
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
		UserID:    userID,
		TokenID:   tokenID,
		IP:        clientIPFromContext(ctx),
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
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrAccountPendingDeletion):
		return auditErrPendingDeletion
	case errors.Is(err, ErrEmailNotVerified):
		return auditErrEmailNotVerified
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrInvalidEmail):
		return auditErrInvalidEmail
	case errors.Is(err, ErrDuplicateEmail),
		errors.Is(err, ErrStoreDuplicate):
		return auditErrDuplicate
	case errors.Is(err, ErrPasswordAlreadySet):
		return auditErrPasswordAlreadySet
	case errors.Is(err, ErrPasswordNotEnabled):
		return auditErrPasswordNotEnabled
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrPasskeyChallengeExpired):
		return auditErrPasskeyChallenge
	case errors.Is(err, ErrPasskeyNotFound):
		return auditErrPasskeyNotFound
	case errors.Is(err, ErrPasskeyVerificationFailed):
		return auditErrPasskeyVerification
	case errors.Is(err, ErrOAuthAlreadyLinked):
		return auditErrIdentityLinked
	case errors.Is(err, ErrCannotUnlinkOnlyAuthMethod):
		return auditErrLastAuthMethod
	case errors.Is(err, ErrStorageUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
