package warden

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/wardenkit/warden/jwt"
)

// RequestPasswordReset describes the requestpasswordreset operation and its observable behavior.
//
// RequestPasswordReset may return an error when input validation, dependency calls, or security checks fail.
// RequestPasswordReset does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RequestPasswordReset(ctx context.Context, email, callbackURL string) error {
	if e == nil || e.users == nil || e.jwtManager == nil {
		return ErrEngineNotReady
	}

	email = NormalizeEmail(email)
	if email == "" {
		return ErrInvalidEmail
	}

	user, err := e.users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrStoreNotFound) {
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		// Unknown addresses get the same answer as known ones.
		e.metricInc(MetricPasswordResetRequest)
		e.emitAudit(ctx, auditEventPasswordResetRequest, true, "", "", nil, func() map[string]string {
			return map[string]string{
				"identifier":       email,
				"enumeration_safe": "true",
			}
		})
		return nil
	}

	// Inactive and passwordless accounts answer identically to unknown
	// ones; only the audit trail records the difference.
	if !user.Active || !user.HasPassword() {
		e.metricInc(MetricPasswordResetRequest)
		e.emitAudit(ctx, auditEventPasswordResetRequest, true, user.ID, "", nil, func() map[string]string {
			return map[string]string{
				"identifier": email,
				"noop":       "not_resettable",
			}
		})
		return nil
	}

	if callbackURL != "" {
		token, err := e.jwtManager.CreatePurpose(user.ID, user.Email, jwt.PurposePasswordReset, e.config.Verification.ResetTokenTTL)
		if err != nil {
			log.Print("warden: reset token generation failed")
		} else {
			link := embedToken(callbackURL, token)
			e.dispatchMail(ctx, "password_reset", user.ID, user.Email, func(ctx context.Context) error {
				return e.mailer.SendPasswordResetEmail(ctx, user.Email, link)
			})
		}
	}

	e.metricInc(MetricPasswordResetRequest)
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, user.ID, "", nil, func() map[string]string {
		return map[string]string{
			"identifier": email,
		}
	})
	return nil
}

// ResetPassword describes the resetpassword operation and its observable behavior.
//
// ResetPassword may return an error when input validation, dependency calls, or security checks fail.
// ResetPassword does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) (User, error) {
	if e == nil || e.hasher == nil || e.users == nil || e.jwtManager == nil {
		return User{}, ErrEngineNotReady
	}

	claims, err := e.jwtManager.ParsePurpose(token, jwt.PurposePasswordReset)
	if err != nil {
		mapped := ErrTokenInvalid
		if errors.Is(err, jwt.ErrExpired) {
			mapped = ErrTokenExpired
		}
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, "", "", mapped, func() map[string]string {
			return map[string]string{
				"reason": "parse_failed",
			}
		})
		return User{}, mapped
	}

	user, err := e.users.FindByID(ctx, claims.Subject)
	if err != nil {
		if !errors.Is(err, ErrStoreNotFound) {
			return User{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, claims.Subject, "", ErrUserNotFound, nil)
		return User{}, ErrUserNotFound
	}

	if NormalizeEmail(claims.Email) != user.Email {
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, user.ID, "", ErrTokenInvalid, func() map[string]string {
			return map[string]string{
				"reason": "stale_email",
			}
		})
		return User{}, ErrTokenInvalid
	}

	if !user.Active {
		if user.PendingDeletion() {
			return User{}, &PendingDeletionError{DeleteBy: user.DeleteBy}
		}
		return User{}, ErrUserNotFound
	}

	if !user.HasPassword() {
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, user.ID, "", ErrPasswordNotEnabled, func() map[string]string {
			return map[string]string{
				"reason": "password_not_enabled",
			}
		})
		return User{}, ErrPasswordNotEnabled
	}

	if err := e.checkPasswordPolicy(newPassword); err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, user.ID, "", err, func() map[string]string {
			return map[string]string{
				"reason": "password_policy",
			}
		})
		return User{}, err
	}

	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, user.ID, "", ErrPasswordPolicy, func() map[string]string {
			return map[string]string{
				"reason": "hash_policy",
			}
		})
		return User{}, ErrPasswordPolicy
	}
	newPassword = ""

	if _, err := e.users.Update(ctx, user.ID, UserPatch{PasswordHash: &newHash}); err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	// Whoever held the reset link owns the account again; stale lockout
	// state must not keep them out.
	updated, err := e.users.ResetFailedLogins(ctx, user.ID)
	if err != nil {
		log.Print("warden: lockout reset after password reset failed")
		updated = user
		updated.PasswordHash = newHash
	}

	e.dispatchMail(ctx, "security_notice", user.ID, user.Email, func(ctx context.Context) error {
		return e.mailer.SendSecurityNotice(ctx, user.Email, "password_reset")
	})

	if e.tokens != nil {
		if _, err := e.tokens.RevokeAllForUser(ctx, user.ID); err != nil {
			e.metricInc(MetricPasswordResetConfirmSuccess)
			e.emitAudit(ctx, auditEventPasswordResetConfirm, false, user.ID, "", ErrSessionRevocationFailed, func() map[string]string {
				return map[string]string{
					"reason": "revocation_failed",
				}
			})
			return updated, errors.Join(ErrSessionRevocationFailed, err)
		}
	}

	e.metricInc(MetricPasswordResetConfirmSuccess)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, updated.ID, "", nil, nil)
	return updated, nil
}
