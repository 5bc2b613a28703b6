package warden

import (
	"context"
	"errors"
	"fmt"
)

// checkPasswordPolicy enforces the configured byte-length bounds. The
// argon2 hasher applies its own hard floor independently.
func (e *Engine) checkPasswordPolicy(password string) error {
	if len(password) < e.config.Password.MinLength {
		return ErrPasswordPolicy
	}
	if max := e.config.Password.MaxPasswordBytes; max > 0 && len(password) > max {
		return ErrPasswordPolicy
	}
	return nil
}

// ChangePassword describes the changepassword operation and its observable behavior.
//
// ChangePassword may return an error when input validation, dependency calls, or security checks fail.
// ChangePassword does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if e == nil || e.hasher == nil || e.users == nil {
		return ErrEngineNotReady
	}

	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if !user.Active {
		if user.PendingDeletion() {
			return &PendingDeletionError{DeleteBy: user.DeleteBy}
		}
		return ErrUserNotFound
	}

	if !user.HasPassword() {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, user.ID, "", ErrPasswordNotEnabled, func() map[string]string {
			return map[string]string{
				"reason": "password_not_enabled",
			}
		})
		return ErrPasswordNotEnabled
	}

	// A wrong current password here does not feed the login lockout
	// counter; the caller already holds an authenticated session.
	ok, err := e.hasher.Verify(oldPassword, user.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, user.ID, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{
				"reason": "old_password_mismatch",
			}
		})
		return ErrInvalidCredentials
	}
	oldPassword = ""

	if err := e.checkPasswordPolicy(newPassword); err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, user.ID, "", err, func() map[string]string {
			return map[string]string{
				"reason": "password_policy",
			}
		})
		return err
	}

	if same, err := e.hasher.Verify(newPassword, user.PasswordHash); err == nil && same {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, user.ID, "", ErrPasswordPolicy, func() map[string]string {
			return map[string]string{
				"reason": "password_reuse",
			}
		})
		return ErrPasswordPolicy
	}

	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, user.ID, "", ErrPasswordPolicy, func() map[string]string {
			return map[string]string{
				"reason": "hash_policy",
			}
		})
		return ErrPasswordPolicy
	}
	newPassword = ""

	if _, err := e.users.Update(ctx, user.ID, UserPatch{PasswordHash: &newHash}); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	e.dispatchMail(ctx, "security_notice", user.ID, user.Email, func(ctx context.Context) error {
		return e.mailer.SendSecurityNotice(ctx, user.Email, "password_changed")
	})

	// Every active session rides on the old credential; cut them all. The
	// password change itself already landed, so a revocation failure is
	// reported alongside, not instead.
	revoked := 0
	if e.tokens != nil {
		revoked, err = e.tokens.RevokeAllForUser(ctx, user.ID)
		if err != nil {
			e.metricInc(MetricPasswordChangeSuccess)
			e.emitAudit(ctx, auditEventPasswordChangeSuccess, false, user.ID, "", ErrSessionRevocationFailed, func() map[string]string {
				return map[string]string{
					"reason": "revocation_failed",
				}
			})
			return errors.Join(ErrSessionRevocationFailed, err)
		}
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, user.ID, "", nil, func() map[string]string {
		return map[string]string{
			"tokens_revoked": fmt.Sprintf("%d", revoked),
		}
	})

	return nil
}

// SetPassword describes the setpassword operation and its observable behavior.
//
// SetPassword may return an error when input validation, dependency calls, or security checks fail.
// SetPassword does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) SetPassword(ctx context.Context, userID, newPassword string) (User, error) {
	if e == nil || e.hasher == nil || e.users == nil {
		return User{}, ErrEngineNotReady
	}

	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if !user.Active {
		if user.PendingDeletion() {
			return User{}, &PendingDeletionError{DeleteBy: user.DeleteBy}
		}
		return User{}, ErrUserNotFound
	}

	if user.HasPassword() {
		return User{}, ErrPasswordAlreadySet
	}

	if err := e.checkPasswordPolicy(newPassword); err != nil {
		return User{}, err
	}

	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return User{}, ErrPasswordPolicy
	}
	newPassword = ""

	updated, err := e.users.Update(ctx, user.ID, UserPatch{PasswordHash: &newHash})
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	e.dispatchMail(ctx, "security_notice", user.ID, user.Email, func(ctx context.Context) error {
		return e.mailer.SendSecurityNotice(ctx, user.Email, "password_set")
	})

	e.emitAudit(ctx, auditEventPasswordSet, true, updated.ID, "", nil, nil)

	return updated, nil
}
